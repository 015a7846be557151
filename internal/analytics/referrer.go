package analytics

import (
	"net/url"
	"strings"

	"github.com/cardfolio/cardfolio/internal/model"
)

// Referrer categories that are not taken from the rule table.
const (
	ReferrerDirect = "direct"
	ReferrerOther  = "other"
)

// referrerRule maps a referrer to a category when the lower-cased
// referrer contains one of names, or its hostname is one of hosts or a
// subdomain of one. Platform names also catch app referrers such as
// android-app://com.instagram.android/.
type referrerRule struct {
	category string
	names    []string
	hosts    []string
}

// referrerRules is evaluated in order; the first matching rule wins.
// Order matters where patterns overlap textually: "mail.google.com" must
// land on google before the generic mail bucket is reached.
var referrerRules = []referrerRule{
	{category: "instagram", names: []string{"instagram"}},
	{category: "linkedin", names: []string{"linkedin", "lnkd.in"}},
	{category: "twitter", names: []string{"twitter"}, hosts: []string{"x.com", "t.co"}},
	{category: "facebook", names: []string{"facebook"}, hosts: []string{"fb.com", "fb.me"}},
	{category: "tiktok", names: []string{"tiktok"}},
	{category: "youtube", names: []string{"youtube", "youtu.be"}},
	{category: "github", names: []string{"github"}},
	{category: "google", names: []string{"google."}},
	{category: "whatsapp", names: []string{"whatsapp"}, hosts: []string{"wa.me"}},
	{category: "telegram", names: []string{"telegram"}, hosts: []string{"t.me"}},
	{category: "reddit", names: []string{"reddit"}},
	{category: "dribbble", names: []string{"dribbble"}},
	{category: "behance", names: []string{"behance"}},
	{category: "snapchat", names: []string{"snapchat"}},
	{category: "discord", names: []string{"discord"}},
	{category: "twitch", names: []string{"twitch"}},
	{category: "pinterest", names: []string{"pinterest"}},
	{category: "safari", names: []string{"safari", "apple"}},
	{category: "email", names: []string{"gmail", "mail."}},
}

func (r referrerRule) matches(lower, host string) bool {
	for _, name := range r.names {
		if strings.Contains(lower, name) {
			return true
		}
	}
	if host == "" {
		return false
	}
	for _, h := range r.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// ClassifyReferrer maps a view to exactly one referrer category.
//
// An explicit source tag other than "direct" always wins. An empty
// referrer is direct traffic. Otherwise the referrer is matched against
// the rule table, then falls back to its hostname without "www.", and
// finally to "other" when it cannot be parsed.
func ClassifyReferrer(referrer, source string) string {
	if source != "" && source != ReferrerDirect {
		return source
	}

	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ReferrerDirect
	}

	lower := strings.ToLower(referrer)
	var host string
	parsed, err := url.Parse(lower)
	if err == nil {
		host = parsed.Hostname()
	}

	for _, rule := range referrerRules {
		if rule.matches(lower, host) {
			return rule.category
		}
	}

	if host == "" {
		return ReferrerOther
	}
	return strings.TrimPrefix(host, "www.")
}

// ReferrerBreakdown counts views per referrer category.
func ReferrerBreakdown(rows []model.ReferrerSource) map[string]int64 {
	breakdown := make(map[string]int64)
	for _, row := range rows {
		breakdown[ClassifyReferrer(deref(row.Referrer), deref(row.Source))]++
	}
	return breakdown
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
