package analytics

import "strings"

// Device is a coarse device class derived from a user agent.
type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
	DeviceDesktop Device = "desktop"
)

// ClassifyDevice maps a user agent to a device class.
// This is a substring heuristic, not a full UA parse: "Mobile" is checked
// before "Tablet", and anything else (including an empty UA) is desktop.
func ClassifyDevice(userAgent string) Device {
	switch {
	case strings.Contains(userAgent, "Mobile"):
		return DeviceMobile
	case strings.Contains(userAgent, "Tablet"):
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// DeviceBreakdown counts user agents per device class.
func DeviceBreakdown(userAgents []string) map[string]int64 {
	breakdown := make(map[string]int64)
	for _, ua := range userAgents {
		breakdown[string(ClassifyDevice(ua))]++
	}
	return breakdown
}
