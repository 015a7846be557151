// Package handler provides HTTP request handlers.
package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cardfolio/cardfolio/internal/handler/dto"
)

// Version is reported by the service info and liveness endpoints.
const Version = "0.1.0"

// Handler serves the service info and fallback routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Hello reports the service name and version.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "Cardfolio analytics",
		"version": Version,
	}
	writeJSON(w, http.StatusOK, response)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details ...string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Details: details})
}

// clientIP extracts the viewer address. Values that do not parse as an
// IP are dropped so a forged header cannot poison stored rows.
func clientIP(r *http.Request) string {
	candidates := []string{
		r.Header.Get("CF-Connecting-IP"),
		firstForwarded(r.Header.Get("X-Forwarded-For")),
		r.Header.Get("X-Real-IP"),
		hostOnly(r.RemoteAddr),
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if ip := net.ParseIP(c); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func firstForwarded(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return first
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
