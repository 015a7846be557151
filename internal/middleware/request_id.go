// Package middleware provides the HTTP middleware chain of the API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
	// TraceIDHeader carries an upstream trace id.
	TraceIDHeader = "X-Trace-ID"
	// TraceparentHeader is the W3C trace context header.
	TraceparentHeader = "traceparent"

	maxRequestIDLength = 64
)

// RequestID stores a request id, and a trace id when one arrives, in the
// request context and echoes them as response headers. Inbound ids that
// are too long or contain characters outside [A-Za-z0-9._-] are replaced
// with a fresh UUID so they cannot forge log lines.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validID(requestID) {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set(RequestIDHeader, requestID)

		if traceID := inboundTraceID(r); traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
			w.Header().Set(TraceIDHeader, traceID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetTraceID returns the trace id stored by RequestID, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// inboundTraceID prefers X-Trace-ID and falls back to the trace-id field
// of a version 00 traceparent header.
func inboundTraceID(r *http.Request) string {
	if id := r.Header.Get(TraceIDHeader); validID(id) {
		return id
	}
	parts := strings.Split(r.Header.Get(TraceparentHeader), "-")
	if len(parts) == 4 && parts[0] == "00" && len(parts[1]) == 32 && validID(parts[1]) {
		return parts[1]
	}
	return ""
}

func validID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
