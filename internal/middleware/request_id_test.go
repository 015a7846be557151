package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID_RejectsUnsafeIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{"newline", "abc\nlevel=ERROR"},
		{"space", "abc def"},
		{"too long", strings.Repeat("a", 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header[RequestIDHeader] = []string{tt.id}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if seen == tt.id || len(seen) != 36 {
				t.Errorf("request id = %q, want a fresh UUID", seen)
			}
		})
	}
}

func TestRequestID_TraceID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"explicit header", map[string]string{TraceIDHeader: "trace-1"}, "trace-1"},
		{"traceparent", map[string]string{TraceparentHeader: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}, "4bf92f3577b34da6a3ce929d0e0e4736"},
		{"explicit wins", map[string]string{
			TraceIDHeader:     "trace-2",
			TraceparentHeader: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		}, "trace-2"},
		{"unknown version", map[string]string{TraceparentHeader: "ff-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}, ""},
		{"none", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetTraceID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen != tt.want {
				t.Errorf("trace id = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get(TraceIDHeader); got != tt.want {
				t.Errorf("%s header = %q, want %q", TraceIDHeader, got, tt.want)
			}
		})
	}
}
