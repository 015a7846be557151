package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer recovers from panics, logs them with the stack and answers
// 500 {"error":"internal server error"}.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return RecoverWith(logger, "internal server error")
}

// RecoverWith is Recoverer with a route-specific error message.
func RecoverWith(logger *slog.Logger, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logger.Error("panic recovered",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)

				writeJSONError(w, http.StatusInternalServerError, message)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
