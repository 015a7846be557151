package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const readinessTimeout = 3 * time.Second

// HealthChecker is anything that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps map[string]HealthChecker
}

// NewHealthHandler probes PostgreSQL and Redis. A nil checker is
// reported as "not configured" and does not fail readiness.
func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{deps: map[string]HealthChecker{
		"postgres": db,
		"redis":    cache,
	}}
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Healthz reports that the process is serving. GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version})
}

// Readyz pings every dependency concurrently and answers 503 if any of
// them fails. GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		checks  = make(map[string]string, len(h.deps))
	)
	for name, dep := range h.deps {
		if dep == nil {
			checks[name] = "not configured"
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := dep.Ping(ctx); err != nil {
				status = "error: " + err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[name] = status
			if status != "ok" {
				healthy = false
			}
		}()
	}
	wg.Wait()

	resp := HealthResponse{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
