package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cardfolio/cardfolio/internal/config"
	"github.com/cardfolio/cardfolio/internal/handler"
	"github.com/cardfolio/cardfolio/internal/middleware"
)

type routerDeps struct {
	cfg       *config.Config
	logger    *slog.Logger
	root      *handler.Handler
	health    *handler.HealthHandler
	analytics *handler.AnalyticsHandler
	track     *handler.TrackHandler
	limiter   middleware.IPRateLimiter
	metrics   http.Handler
}

// newRouter configures the chi router with all routes and middleware.
func newRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	r.Get("/", d.root.Hello)
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if origins := d.cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: origins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
				ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
				MaxAge:         int((10 * time.Minute).Seconds()),
			}))
		}

		r.With(middleware.RecoverWith(d.logger, "Failed to fetch analytics data")).
			Get("/analytics", d.analytics.GetAnalytics)

		r.Route("/track", func(r chi.Router) {
			r.Use(middleware.RateLimitIP(middleware.RateLimitConfig{
				Logger:  d.logger,
				Limiter: d.limiter,
				Enabled: d.cfg.RateLimitTrackEnabled,
				Bucket:  "track",
				RPS:     d.cfg.RateLimitTrackRPS,
				Burst:   d.cfg.RateLimitTrackBurst,
			}))
			r.Post("/view", d.track.TrackView)
			r.Post("/social-click", d.track.TrackSocialClick)
		})
	})

	r.NotFound(d.root.NotFound)
	r.MethodNotAllowed(d.root.MethodNotAllowed)

	return r
}
