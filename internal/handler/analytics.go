package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cardfolio/cardfolio/internal/analytics"
	"github.com/cardfolio/cardfolio/internal/metrics"
	"github.com/cardfolio/cardfolio/internal/middleware"
	"github.com/cardfolio/cardfolio/internal/model"
)

// Aggregator builds analytics reports.
type Aggregator interface {
	Aggregate(ctx context.Context, q analytics.Query) (*model.AnalyticsResult, error)
}

// AnalyticsHandler handles analytics API requests.
type AnalyticsHandler struct {
	svc     Aggregator
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(svc Aggregator, logger *slog.Logger, recorder metrics.Recorder) *AnalyticsHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AnalyticsHandler{
		svc:     svc,
		logger:  logger.With("component", "handler.analytics"),
		metrics: recorder,
	}
}

// GetAnalytics handles GET /api/analytics?userId=&period=.
func (h *AnalyticsHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	query := analytics.Query{
		UserID: r.URL.Query().Get("userId"),
		Period: r.URL.Query().Get("period"),
	}

	result, err := h.svc.Aggregate(r.Context(), query)
	if err != nil {
		h.handleError(w, r, query, err)
		return
	}

	h.metrics.IncAnalyticsRequest("ok")
	writeJSON(w, http.StatusOK, result)
}

func (h *AnalyticsHandler) handleError(w http.ResponseWriter, r *http.Request, q analytics.Query, err error) {
	switch {
	case errors.Is(err, analytics.ErrUserIDRequired):
		h.metrics.IncAnalyticsRequest("bad_request")
		writeError(w, http.StatusBadRequest, "User ID is required")

	case errors.Is(err, analytics.ErrNoProfiles):
		h.metrics.IncAnalyticsRequest("not_found")
		writeError(w, http.StatusNotFound, "No profiles found")

	default:
		h.metrics.IncAnalyticsRequest("error")
		h.logger.ErrorContext(r.Context(), "analytics request failed",
			"user_id", q.UserID,
			"period", q.Period,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Failed to fetch analytics data")
	}
}
