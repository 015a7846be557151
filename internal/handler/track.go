package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/cardfolio/cardfolio/internal/handler/dto"
	"github.com/cardfolio/cardfolio/internal/ingest"
	"github.com/cardfolio/cardfolio/internal/middleware"
	"github.com/cardfolio/cardfolio/internal/service"
)

// Tracker records profile events.
type Tracker interface {
	TrackView(ctx context.Context, in service.TrackViewInput) error
	TrackSocialClick(ctx context.Context, in service.TrackSocialClickInput) error
}

// TrackHandler serves the public event tracking endpoints.
type TrackHandler struct {
	svc    Tracker
	logger *slog.Logger
}

// NewTrackHandler creates a new TrackHandler.
func NewTrackHandler(svc Tracker, logger *slog.Logger) *TrackHandler {
	return &TrackHandler{
		svc:    svc,
		logger: logger.With("component", "handler.track"),
	}
}

// TrackView handles POST /api/track/view.
func (h *TrackHandler) TrackView(w http.ResponseWriter, r *http.Request) {
	var req dto.TrackViewRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.svc.TrackView(r.Context(), service.TrackViewInput{
		ProfileID:     req.ProfileID,
		Referrer:      req.Referrer,
		Source:        req.Source,
		ViewerAddress: clientIP(r),
		UserAgent:     r.UserAgent(),
		CountryHint:   r.Header.Get("CF-IPCountry"),
	})
	h.respond(w, r, req.ProfileID, err)
}

// TrackSocialClick handles POST /api/track/social-click.
func (h *TrackHandler) TrackSocialClick(w http.ResponseWriter, r *http.Request) {
	var req dto.TrackSocialClickRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.svc.TrackSocialClick(r.Context(), service.TrackSocialClickInput{
		ProfileID: req.ProfileID,
		Platform:  req.Platform,
	})
	h.respond(w, r, req.ProfileID, err)
}

// decode parses and validates the body, writing a 400 on failure.
func (h *TrackHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := ingest.Validate(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func (h *TrackHandler) respond(w http.ResponseWriter, r *http.Request, profileID string, err error) {
	var verr *ingest.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, dto.AcceptedResponse{Status: "accepted"})

	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "Profile not found")

	case errors.As(err, &verr):
		writeValidationError(w, verr)

	case errors.Is(err, service.ErrRecordFailed):
		writeError(w, http.StatusServiceUnavailable, "Failed to record event")

	default:
		h.logger.ErrorContext(r.Context(), "track request failed",
			"profile_id", profileID,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Failed to record event")
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *ingest.ValidationError
	if !errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	details := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		details = append(details, f.Message)
	}
	writeError(w, http.StatusBadRequest, "Invalid request", details...)
}
