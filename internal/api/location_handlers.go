package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/onnwee/orbit/internal/ingest"
	"github.com/onnwee/orbit/internal/livestatus"
	"github.com/onnwee/orbit/internal/middleware"
	"github.com/onnwee/orbit/internal/query"
)

// locationsEndpoint is the metrics label for location ingest.
const locationsEndpoint = "/events/{id}/locations"

// Ingester accepts location fixes.
type Ingester interface {
	Ingest(ctx context.Context, fix ingest.Fix) (*livestatus.LiveStatus, error)
}

// SnapshotReader returns the live map snapshot of an event.
type SnapshotReader interface {
	Snapshot(eventID string) (*query.Snapshot, error)
}

// LocationRequest represents the request body for a location fix.
type LocationRequest struct {
	UserID    string   `json:"user_id"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// LocationHandlers holds dependencies for location ingest and live status handlers.
type LocationHandlers struct {
	ingester  Ingester
	snapshots SnapshotReader
	limiter   middleware.RateLimitStore
	limit     middleware.RateLimitConfig
	metrics   *middleware.Metrics
}

// LocationHandlersConfig configures LocationHandlers.
type LocationHandlersConfig struct {
	Ingester  Ingester
	Snapshots SnapshotReader

	// Limiter bounds fixes per (event, member). Optional; nil disables the limit.
	Limiter middleware.RateLimitStore
	// Limit defaults to middleware.DefaultLocationLimit.
	Limit middleware.RateLimitConfig
	// Metrics is optional.
	Metrics *middleware.Metrics
}

// NewLocationHandlers creates a new LocationHandlers instance.
func NewLocationHandlers(cfg LocationHandlersConfig) *LocationHandlers {
	limit := cfg.Limit
	if limit.Validate() != nil {
		limit = middleware.DefaultLocationLimit()
	}
	return &LocationHandlers{
		ingester:  cfg.Ingester,
		snapshots: cfg.Snapshots,
		limiter:   cfg.Limiter,
		limit:     limit,
		metrics:   cfg.Metrics,
	}
}

// PostLocation handles POST /events/{eventID}/locations.
// The member is identified by user_id in the body, so the per-member rate
// limit is applied here rather than in the router middleware.
func (h *LocationHandlers) PostLocation(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req LocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeInvalidCoordinates, "lat and lng are required")
		return
	}

	if !h.allow(w, r, eventID, userID) {
		return
	}

	row, err := h.ingester.Ingest(r.Context(), ingest.Fix{
		EventID:   eventID,
		UserID:    userID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		AccuracyM: req.AccuracyM,
		Source:    livestatus.Source(req.Source),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, row)
}

// allow applies the per-member limit. It writes the 429 response and
// returns false when the member is over the limit.
func (h *LocationHandlers) allow(w http.ResponseWriter, r *http.Request, eventID, userID string) bool {
	if h.limiter == nil {
		return true
	}

	if h.metrics != nil {
		h.metrics.IncRateLimitRequests(locationsEndpoint, "loc")
	}

	allowed, remaining, retryAfter := h.limiter.Allow(r.Context(), middleware.MemberKey(eventID, userID), h.limit)
	middleware.SetRateLimitHeaders(w, h.limit, remaining, retryAfter)
	if allowed {
		return true
	}

	if h.metrics != nil {
		h.metrics.IncRateLimitBlocked(locationsEndpoint, "loc")
	}
	middleware.WriteRateLimited(w, r)
	return false
}

// LiveStatus handles GET /events/{eventID}/live.
func (h *LocationHandlers) LiveStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Snapshot(chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}
