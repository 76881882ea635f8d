package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/onnwee/orbit/internal/event"
)

// EventService is the event and membership surface used by the handlers.
type EventService interface {
	CreateEvent(ctx context.Context, in event.CreateEventInput) (*event.View, error)
	GetEvent(id string) (*event.View, error)
	ListEvents() ([]event.View, error)
	Join(ctx context.Context, in event.JoinInput) (*event.Member, bool, error)
	UpdateSharing(ctx context.Context, eventID, userID string, u event.SharingUpdate) (*event.Member, error)
	ListMembers(eventID string) ([]event.Member, error)
}

// CreateEventRequest represents the request body for creating an event.
type CreateEventRequest struct {
	Title     string          `json:"title"`
	StartsAt  time.Time       `json:"starts_at"`
	EndsAt    time.Time       `json:"ends_at"`
	Geofence  *event.Geofence `json:"geofence,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
}

// JoinEventRequest represents the request body for joining an event.
// Location sharing defaults to enabled when omitted.
type JoinEventRequest struct {
	UserID                 string  `json:"user_id"`
	DisplayName            string  `json:"display_name"`
	AvatarURL              string  `json:"avatar_url,omitempty"`
	LocationSharingEnabled *bool   `json:"location_sharing_enabled,omitempty"`
	PrecisionBlurM         float64 `json:"precision_blur_m"`
}

// UpdateSharingRequest represents the request body for changing sharing
// preferences. Omitted fields are left unchanged.
type UpdateSharingRequest struct {
	LocationSharingEnabled *bool    `json:"location_sharing_enabled,omitempty"`
	PrecisionBlurM         *float64 `json:"precision_blur_m,omitempty"`
}

// EventListResponse wraps a list of events.
type EventListResponse struct {
	Events []event.View `json:"events"`
}

// MemberListResponse wraps the members of an event.
type MemberListResponse struct {
	Members []event.Member `json:"members"`
}

// EventHandlers holds dependencies for event and membership HTTP handlers.
type EventHandlers struct {
	events EventService
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(events EventService) *EventHandlers {
	return &EventHandlers{events: events}
}

// CreateEvent handles POST /events.
func (h *EventHandlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.StartsAt.IsZero() || req.EndsAt.IsZero() {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, "starts_at and ends_at are required")
		return
	}

	view, err := h.events.CreateEvent(r.Context(), event.CreateEventInput{
		Title:     req.Title,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		Geofence:  req.Geofence,
		CreatedBy: strings.TrimSpace(req.CreatedBy),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, view)
}

// ListEvents handles GET /events. Status is recomputed for every event.
func (h *EventHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	views, err := h.events.ListEvents()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if views == nil {
		views = []event.View{}
	}
	writeJSON(w, r, http.StatusOK, EventListResponse{Events: views})
}

// GetEvent handles GET /events/{eventID}.
func (h *EventHandlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	view, err := h.events.GetEvent(chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// JoinEvent handles POST /events/{eventID}/members.
// Responds 201 for a new membership and 200 when the user was already a member.
func (h *EventHandlers) JoinEvent(w http.ResponseWriter, r *http.Request) {
	var req JoinEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sharing := true
	if req.LocationSharingEnabled != nil {
		sharing = *req.LocationSharingEnabled
	}

	member, created, err := h.events.Join(r.Context(), event.JoinInput{
		EventID:                chi.URLParam(r, "eventID"),
		UserID:                 req.UserID,
		DisplayName:            req.DisplayName,
		AvatarURL:              req.AvatarURL,
		LocationSharingEnabled: sharing,
		PrecisionBlurM:         req.PrecisionBlurM,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, member)
}

// ListMembers handles GET /events/{eventID}/members.
func (h *EventHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.events.ListMembers(chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []event.Member{}
	}
	writeJSON(w, r, http.StatusOK, MemberListResponse{Members: members})
}

// UpdateSharing handles PATCH /events/{eventID}/members/{userID}/sharing.
func (h *EventHandlers) UpdateSharing(w http.ResponseWriter, r *http.Request) {
	var req UpdateSharingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LocationSharingEnabled == nil && req.PrecisionBlurM == nil {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation,
			"at least one of location_sharing_enabled or precision_blur_m is required")
		return
	}

	member, err := h.events.UpdateSharing(r.Context(),
		chi.URLParam(r, "eventID"),
		chi.URLParam(r, "userID"),
		event.SharingUpdate{
			LocationSharingEnabled: req.LocationSharingEnabled,
			PrecisionBlurM:         req.PrecisionBlurM,
		},
	)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, member)
}
