// Package event provides models, repositories and the service for
// time-boxed events, their optional geofence and their members.
package event

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/onnwee/orbit/internal/geo"
)

// Common errors for event and membership operations.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrInvalidGeofence  = errors.New("invalid geofence")
	ErrInvalidTimeRange = errors.New("event must start before it ends")
	ErrInvalidTitle     = errors.New("event title is required")
	ErrInvalidBlur      = errors.New("precision blur must be a non-negative finite number")
	ErrInvalidMember    = errors.New("user id is required")
)

// Status is the lifecycle phase of an event relative to an instant.
type Status string

// Event statuses.
const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// Geofence is a circular boundary around an event.
type Geofence struct {
	Center  geo.Point `json:"center"`
	RadiusM float64   `json:"radius_m"`
}

// Validate checks the radius is positive and the centre lies on the globe.
func (g Geofence) Validate() error {
	if math.IsNaN(g.RadiusM) || math.IsInf(g.RadiusM, 0) || g.RadiusM <= 0 {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidGeofence, g.RadiusM)
	}
	if err := geo.ValidatePoint(g.Center); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGeofence, err)
	}
	return nil
}

// Contains reports whether p is inside the fence and its distance to the centre.
func (g Geofence) Contains(p geo.Point) (bool, float64) {
	d := geo.Distance(p, g.Center)
	return d <= g.RadiusM, d
}

// Event is a time-boxed gathering whose members share live location.
// Status is not stored; use Status(now).
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Geofence  *Geofence `json:"geofence,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasGeofence reports whether the event has a boundary.
func (e *Event) HasGeofence() bool {
	return e.Geofence != nil
}

// Status derives the lifecycle phase at now. The window is inclusive at
// both ends.
func (e *Event) Status(now time.Time) Status {
	switch {
	case now.Before(e.StartsAt):
		return StatusScheduled
	case now.After(e.EndsAt):
		return StatusEnded
	default:
		return StatusActive
	}
}

// View is an event together with the status computed at a given instant.
type View struct {
	Event
	Status Status `json:"status"`
}

// NewView builds the view of e at now.
func NewView(e Event, now time.Time) View {
	return View{Event: e, Status: e.Status(now)}
}

// Member is a user's participation in an event.
type Member struct {
	EventID                string    `json:"event_id"`
	UserID                 string    `json:"user_id"`
	DisplayName            string    `json:"display_name"`
	AvatarURL              string    `json:"avatar_url,omitempty"`
	LocationSharingEnabled bool      `json:"location_sharing_enabled"`
	PrecisionBlurM         float64   `json:"precision_blur_m"`
	JoinedAt               time.Time `json:"joined_at"`
}

func validateBlur(m float64) error {
	if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidBlur, m)
	}
	return nil
}

func cloneEvent(e *Event) Event {
	out := *e
	if e.Geofence != nil {
		g := *e.Geofence
		out.Geofence = &g
	}
	return out
}
