// Package livestatus holds the current known position and geofence state
// of every event participant, plus the append-only log of accepted fixes.
package livestatus

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/orbit/internal/geo"
)

// ErrLiveStatusNotFound is returned when no row exists for an (event, user) pair.
var ErrLiveStatusNotFound = errors.New("live status not found")

// ErrInvalidFenceState is returned when parsing an unknown fence state.
var ErrInvalidFenceState = errors.New("invalid fence state")

// FenceState classifies a position relative to the event geofence.
type FenceState string

// Fence states.
const (
	FenceUnknown FenceState = "unknown"
	FenceInside  FenceState = "inside"
	FenceOutside FenceState = "outside"
)

// Known reports whether s is inside or outside.
func (s FenceState) Known() bool {
	return s == FenceInside || s == FenceOutside
}

// ParseFenceState converts a string into a FenceState.
func ParseFenceState(s string) (FenceState, error) {
	switch FenceState(s) {
	case FenceUnknown, FenceInside, FenceOutside:
		return FenceState(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFenceState, s)
}

// LiveStatus is the last known position of one member of one event.
type LiveStatus struct {
	EventID       string     `json:"event_id"`
	UserID        string     `json:"user_id"`
	LastAt        time.Time  `json:"last_at"`
	Position      geo.Point  `json:"position"`
	Geohash       string     `json:"geohash"`
	FenceState    FenceState `json:"fence_state"`
	LastDistanceM *int       `json:"last_distance_m,omitempty"`

	// HasFix is false while the row only holds the placeholder written at
	// join time.
	HasFix bool `json:"has_fix"`
}

// Reading is one observation written by Upsert.
type Reading struct {
	Position   geo.Point
	At         time.Time
	FenceState FenceState
	DistanceM  *int
}

// Source identifies where a fix was acquired.
type Source string

// Fix sources reported by clients.
const (
	SourceForegroundWeb     Source = "foreground_web"
	SourceBackgroundIOS     Source = "background_ios"
	SourceBackgroundAndroid Source = "background_android"
)

// Valid reports whether s is empty or one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case "", SourceForegroundWeb, SourceBackgroundIOS, SourceBackgroundAndroid:
		return true
	}
	return false
}

// LocationUpdate is an immutable record of an accepted, already blurred fix.
type LocationUpdate struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Position  geo.Point `json:"position"`
	AccuracyM *float64  `json:"accuracy_m,omitempty"`
	Source    Source    `json:"source,omitempty"`
}

func intPtr(v int) *int {
	return &v
}

func cloneStatus(ls *LiveStatus) LiveStatus {
	out := *ls
	if ls.LastDistanceM != nil {
		out.LastDistanceM = intPtr(*ls.LastDistanceM)
	}
	return out
}
