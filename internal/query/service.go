// Package query serves read-only views of an event's live map.
package query

import (
	"time"

	"github.com/onnwee/orbit/internal/event"
	"github.com/onnwee/orbit/internal/livestatus"
)

// EventLookup fetches events by id.
type EventLookup interface {
	GetByID(id string) (*event.Event, error)
}

// LiveLister lists the live status rows of an event.
type LiveLister interface {
	List(eventID string) []livestatus.LiveStatus
}

// Snapshot is the event header plus every member's last known position.
type Snapshot struct {
	Event event.View              `json:"event"`
	Rows  []livestatus.LiveStatus `json:"rows"`
}

// Service answers live status queries.
type Service struct {
	events  EventLookup
	live    LiveLister
	timeNow func() time.Time
}

// NewService creates a query service. A nil clock uses time.Now.
func NewService(events EventLookup, live LiveLister, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{events: events, live: live, timeNow: clock}
}

// Snapshot returns the event with its status computed now and the live
// rows in insertion order. Unknown events yield event.ErrEventNotFound.
func (s *Service) Snapshot(eventID string) (*Snapshot, error) {
	e, err := s.events.GetByID(eventID)
	if err != nil {
		return nil, err
	}
	rows := s.live.List(e.ID)
	if rows == nil {
		rows = []livestatus.LiveStatus{}
	}
	return &Snapshot{
		Event: event.NewView(*e, s.timeNow()),
		Rows:  rows,
	}, nil
}
