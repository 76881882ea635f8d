package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/orbit/internal/geo"
	"github.com/onnwee/orbit/internal/livestatus"
)

// LiveSeeder creates the placeholder live status row written on join.
type LiveSeeder interface {
	Seed(eventID, userID string, pos geo.Point, at time.Time, fenced bool, distanceM *int) (*livestatus.LiveStatus, bool)
}

// ServiceConfig holds optional settings for the event service.
type ServiceConfig struct {
	// DefaultAnchor is where members of events without a geofence are
	// placed until their first fix.
	DefaultAnchor geo.Point

	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time
}

// Service implements event and membership management.
type Service struct {
	events  EventRepository
	members MemberRepository
	live    LiveSeeder
	anchor  geo.Point
	timeNow func() time.Time
}

// NewService creates a new event service.
func NewService(events EventRepository, members MemberRepository, live LiveSeeder, cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		events:  events,
		members: members,
		live:    live,
		anchor:  cfg.DefaultAnchor,
		timeNow: clock,
	}
}

// CreateEventInput is the payload for CreateEvent.
type CreateEventInput struct {
	Title     string
	StartsAt  time.Time
	EndsAt    time.Time
	Geofence  *Geofence
	CreatedBy string
}

// CreateEvent validates and stores a new event.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*View, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if !in.StartsAt.Before(in.EndsAt) {
		return nil, ErrInvalidTimeRange
	}
	if in.Geofence != nil {
		if err := in.Geofence.Validate(); err != nil {
			return nil, err
		}
	}

	now := s.timeNow()
	e := &Event{
		ID:        uuid.New().String(),
		Title:     title,
		StartsAt:  in.StartsAt.UTC(),
		EndsAt:    in.EndsAt.UTC(),
		CreatedBy: in.CreatedBy,
		CreatedAt: now.UTC(),
	}
	if in.Geofence != nil {
		g := *in.Geofence
		e.Geofence = &g
	}

	if err := s.events.Insert(e); err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	slog.InfoContext(ctx, "event created",
		"event_id", e.ID,
		"geofenced", e.HasGeofence(),
	)

	v := NewView(*e, now)
	return &v, nil
}

// GetEvent returns an event with its status recomputed now.
func (s *Service) GetEvent(id string) (*View, error) {
	e, err := s.events.GetByID(id)
	if err != nil {
		return nil, err
	}
	v := NewView(*e, s.timeNow())
	return &v, nil
}

// ListEvents returns all events with their status recomputed now.
func (s *Service) ListEvents() ([]View, error) {
	events, err := s.events.List()
	if err != nil {
		return nil, err
	}
	now := s.timeNow()
	out := make([]View, 0, len(events))
	for _, e := range events {
		out = append(out, NewView(e, now))
	}
	return out, nil
}

// JoinInput is the payload for Join.
type JoinInput struct {
	EventID                string
	UserID                 string
	DisplayName            string
	AvatarURL              string
	LocationSharingEnabled bool
	PrecisionBlurM         float64
}

// Join adds a user to an event. Joining twice returns the existing
// membership unchanged; the second return value reports whether a new
// membership was created. A placeholder live status row is seeded so the
// member shows up on the map before their first fix.
func (s *Service) Join(ctx context.Context, in JoinInput) (*Member, bool, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, false, ErrInvalidMember
	}

	e, err := s.events.GetByID(in.EventID)
	if err != nil {
		return nil, false, err
	}

	// A repeat join returns the stored membership untouched, whatever the input.
	if existing, err := s.members.Get(e.ID, userID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrMemberNotFound) {
		return nil, false, fmt.Errorf("failed to look up member: %w", err)
	}
	if err := validateBlur(in.PrecisionBlurM); err != nil {
		return nil, false, err
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = userID
	}

	now := s.timeNow().UTC()
	m, created, err := s.members.InsertIfAbsent(&Member{
		EventID:                e.ID,
		UserID:                 userID,
		DisplayName:            displayName,
		AvatarURL:              in.AvatarURL,
		LocationSharingEnabled: in.LocationSharingEnabled,
		PrecisionBlurM:         in.PrecisionBlurM,
		JoinedAt:               now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert member: %w", err)
	}
	if !created {
		return m, false, nil
	}

	pos := s.anchor
	var distance *int
	if e.HasGeofence() {
		pos = e.Geofence.Center
		d := int(math.Round(geo.Distance(pos, e.Geofence.Center)))
		distance = &d
	}
	s.live.Seed(e.ID, userID, pos, now, e.HasGeofence(), distance)

	slog.InfoContext(ctx, "member joined event",
		"event_id", e.ID,
		"user_id", userID,
		"sharing", m.LocationSharingEnabled,
	)

	return m, true, nil
}

// SharingUpdate carries optional changes to a member's sharing preferences.
type SharingUpdate struct {
	LocationSharingEnabled *bool
	PrecisionBlurM         *float64
}

// UpdateSharing changes a member's sharing preferences. Changes apply to
// future fixes only.
func (s *Service) UpdateSharing(ctx context.Context, eventID, userID string, u SharingUpdate) (*Member, error) {
	if u.PrecisionBlurM != nil {
		if err := validateBlur(*u.PrecisionBlurM); err != nil {
			return nil, err
		}
	}
	if _, err := s.events.GetByID(eventID); err != nil {
		return nil, err
	}

	m, err := s.members.Update(eventID, userID, func(m *Member) error {
		if u.LocationSharingEnabled != nil {
			m.LocationSharingEnabled = *u.LocationSharingEnabled
		}
		if u.PrecisionBlurM != nil {
			m.PrecisionBlurM = *u.PrecisionBlurM
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "member sharing updated",
		"event_id", eventID,
		"user_id", userID,
		"sharing", m.LocationSharingEnabled,
		"precision_blur_m", m.PrecisionBlurM,
	)
	return m, nil
}

// GetMember returns a single membership.
func (s *Service) GetMember(eventID, userID string) (*Member, error) {
	if _, err := s.events.GetByID(eventID); err != nil {
		return nil, err
	}
	return s.members.Get(eventID, userID)
}

// ListMembers returns the members of an event in join order.
func (s *Service) ListMembers(eventID string) ([]Member, error) {
	if _, err := s.events.GetByID(eventID); err != nil {
		return nil, err
	}
	return s.members.ListByEvent(eventID)
}
