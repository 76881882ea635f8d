// Package ingest accepts location fixes from members, keeps their live
// status current and raises geofence transition notifications.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/orbit/internal/dispatch"
	"github.com/onnwee/orbit/internal/event"
	"github.com/onnwee/orbit/internal/geo"
	"github.com/onnwee/orbit/internal/livestatus"
	"github.com/onnwee/orbit/internal/rules"
	"github.com/onnwee/orbit/internal/tracing"
)

// MaxAccuracyM is the worst reported accuracy a fix may carry.
const MaxAccuracyM = 1000.0

// Errors returned by Ingest in addition to event.ErrEventNotFound,
// event.ErrMemberNotFound and geo.ErrInvalidCoordinates.
var (
	ErrSharingDisabled = errors.New("location sharing is disabled for this member")
	ErrInvalidSource   = errors.New("invalid fix source")
	ErrInvalidAccuracy = errors.New("accuracy must be a non-negative finite number")
	ErrInaccurateFix   = errors.New("fix accuracy is too coarse")
)

// Fix is a raw position report from a member's device.
type Fix struct {
	EventID   string
	UserID    string
	Lat       float64
	Lng       float64
	AccuracyM *float64
	Source    livestatus.Source
}

// RecipientResolver maps a transition to the users that must hear about it.
type RecipientResolver interface {
	ResolveRecipients(eventID, actorUserID string, t rules.Transition) ([]string, error)
}

// Publisher delivers a notification to the subscribers of one recipient.
type Publisher interface {
	Publish(ctx context.Context, recipientID string, n dispatch.Notification) int
}

// Config holds optional settings for the ingestion service.
type Config struct {
	// Metrics records fix outcomes, transitions and notifications. Optional.
	Metrics *Metrics

	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time
}

// Service runs the ingestion pipeline.
type Service struct {
	events  event.EventRepository
	members event.MemberRepository
	live    *livestatus.Store
	log     *livestatus.UpdateLog
	rules   RecipientResolver
	bus     Publisher
	locks   *keyLock
	metrics *Metrics
	timeNow func() time.Time
}

// NewService creates a new ingestion service.
func NewService(
	events event.EventRepository,
	members event.MemberRepository,
	live *livestatus.Store,
	log *livestatus.UpdateLog,
	resolver RecipientResolver,
	bus Publisher,
	cfg Config,
) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		events:  events,
		members: members,
		live:    live,
		log:     log,
		rules:   resolver,
		bus:     bus,
		locks:   newKeyLock(),
		metrics: cfg.Metrics,
		timeNow: clock,
	}
}

// Ingest processes one fix and returns the stored live status row.
// Fixes for the same (event, user) are processed one at a time, so every
// real crossing yields exactly one notification per recipient.
func (s *Service) Ingest(ctx context.Context, fix Fix) (_ *livestatus.LiveStatus, err error) {
	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "ingest_location")
	defer func() {
		result := ResultAccepted
		if err != nil {
			result = ResultRejected
		}
		s.metrics.observeFix(result, time.Since(start).Seconds())
		endSpan(err)
	}()

	fix.UserID = strings.TrimSpace(fix.UserID)

	tracing.SetAttributes(ctx,
		attribute.String("event_id", fix.EventID),
		attribute.String("user_id", fix.UserID),
	)

	raw := geo.Point{Lat: fix.Lat, Lng: fix.Lng}
	if err := validateFix(raw, fix); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(fix.EventID + ":" + fix.UserID)
	defer unlock()

	e, err := s.events.GetByID(fix.EventID)
	if err != nil {
		return nil, err
	}
	m, err := s.members.Get(fix.EventID, fix.UserID)
	if err != nil {
		return nil, err
	}
	if !m.LocationSharingEnabled {
		return nil, ErrSharingDisabled
	}

	now := s.timeNow().UTC()
	blurred := geo.Blur(raw, m.PrecisionBlurM)

	if s.log != nil {
		s.log.Append(livestatus.LocationUpdate{
			EventID:   e.ID,
			UserID:    m.UserID,
			Timestamp: now,
			Position:  blurred,
			AccuracyM: fix.AccuracyM,
			Source:    fix.Source,
		})
	}

	prevState := livestatus.FenceUnknown
	if prev, err := s.live.Get(e.ID, m.UserID); err == nil && prev.HasFix {
		prevState = prev.FenceState
	}

	reading := livestatus.Reading{
		Position:   blurred,
		At:         now,
		FenceState: livestatus.FenceUnknown,
	}
	if e.HasGeofence() {
		inside, d := e.Geofence.Contains(blurred)
		reading.FenceState = livestatus.FenceOutside
		if inside {
			reading.FenceState = livestatus.FenceInside
		}
		dm := int(math.Round(d))
		reading.DistanceM = &dm
	}

	row := s.live.Upsert(e.ID, m.UserID, reading)

	t, ok := transition(prevState, reading.FenceState)
	if !ok {
		return row, nil
	}

	s.metrics.incTransition(string(t))
	tracing.AddEvent(ctx, "geofence_transition", attribute.String("transition", string(t)))
	s.notify(ctx, m, t, row)

	return row, nil
}

func (s *Service) notify(ctx context.Context, m *event.Member, t rules.Transition, row *livestatus.LiveStatus) {
	recipients, err := s.rules.ResolveRecipients(m.EventID, m.UserID, t)
	if err != nil {
		slog.WarnContext(ctx, "failed to resolve notification recipients",
			"error", err,
			"event_id", m.EventID,
			"user_id", m.UserID,
			"transition", string(t),
		)
		return
	}

	slog.InfoContext(ctx, "geofence transition",
		"event_id", m.EventID,
		"user_id", m.UserID,
		"transition", string(t),
		"recipients", len(recipients),
	)

	when := row.LastAt.UTC().Format(time.RFC3339)
	for _, recipient := range recipients {
		n := dispatch.Notification{
			Type:         string(t),
			EventID:      m.EventID,
			ActorUserID:  m.UserID,
			ActorName:    m.DisplayName,
			NotifyUserID: recipient,
			WhenISO:      when,
		}
		if row.LastDistanceM != nil {
			d := *row.LastDistanceM
			n.DistanceM = &d
		}
		s.bus.Publish(ctx, recipient, n)
	}
	s.metrics.addNotifications(len(recipients))
}

// transition reports the crossing between two fence states, if any.
// Unknown on either side never transitions.
func transition(prev, next livestatus.FenceState) (rules.Transition, bool) {
	if !prev.Known() || !next.Known() || prev == next {
		return "", false
	}
	if next == livestatus.FenceInside {
		return rules.TransitionEnter, true
	}
	return rules.TransitionExit, true
}

func validateFix(p geo.Point, fix Fix) error {
	if err := geo.ValidatePoint(p); err != nil {
		return err
	}
	if !fix.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, fix.Source)
	}
	if fix.AccuracyM != nil {
		acc := *fix.AccuracyM
		if math.IsNaN(acc) || math.IsInf(acc, 0) || acc < 0 {
			return ErrInvalidAccuracy
		}
		if acc > MaxAccuracyM {
			return fmt.Errorf("%w: %.0f m", ErrInaccurateFix, acc)
		}
	}
	return nil
}
