package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/orbit/internal/event"
)

// EventLookup resolves events so rules can only be attached to real ones.
type EventLookup interface {
	GetByID(id string) (*event.Event, error)
}

// Service manages notification rules for event organisers.
type Service struct {
	repo    Repository
	events  EventLookup
	timeNow func() time.Time
}

// NewService creates a rule management service.
func NewService(repo Repository, events EventLookup) *Service {
	return &Service{
		repo:    repo,
		events:  events,
		timeNow: time.Now,
	}
}

// CreateInput is the payload for Create.
type CreateInput struct {
	EventID      string
	Scope        Scope
	TargetUserID string
	NotifyUserID string
	OnEnter      bool
	OnExit       bool
}

// Create stores a new active rule for an existing event.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Rule, error) {
	if _, err := s.events.GetByID(in.EventID); err != nil {
		return nil, err
	}

	r := &Rule{
		ID:           uuid.New().String(),
		EventID:      in.EventID,
		Scope:        in.Scope,
		TargetUserID: strings.TrimSpace(in.TargetUserID),
		NotifyUserID: strings.TrimSpace(in.NotifyUserID),
		OnEnter:      in.OnEnter,
		OnExit:       in.OnExit,
		Active:       true,
		CreatedAt:    s.timeNow().UTC(),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(r); err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	slog.InfoContext(ctx, "notification rule created",
		"rule_id", r.ID,
		"event_id", r.EventID,
		"scope", r.Scope,
		"notify_user_id", r.NotifyUserID,
	)
	return r, nil
}

// Toggle activates or deactivates a rule.
func (s *Service) Toggle(ctx context.Context, ruleID string, active bool) (*Rule, error) {
	r, err := s.repo.SetActive(ruleID, active)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "notification rule toggled",
		"rule_id", r.ID,
		"event_id", r.EventID,
		"active", r.Active,
	)
	return r, nil
}

// List returns every rule of an event, active or not.
func (s *Service) List(eventID string) ([]Rule, error) {
	if _, err := s.events.GetByID(eventID); err != nil {
		return nil, err
	}
	return s.repo.ListByEvent(eventID)
}
