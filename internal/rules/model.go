// Package rules stores per-event notification rules and resolves geofence
// transitions into the set of users to notify.
package rules

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for rule operations.
var (
	ErrRuleNotFound      = errors.New("rule not found")
	ErrInvalidRule       = errors.New("invalid rule")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Scope selects which members a rule watches.
type Scope string

// Rule scopes.
const (
	// ScopeEvent applies to every member of the event.
	ScopeEvent Scope = "event"
	// ScopeMember applies to a single target member.
	ScopeMember Scope = "member"
)

// Transition is a change of fence state between two known states.
type Transition string

// Transition types.
const (
	TransitionEnter Transition = "enter"
	TransitionExit  Transition = "exit"
)

// ParseTransition converts a string into a Transition.
func ParseTransition(s string) (Transition, error) {
	switch Transition(s) {
	case TransitionEnter, TransitionExit:
		return Transition(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransition, s)
}

// Rule says who to notify when members of an event cross its geofence.
type Rule struct {
	ID           string    `json:"rule_id"`
	EventID      string    `json:"event_id"`
	Scope        Scope     `json:"scope"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	NotifyUserID string    `json:"notify_user_id"`
	OnEnter      bool      `json:"on_enter"`
	OnExit       bool      `json:"on_exit"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks scope, target and recipient are consistent.
func (r *Rule) Validate() error {
	if r.NotifyUserID == "" {
		return fmt.Errorf("%w: notify_user_id is required", ErrInvalidRule)
	}
	switch r.Scope {
	case ScopeEvent:
		if r.TargetUserID != "" {
			return fmt.Errorf("%w: target_user_id is only allowed for member scope", ErrInvalidRule)
		}
	case ScopeMember:
		if r.TargetUserID == "" {
			return fmt.Errorf("%w: target_user_id is required for member scope", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRule, r.Scope)
	}
	return nil
}

// Matches reports whether the rule fires for actorUserID performing t.
// Inactive rules never match.
func (r *Rule) Matches(actorUserID string, t Transition) bool {
	if !r.Active {
		return false
	}
	if r.Scope == ScopeMember && r.TargetUserID != actorUserID {
		return false
	}
	switch t {
	case TransitionEnter:
		return r.OnEnter
	case TransitionExit:
		return r.OnExit
	}
	return false
}
