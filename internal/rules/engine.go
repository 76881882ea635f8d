package rules

import "fmt"

// Engine resolves transitions into recipients. It only reads rules.
type Engine struct {
	repo Repository
}

// NewEngine creates an engine backed by repo.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// ResolveRecipients returns the distinct users to notify when actorUserID
// performs t in eventID, in order of the first matching rule. The actor
// is not excluded.
func (e *Engine) ResolveRecipients(eventID, actorUserID string, t Transition) ([]string, error) {
	if _, err := ParseTransition(string(t)); err != nil {
		return nil, err
	}

	active, err := e.repo.ListActiveByEvent(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	seen := make(map[string]struct{}, len(active))
	var recipients []string
	for i := range active {
		r := &active[i]
		if !r.Matches(actorUserID, t) {
			continue
		}
		if _, dup := seen[r.NotifyUserID]; dup {
			continue
		}
		seen[r.NotifyUserID] = struct{}{}
		recipients = append(recipients, r.NotifyUserID)
	}
	return recipients, nil
}
