package rules

import (
	"sync"
)

// Repository defines the interface for rule data operations.
type Repository interface {
	// Insert stores a new rule. The ID must already be set.
	Insert(r *Rule) error

	// GetByID retrieves a rule by ID.
	GetByID(id string) (*Rule, error)

	// SetActive flips the active flag and returns the updated rule.
	SetActive(id string, active bool) (*Rule, error)

	// ListByEvent returns every rule of an event in creation order.
	ListByEvent(eventID string) ([]Rule, error)

	// ListActiveByEvent returns the active rules of an event in creation order.
	ListActiveByEvent(eventID string) ([]Rule, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Rules are stored by value and replaced whole on mutation, so readers
// never observe a half-applied change.
type InMemoryRepository struct {
	mu      sync.RWMutex
	rules   map[string]Rule     // rule id -> rule
	byEvent map[string][]string // event id -> rule ids in creation order
}

// NewInMemoryRepository creates a new in-memory rule repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		rules:   make(map[string]Rule),
		byEvent: make(map[string][]string),
	}
}

// Insert stores a copy of r.
func (repo *InMemoryRepository) Insert(r *Rule) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, exists := repo.rules[r.ID]; !exists {
		repo.byEvent[r.EventID] = append(repo.byEvent[r.EventID], r.ID)
	}
	repo.rules[r.ID] = *r
	return nil
}

// GetByID retrieves a rule by ID.
func (repo *InMemoryRepository) GetByID(id string) (*Rule, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	r, ok := repo.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

// SetActive flips the active flag of a rule.
func (repo *InMemoryRepository) SetActive(id string, active bool) (*Rule, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	r, ok := repo.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	r.Active = active
	repo.rules[id] = r
	return &r, nil
}

// ListByEvent returns every rule of an event.
func (repo *InMemoryRepository) ListByEvent(eventID string) ([]Rule, error) {
	return repo.list(eventID, false), nil
}

// ListActiveByEvent returns the active rules of an event.
func (repo *InMemoryRepository) ListActiveByEvent(eventID string) ([]Rule, error) {
	return repo.list(eventID, true), nil
}

func (repo *InMemoryRepository) list(eventID string, activeOnly bool) []Rule {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	ids := repo.byEvent[eventID]
	out := make([]Rule, 0, len(ids))
	for _, id := range ids {
		r := repo.rules[id]
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	return out
}
