package event

import (
	"sync"
)

// EventRepository defines the interface for event data operations.
type EventRepository interface {
	// Insert stores a new event. The ID must already be set.
	Insert(e *Event) error

	// GetByID retrieves an event by ID.
	GetByID(id string) (*Event, error)

	// List returns all events in creation order.
	List() ([]Event, error)
}

// MemberRepository defines the interface for membership data operations.
type MemberRepository interface {
	// InsertIfAbsent stores m unless a member with the same (event, user)
	// exists. It returns the stored member and whether it was inserted.
	InsertIfAbsent(m *Member) (*Member, bool, error)

	// Get retrieves a member by event and user.
	Get(eventID, userID string) (*Member, error)

	// Update applies fn to the stored member under the repository lock.
	Update(eventID, userID string, fn func(m *Member) error) (*Member, error)

	// ListByEvent returns the members of an event in join order.
	ListByEvent(eventID string) ([]Member, error)
}

// InMemoryEventRepository is an in-memory implementation of EventRepository.
// Thread-safe via RWMutex.
type InMemoryEventRepository struct {
	mu     sync.RWMutex
	events map[string]*Event
	order  []string
}

// NewInMemoryEventRepository creates a new in-memory event repository.
func NewInMemoryEventRepository() *InMemoryEventRepository {
	return &InMemoryEventRepository{
		events: make(map[string]*Event),
	}
}

// Insert stores a copy of e.
func (r *InMemoryEventRepository) Insert(e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneEvent(e)
	if _, exists := r.events[e.ID]; !exists {
		r.order = append(r.order, e.ID)
	}
	r.events[e.ID] = &stored
	return nil
}

// GetByID retrieves an event by ID.
func (r *InMemoryEventRepository) GetByID(id string) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := cloneEvent(e)
	return &out, nil
}

// List returns all events in creation order.
func (r *InMemoryEventRepository) List() ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneEvent(r.events[id]))
	}
	return out, nil
}

// InMemoryMemberRepository is an in-memory implementation of MemberRepository.
// Thread-safe via RWMutex.
type InMemoryMemberRepository struct {
	mu      sync.RWMutex
	members map[string]*Member  // "event:user" -> member
	byEvent map[string][]string // event -> user ids in join order
}

// NewInMemoryMemberRepository creates a new in-memory member repository.
func NewInMemoryMemberRepository() *InMemoryMemberRepository {
	return &InMemoryMemberRepository{
		members: make(map[string]*Member),
		byEvent: make(map[string][]string),
	}
}

// makeKey creates a composite key from event and user IDs.
func makeKey(eventID, userID string) string {
	return eventID + ":" + userID
}

// InsertIfAbsent stores m unless the (event, user) pair already exists.
func (r *InMemoryMemberRepository) InsertIfAbsent(m *Member) (*Member, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(m.EventID, m.UserID)
	if existing, ok := r.members[key]; ok {
		out := *existing
		return &out, false, nil
	}

	stored := *m
	r.members[key] = &stored
	r.byEvent[m.EventID] = append(r.byEvent[m.EventID], m.UserID)

	out := stored
	return &out, true, nil
}

// Get retrieves a member by event and user.
func (r *InMemoryMemberRepository) Get(eventID, userID string) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[makeKey(eventID, userID)]
	if !ok {
		return nil, ErrMemberNotFound
	}
	out := *m
	return &out, nil
}

// Update applies fn to a working copy and stores it only if fn succeeds.
func (r *InMemoryMemberRepository) Update(eventID, userID string, fn func(m *Member) error) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[makeKey(eventID, userID)]
	if !ok {
		return nil, ErrMemberNotFound
	}

	working := *m
	if err := fn(&working); err != nil {
		return nil, err
	}
	*m = working

	out := working
	return &out, nil
}

// ListByEvent returns the members of an event in join order.
func (r *InMemoryMemberRepository) ListByEvent(eventID string) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.byEvent[eventID]
	out := make([]Member, 0, len(users))
	for _, userID := range users {
		out = append(out, *r.members[makeKey(eventID, userID)])
	}
	return out, nil
}
