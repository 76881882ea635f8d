package livestatus

import (
	"sync"
	"time"

	"github.com/onnwee/orbit/internal/geo"
)

// Store is the single authority for where each participant is right now.
// Rows are keyed by (event, user) and listed in insertion order.
// Thread-safe via RWMutex; callers that need read-modify-write atomicity
// for a key must serialise on that key themselves.
type Store struct {
	mu               sync.RWMutex
	rows             map[string]*LiveStatus // "event:user" -> row
	order            map[string][]string    // event -> user ids in insertion order
	geohashPrecision int
}

// NewStore creates an empty store. geohashPrecision controls the coarse
// geohash attached to each row; values below 1 use geo.DefaultPrecision.
func NewStore(geohashPrecision int) *Store {
	if geohashPrecision < 1 {
		geohashPrecision = geo.DefaultPrecision
	}
	return &Store{
		rows:             make(map[string]*LiveStatus),
		order:            make(map[string][]string),
		geohashPrecision: geohashPrecision,
	}
}

func makeKey(eventID, userID string) string {
	return eventID + ":" + userID
}

// Get returns a copy of the row for (eventID, userID).
func (s *Store) Get(eventID, userID string) (*LiveStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls, ok := s.rows[makeKey(eventID, userID)]
	if !ok {
		return nil, ErrLiveStatusNotFound
	}
	out := cloneStatus(ls)
	return &out, nil
}

// Seed creates a placeholder row if none exists yet. Geofenced events seed
// as inside with the given distance; others seed as unknown. The second
// return value reports whether a row was created.
func (s *Store) Seed(eventID, userID string, pos geo.Point, at time.Time, fenced bool, distanceM *int) (*LiveStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := makeKey(eventID, userID)
	if existing, ok := s.rows[key]; ok {
		out := cloneStatus(existing)
		return &out, false
	}

	ls := &LiveStatus{
		EventID:    eventID,
		UserID:     userID,
		LastAt:     at,
		Position:   pos,
		Geohash:    geo.Encode(pos, s.geohashPrecision),
		FenceState: FenceUnknown,
	}
	if fenced {
		ls.FenceState = FenceInside
		if distanceM != nil {
			ls.LastDistanceM = intPtr(*distanceM)
		}
	}
	s.insertLocked(key, ls)

	out := cloneStatus(ls)
	return &out, true
}

// Upsert writes a reading for (eventID, userID), creating the row on first
// use and overwriting it in place afterwards. Position, timestamp, fence
// state and distance change in a single write.
func (s *Store) Upsert(eventID, userID string, r Reading) *LiveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := makeKey(eventID, userID)
	ls, ok := s.rows[key]
	if !ok {
		ls = &LiveStatus{EventID: eventID, UserID: userID}
		s.insertLocked(key, ls)
	}

	state := r.FenceState
	if state == "" {
		state = FenceUnknown
	}

	ls.LastAt = r.At
	ls.Position = r.Position
	ls.Geohash = geo.Encode(r.Position, s.geohashPrecision)
	ls.FenceState = state
	ls.LastDistanceM = nil
	if r.DistanceM != nil && state.Known() {
		ls.LastDistanceM = intPtr(*r.DistanceM)
	}
	ls.HasFix = true

	out := cloneStatus(ls)
	return &out
}

func (s *Store) insertLocked(key string, ls *LiveStatus) {
	s.rows[key] = ls
	s.order[ls.EventID] = append(s.order[ls.EventID], ls.UserID)
}

// List returns copies of every row of an event in insertion order.
func (s *Store) List(eventID string) []LiveStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.order[eventID]
	out := make([]LiveStatus, 0, len(users))
	for _, userID := range users {
		if ls, ok := s.rows[makeKey(eventID, userID)]; ok {
			out = append(out, cloneStatus(ls))
		}
	}
	return out
}
