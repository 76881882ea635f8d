// Package dispatch routes geofence notifications to subscribers keyed by
// recipient identity.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHandlerTimeout bounds how long Publish waits on a single handler.
const DefaultHandlerTimeout = 2 * time.Second

// Notification is the payload delivered to a recipient when a member
// enters or leaves an event geofence.
type Notification struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ActorUserID  string `json:"actor_user_id"`
	ActorName    string `json:"actor_name,omitempty"`
	NotifyUserID string `json:"notify_user_id"`
	DistanceM    *int   `json:"distance_m,omitempty"`
	WhenISO      string `json:"when_iso"`
}

// Handler receives notifications for one recipient.
type Handler func(n Notification)

// Subscription identifies one registered handler. It is the token passed
// to Unsubscribe.
type Subscription struct {
	RecipientID string
	id          uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Outcome of a single handler invocation.
const (
	OutcomeDelivered = "delivered"
	OutcomePanicked  = "panicked"
	OutcomeTimedOut  = "timed_out"
)

// Bus is an in-process publish/subscribe router keyed by recipient.
// Publishing to a recipient without subscribers is a no-op.
type Bus struct {
	mu             sync.RWMutex
	subs           map[string][]subscriber // recipient -> handlers in subscription order
	nextID         atomic.Uint64
	handlerTimeout time.Duration
	metrics        *Metrics
}

// BusConfig configures a Bus.
type BusConfig struct {
	// HandlerTimeout is how long Publish waits for one handler before
	// moving on to the next. Zero runs handlers inline without a bound.
	HandlerTimeout time.Duration

	// Metrics records delivery outcomes. Optional.
	Metrics *Metrics
}

// NewBus creates an empty bus.
func NewBus(cfg BusConfig) *Bus {
	return &Bus{
		subs:           make(map[string][]subscriber),
		handlerTimeout: cfg.HandlerTimeout,
		metrics:        cfg.Metrics,
	}
}

// Subscribe registers h for recipientID and returns its token.
func (b *Bus) Subscribe(recipientID string, h Handler) Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[recipientID] = append(b.subs[recipientID], subscriber{id: id, handler: h})
	return Subscription{RecipientID: recipientID, id: id}
}

// Unsubscribe removes the handler behind sub. It reports whether a handler
// was removed; repeated calls are harmless.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.RecipientID]
	for i, s := range list {
		if s.id != sub.id {
			continue
		}
		next := make([]subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.RecipientID)
		} else {
			b.subs[sub.RecipientID] = next
		}
		return true
	}
	return false
}

// SubscriberCount returns the number of handlers registered for recipientID.
func (b *Bus) SubscriberCount(recipientID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[recipientID])
}

// Publish invokes every handler subscribed to recipientID, one after the
// other in subscription order, and returns how many completed normally.
// A handler that panics or exceeds the handler timeout is logged and
// skipped; the remaining handlers still run. Handlers may subscribe or
// unsubscribe while a publish is in progress.
func (b *Bus) Publish(ctx context.Context, recipientID string, n Notification) int {
	b.mu.RLock()
	snapshot := b.subs[recipientID]
	b.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		outcome := b.invoke(ctx, recipientID, s, n)
		b.metrics.observe(outcome)
		if outcome == OutcomeDelivered {
			delivered++
		}
	}
	return delivered
}

func (b *Bus) invoke(ctx context.Context, recipientID string, s subscriber, n Notification) string {
	if b.handlerTimeout <= 0 {
		return b.call(ctx, recipientID, s, n)
	}

	done := make(chan string, 1)
	go func() {
		done <- b.call(ctx, recipientID, s, n)
	}()

	timer := time.NewTimer(b.handlerTimeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		return outcome
	case <-timer.C:
		slog.WarnContext(ctx, "notification handler timed out",
			"recipient_id", recipientID,
			"timeout", b.handlerTimeout,
		)
		return OutcomeTimedOut
	}
}

func (b *Bus) call(ctx context.Context, recipientID string, s subscriber, n Notification) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "notification handler panicked",
				"recipient_id", recipientID,
				"panic", r,
			)
			outcome = OutcomePanicked
		}
	}()
	s.handler(n)
	return OutcomeDelivered
}
