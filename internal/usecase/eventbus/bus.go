package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chorus/internal/domain"
)

var _ domain.EventBus = (*Bus)(nil)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run synchronously
// on the publishing goroutine, so one publisher's events reach each handler
// in publish order. Handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	typed    map[string][]subscription
	sessions map[string][]subscription
	allSubs  []subscription
	nextID   atomic.Uint64
	logger   *slog.Logger
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:    make(map[string][]subscription),
		sessions: make(map[string][]subscription),
		logger:   logger,
	}
}

// Publish delivers an event to matching typed, session and all-event
// subscribers. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	b.wg.Add(1)
	defer b.wg.Done()

	b.mu.RLock()
	typed := b.typed[string(event.Type)]
	subs := make([]subscription, 0, len(typed)+len(b.allSubs)+1)
	subs = append(subs, typed...)
	if event.SessionID != "" {
		subs = append(subs, b.sessions[event.SessionID]...)
	}
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"session_id", event.SessionID,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(b.typed, string(eventType), handler)
}

// SubscribeSession registers a handler for events carrying sessionID.
func (b *Bus) SubscribeSession(sessionID string, handler domain.EventHandler) func() {
	return b.add(b.sessions, sessionID, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, id)
	}
}

func (b *Bus) add(m map[string][]subscription, key string, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	m[key] = append(m[key], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if rest := without(m[key], id); len(rest) > 0 {
			m[key] = rest
		} else {
			delete(m, key)
		}
	}
}

func without(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes and waits for in-flight publishes to finish.
// Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
