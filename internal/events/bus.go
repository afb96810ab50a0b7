// Package events provides the in-process publish/subscribe bus used
// for cross-subsystem notifications (auth outcomes, connection
// lifecycle, terminal activity, recordings, crash recovery). The bus
// is independent of the WebSocket layer: subscribers are plain
// functions, publishes pass a configurable middleware chain, and a
// failing handler never affects its peers.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category tags an event with its domain.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryConnection Category = "connection"
	CategoryTerminal   Category = "terminal"
	CategorySession    Category = "session"
	CategorySystem     Category = "system"
	CategoryRecording  Category = "recording"
)

// Priority orders events for consumers that care.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Event is one bus message.
type Event struct {
	ID        string
	Category  Category
	Name      string
	Priority  Priority
	SessionID string
	Time      time.Time
	Metadata  map[string]any
}

// Handler consumes events. Handlers run asynchronously; returned
// errors feed the subscriber's circuit breaker.
type Handler func(Event) error

// Middleware inspects or rewrites an event before delivery. Returning
// an error vetoes the publish; the error text is the denial reason.
type Middleware func(Event) (Event, error)

// PublishResult reports what happened to one publish.
type PublishResult struct {
	Delivered int
	Denied    bool
	Reason    string
}

type subscriber struct {
	id       string
	category Category // empty subscribes to everything
	handler  Handler
	breaker  *CircuitBreaker
}

// Bus is the event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	middleware  []Middleware

	breakerThreshold int
	breakerCooldown  time.Duration
	wg               sync.WaitGroup
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithMiddleware sets the middleware chain, applied in order.
func WithMiddleware(mw ...Middleware) BusOption {
	return func(b *Bus) { b.middleware = mw }
}

// WithCircuitBreaker tunes per-subscriber breaker behavior.
func WithCircuitBreaker(threshold int, cooldown time.Duration) BusOption {
	return func(b *Bus) {
		b.breakerThreshold = threshold
		b.breakerCooldown = cooldown
	}
}

// NewBus creates a bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers:      make(map[string]*subscriber),
		breakerThreshold: 5,
		breakerCooldown:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one category (empty category
// receives everything). The returned id unsubscribes.
func (b *Bus) Subscribe(category Category, h Handler) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.subscribers[id] = &subscriber{
		id:       id,
		category: category,
		handler:  h,
		breaker:  NewCircuitBreaker(b.breakerThreshold, b.breakerCooldown),
	}
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Publish runs the middleware chain and fans the event out to every
// matching subscriber. Handlers run on their own goroutines; a
// panicking or failing handler only trips its own breaker.
func (b *Bus) Publish(ev Event) PublishResult {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	for _, mw := range b.middleware {
		next, err := mw(ev)
		if err != nil {
			return PublishResult{Denied: true, Reason: err.Error()}
		}
		ev = next
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.category == "" || s.category == ev.Category {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if !s.breaker.Allow() {
			continue
		}
		delivered++
		b.wg.Add(1)
		go func(s *subscriber) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.breaker.Failure()
					slog.Error("event handler panicked",
						"event", ev.Name, "subscriber", s.id, "panic", fmt.Sprint(r))
				}
			}()
			if err := s.handler(ev); err != nil {
				s.breaker.Failure()
				slog.Warn("event handler failed",
					"event", ev.Name, "subscriber", s.id, "error", err)
				return
			}
			s.breaker.Success()
		}(s)
	}
	return PublishResult{Delivered: delivered}
}

// Drain blocks until in-flight handler goroutines finish. Test helper
// and shutdown aid.
func (b *Bus) Drain() {
	b.wg.Wait()
}
