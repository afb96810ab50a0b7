package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LoggingMiddleware records every event at debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(ev Event) (Event, error) {
		logger.Debug("bus event",
			"category", string(ev.Category),
			"event", ev.Name,
			"session_id", ev.SessionID,
			"priority", int(ev.Priority))
		return ev, nil
	}
}

// Metrics counts events per category and tracks live gauges for
// resources with open/closed lifecycles (sessions, SSH connections).
type Metrics struct {
	counts sync.Map // Category -> *atomic.Uint64
	total  atomic.Uint64

	mu     sync.Mutex
	gauges map[string]int
}

// Count returns the number of events seen for a category.
func (m *Metrics) Count(c Category) uint64 {
	if v, ok := m.counts.Load(c); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

// Total returns the number of events seen overall.
func (m *Metrics) Total() uint64 { return m.total.Load() }

// gaugeEvents maps lifecycle event names onto gauge movements. Both
// halves of each pair must be published by the adapter for the gauge
// to stay honest.
var gaugeEvents = map[string]struct {
	gauge string
	delta int
}{
	"session_start":     {"sessions", +1},
	"session_end":       {"sessions", -1},
	"connection_open":   {"connections", +1},
	"connection_closed": {"connections", -1},
}

// Gauge returns the current value of a live gauge ("sessions",
// "connections").
func (m *Metrics) Gauge(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Gauges returns a snapshot of every live gauge.
func (m *Metrics) Gauges() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.gauges))
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}

// applyGauge moves the gauge an event belongs to, clamping at zero so
// a replayed close can never drive a count negative.
func (m *Metrics) applyGauge(name string) {
	move, ok := gaugeEvents[name]
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = make(map[string]int)
	}
	next := m.gauges[move.gauge] + move.delta
	if next < 0 {
		next = 0
	}
	m.gauges[move.gauge] = next
}

// MetricsMiddleware counts events into m and applies lifecycle events
// to the live gauges.
func MetricsMiddleware(m *Metrics) Middleware {
	return func(ev Event) (Event, error) {
		v, _ := m.counts.LoadOrStore(ev.Category, new(atomic.Uint64))
		v.(*atomic.Uint64).Add(1)
		m.total.Add(1)
		m.applyGauge(ev.Name)
		return ev, nil
	}
}

// ErrorHandlingMiddleware normalizes panics out of downstream
// middleware into denials so a bad middleware cannot kill a publisher.
func ErrorHandlingMiddleware(next Middleware) Middleware {
	return func(ev Event) (out Event, err error) {
		defer func() {
			if r := recover(); r != nil {
				out = ev
				err = fmt.Errorf("middleware panic: %v", r)
			}
		}()
		return next(ev)
	}
}

// RateLimitMiddleware denies events beyond limit per interval, per
// event name.
func RateLimitMiddleware(limit int, interval time.Duration) Middleware {
	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	return func(ev Event) (Event, error) {
		mu.Lock()
		b, ok := buckets[ev.Name]
		if !ok {
			b = rate.NewLimiter(rate.Every(interval/time.Duration(limit)), limit)
			buckets[ev.Name] = b
		}
		mu.Unlock()
		if !b.Allow() {
			return ev, fmt.Errorf("rate_limit")
		}
		return ev, nil
	}
}

// DedupMiddleware denies events whose content hash was seen within
// the window. The hash covers category, name, and session id.
func DedupMiddleware(window time.Duration) Middleware {
	var mu sync.Mutex
	seen := make(map[string]time.Time)
	return func(ev Event) (Event, error) {
		sum := sha256.Sum256([]byte(string(ev.Category) + "\x00" + ev.Name + "\x00" + ev.SessionID))
		key := hex.EncodeToString(sum[:8])

		now := ev.Time
		mu.Lock()
		defer mu.Unlock()
		if last, ok := seen[key]; ok && now.Sub(last) < window {
			return ev, fmt.Errorf("duplicate")
		}
		seen[key] = now
		// Opportunistic expiry keeps the map bounded.
		for k, t := range seen {
			if now.Sub(t) >= window {
				delete(seen, k)
			}
		}
		return ev, nil
	}
}

// FilterMiddleware denies events the predicate rejects.
func FilterMiddleware(keep func(Event) bool) Middleware {
	return func(ev Event) (Event, error) {
		if !keep(ev) {
			return ev, fmt.Errorf("filtered")
		}
		return ev, nil
	}
}

// ValidationMiddleware denies events with no name or category.
func ValidationMiddleware() Middleware {
	valid := map[Category]bool{
		CategoryAuth:       true,
		CategoryConnection: true,
		CategoryTerminal:   true,
		CategorySession:    true,
		CategorySystem:     true,
		CategoryRecording:  true,
	}
	return func(ev Event) (Event, error) {
		if ev.Name == "" {
			return ev, fmt.Errorf("event name required")
		}
		if !valid[ev.Category] {
			return ev, fmt.Errorf("unknown category %q", ev.Category)
		}
		return ev, nil
	}
}
