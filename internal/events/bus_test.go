package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_PublishReachesCategorySubscribers(t *testing.T) {
	bus := NewBus()
	var got atomic.Int32
	bus.Subscribe(CategoryAuth, func(ev Event) error {
		got.Add(1)
		return nil
	})
	bus.Subscribe(CategoryConnection, func(ev Event) error {
		t.Error("connection subscriber received auth event")
		return nil
	})

	res := bus.Publish(Event{Category: CategoryAuth, Name: "auth_success"})
	bus.Drain()

	if res.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", res.Delivered)
	}
	if got.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", got.Load())
	}
}

func TestBus_WildcardSubscriber(t *testing.T) {
	bus := NewBus()
	var got atomic.Int32
	bus.Subscribe("", func(ev Event) error {
		got.Add(1)
		return nil
	})
	bus.Publish(Event{Category: CategoryAuth, Name: "a"})
	bus.Publish(Event{Category: CategorySystem, Name: "b"})
	bus.Drain()
	if got.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", got.Load())
	}
}

func TestBus_HandlerErrorDoesNotAffectOthers(t *testing.T) {
	bus := NewBus()
	var healthy atomic.Int32
	bus.Subscribe(CategorySession, func(ev Event) error {
		return fmt.Errorf("broken")
	})
	bus.Subscribe(CategorySession, func(ev Event) error {
		healthy.Add(1)
		return nil
	})
	bus.Subscribe(CategorySession, func(ev Event) error {
		panic("very broken")
	})

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Category: CategorySession, Name: "session_start"})
	}
	bus.Drain()

	if healthy.Load() != 3 {
		t.Errorf("healthy handler calls = %d, want 3", healthy.Load())
	}
}

func TestBus_MiddlewareDenies(t *testing.T) {
	bus := NewBus(WithMiddleware(
		ValidationMiddleware(),
		RateLimitMiddleware(2, time.Second),
	))
	var delivered atomic.Int32
	bus.Subscribe(CategoryAuth, func(ev Event) error {
		delivered.Add(1)
		return nil
	})

	for i := 0; i < 2; i++ {
		res := bus.Publish(Event{Category: CategoryAuth, Name: "auth_attempt"})
		if res.Denied {
			t.Fatalf("publish %d denied: %s", i, res.Reason)
		}
	}
	res := bus.Publish(Event{Category: CategoryAuth, Name: "auth_attempt"})
	if !res.Denied || res.Reason != "rate_limit" {
		t.Errorf("third publish = %+v, want rate_limit denial", res)
	}

	res = bus.Publish(Event{Category: "bogus", Name: "x"})
	if !res.Denied {
		t.Error("invalid category accepted")
	}
	res = bus.Publish(Event{Category: CategoryAuth, Name: ""})
	if !res.Denied {
		t.Error("empty name accepted")
	}
}

func TestDedupMiddleware(t *testing.T) {
	mw := DedupMiddleware(time.Minute)
	base := time.Unix(1000, 0)

	ev := Event{Category: CategoryTerminal, Name: "shell_open", SessionID: "s1", Time: base}
	if _, err := mw(ev); err != nil {
		t.Fatalf("first event denied: %v", err)
	}
	ev.Time = base.Add(time.Second)
	if _, err := mw(ev); err == nil {
		t.Error("duplicate within window accepted")
	}

	other := Event{Category: CategoryTerminal, Name: "shell_open", SessionID: "s2", Time: base}
	if _, err := mw(other); err != nil {
		t.Errorf("distinct session denied: %v", err)
	}

	ev.Time = base.Add(2 * time.Minute)
	if _, err := mw(ev); err != nil {
		t.Errorf("event outside window denied: %v", err)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := &Metrics{}
	mw := MetricsMiddleware(m)
	for i := 0; i < 3; i++ {
		mw(Event{Category: CategoryAuth, Name: "a"})
	}
	mw(Event{Category: CategorySystem, Name: "b"})

	if m.Count(CategoryAuth) != 3 {
		t.Errorf("Count(auth) = %d, want 3", m.Count(CategoryAuth))
	}
	if m.Total() != 4 {
		t.Errorf("Total() = %d, want 4", m.Total())
	}
}

func TestMetrics_LiveGauges(t *testing.T) {
	m := &Metrics{}
	mw := MetricsMiddleware(m)

	mw(Event{Category: CategorySession, Name: "session_start"})
	mw(Event{Category: CategorySession, Name: "session_start"})
	mw(Event{Category: CategoryConnection, Name: "connection_open"})
	if m.Gauge("sessions") != 2 {
		t.Errorf("Gauge(sessions) = %d, want 2", m.Gauge("sessions"))
	}
	if m.Gauge("connections") != 1 {
		t.Errorf("Gauge(connections) = %d, want 1", m.Gauge("connections"))
	}

	mw(Event{Category: CategorySession, Name: "session_end"})
	mw(Event{Category: CategoryConnection, Name: "connection_closed"})
	if m.Gauge("sessions") != 1 || m.Gauge("connections") != 0 {
		t.Errorf("gauges after close = %v", m.Gauges())
	}

	// A replayed close clamps at zero instead of going negative.
	mw(Event{Category: CategoryConnection, Name: "connection_closed"})
	if m.Gauge("connections") != 0 {
		t.Errorf("Gauge(connections) = %d, want 0 after clamp", m.Gauge("connections"))
	}
}

func TestErrorHandlingMiddleware_RecoverPanic(t *testing.T) {
	mw := ErrorHandlingMiddleware(func(ev Event) (Event, error) {
		panic("middleware bug")
	})
	_, err := mw(Event{Category: CategoryAuth, Name: "a"})
	if err == nil {
		t.Error("panic not converted to denial")
	}
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	mw := LoggingMiddleware(slog.Default())
	ev := Event{Category: CategoryAuth, Name: "a", SessionID: "s"}
	out, err := mw(ev)
	if err != nil {
		t.Fatalf("denied: %v", err)
	}
	if out.Name != ev.Name {
		t.Errorf("event mutated: %+v", out)
	}
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	// Handlers run concurrently across publishes, but each publish
	// snapshot must reach all current subscribers.
	bus := NewBus()
	var mu sync.Mutex
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		bus.Subscribe(CategorySession, func(ev Event) error {
			mu.Lock()
			seen[ev.ID]++
			mu.Unlock()
			return nil
		})
	}
	res := bus.Publish(Event{Category: CategorySession, Name: "session_start"})
	bus.Drain()

	if res.Delivered != 4 {
		t.Fatalf("Delivered = %d, want 4", res.Delivered)
	}
	for id, n := range seen {
		if n != 4 {
			t.Errorf("event %s delivered %d times, want 4", id, n)
		}
	}
}
