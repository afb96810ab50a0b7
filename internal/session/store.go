package session

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultIdleTimeout is how long an idle session survives before
	// the sweep evicts it.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultSweepInterval is how often the expiration sweep runs.
	DefaultSweepInterval = 60 * time.Second
)

// cell owns one session's state. Its mutex serializes dispatches for
// that session without blocking dispatches on other sessions.
type cell struct {
	mu      sync.Mutex
	state   State
	touched time.Time
}

// Store is the process-wide session registry. All state transitions
// go through Dispatch; GetState returns immutable snapshots.
type Store struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[ID]*cell

	stopCh   chan struct{}
	stopOnce sync.Once
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdleTimeout overrides the idle eviction timeout.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTimeout = d }
}

// WithClock overrides the store's time source for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		sessions:      make(map[ID]*cell),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background expiration sweep.
func (s *Store) Start() {
	go s.sweepLoop()
}

// Stop halts the background sweep. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Create registers a new session and returns its initial state.
// Creating an existing id is an error.
func (s *Store) Create(id ID, client ClientInfo) (State, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return State{}, fmt.Errorf("session %s already exists", id)
	}
	c := &cell{state: newState(client, now), touched: now}
	s.sessions[id] = c
	return c.state.clone(), nil
}

// Dispatch applies an action to one session. Dispatches on the same
// session serialize on the cell mutex; dispatches on different
// sessions proceed in parallel. The returned state is a snapshot of
// the post-action state.
func (s *Store) Dispatch(id ID, a Action) (State, error) {
	c, ok := s.lookup(id)
	if !ok {
		return State{}, fmt.Errorf("session %s not found", id)
	}
	if a.Time.IsZero() {
		a.Time = s.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next, _ := Reduce(c.state, a)
	c.state = next
	c.touched = a.Time
	return next.clone(), nil
}

// GetState returns a snapshot of one session's state. Expired
// sessions are evicted lazily.
func (s *Store) GetState(id ID) (State, bool) {
	c, ok := s.lookup(id)
	if !ok {
		return State{}, false
	}
	c.mu.Lock()
	state := c.state.clone()
	touched := c.touched
	c.mu.Unlock()

	if s.idleTimeout > 0 && s.now().Sub(touched) > s.idleTimeout {
		s.Destroy(id)
		return State{}, false
	}
	return state, true
}

// Destroy removes a session.
func (s *Store) Destroy(id ID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(id ID) (*cell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	return c, ok
}

// sweepLoop periodically evicts idle sessions.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) sweep() {
	if s.idleTimeout <= 0 {
		return
	}
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.sessions {
		c.mu.Lock()
		stale := c.touched.Before(cutoff)
		c.mu.Unlock()
		if stale {
			delete(s.sessions, id)
		}
	}
}
