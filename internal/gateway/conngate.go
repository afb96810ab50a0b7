package gateway

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxSocketsPerIP caps concurrent sessions a single client
	// address may hold open.
	defaultMaxSocketsPerIP = 20

	// gateIdleTTL is how long a client entry with no open sockets
	// survives before being pruned.
	gateIdleTTL = 5 * time.Minute
)

// ConnGate admits WebSocket connections. It combines two per-address
// controls the adapter lifecycle needs: a token bucket on connection
// attempts and a cap on concurrently open sockets. Admit and Release
// bracket an adapter's lifetime, so the gate always knows how many
// sockets each client — and the process as a whole — has open.
type ConnGate struct {
	attempts   rate.Limit
	burst      int
	maxSockets int
	now        func() time.Time

	mu      sync.Mutex
	clients map[string]*gateEntry
	open    int
}

type gateEntry struct {
	bucket   *rate.Limiter
	open     int
	idleFrom time.Time
}

// NewConnGate builds a gate allowing `attempts` new connections per
// second (burst b) and at most maxSockets concurrent sockets per
// client address (0 means defaultMaxSocketsPerIP).
func NewConnGate(attempts rate.Limit, b, maxSockets int) *ConnGate {
	if maxSockets <= 0 {
		maxSockets = defaultMaxSocketsPerIP
	}
	return &ConnGate{
		attempts:   attempts,
		burst:      b,
		maxSockets: maxSockets,
		now:        time.Now,
		clients:    make(map[string]*gateEntry),
	}
}

// Admit decides whether a new socket from ip may open. On success the
// socket is counted until Release. Stale idle entries are pruned
// here, on the caller's clock, rather than by a background task.
func (g *ConnGate) Admit(ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneLocked(now)

	e, ok := g.clients[ip]
	if !ok {
		e = &gateEntry{bucket: rate.NewLimiter(g.attempts, g.burst)}
		g.clients[ip] = e
	}
	if e.open >= g.maxSockets {
		return fmt.Errorf("too many open sessions for %s", ip)
	}
	if !e.bucket.Allow() {
		return fmt.Errorf("connection rate exceeded for %s", ip)
	}
	e.open++
	g.open++
	return nil
}

// Release returns an admitted socket's slot.
func (g *ConnGate) Release(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.clients[ip]
	if !ok {
		return
	}
	if e.open > 0 {
		e.open--
		g.open--
	}
	if e.open == 0 {
		e.idleFrom = g.now()
	}
}

// OpenSockets reports how many admitted sockets are currently open
// across all clients.
func (g *ConnGate) OpenSockets() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// pruneLocked drops entries that have sat idle past the TTL.
func (g *ConnGate) pruneLocked(now time.Time) {
	for ip, e := range g.clients {
		if e.open == 0 && !e.idleFrom.IsZero() && now.Sub(e.idleFrom) > gateIdleTTL {
			delete(g.clients, ip)
		}
	}
}
