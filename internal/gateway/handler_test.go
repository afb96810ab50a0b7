package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rjsadow/webssh2/internal/config"
)

func originHandler(origins []string) *Handler {
	cfg := config.Defaults()
	cfg.HTTP.Origins = origins
	return NewHandler(Deps{Config: cfg}, nil, nil)
}

func originRequest(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"wildcard accepts all", []string{"*:*"}, "https://evil.example:8443", true},
		{"no origin header", []string{"gw.example:443"}, "", true},
		{"exact match", []string{"gw.example:443"}, "https://gw.example:443", true},
		{"host mismatch", []string{"gw.example:443"}, "https://other.example:443", false},
		{"port wildcard", []string{"gw.example:*"}, "https://gw.example:8443", true},
		{"no port in origin", []string{"gw.example:*"}, "https://gw.example", true},
		{"empty list denies", nil, "https://gw.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := originHandler(tt.origins)
			if got := h.checkOrigin(originRequest(tt.origin)); got != tt.want {
				t.Errorf("checkOrigin(%q) with %v = %v, want %v", tt.origin, tt.origins, got, tt.want)
			}
		})
	}
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.5:54321"
	ip, port := clientAddr(r)
	if ip != "10.0.0.5" || port != 54321 {
		t.Errorf("clientAddr() = %q, %d", ip, port)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	ip, _ = clientAddr(r)
	if ip != "203.0.113.9" {
		t.Errorf("clientAddr() with XFF = %q, want first hop", ip)
	}

	r.Header.Set("X-Forwarded-For", "not-an-ip")
	ip, _ = clientAddr(r)
	if ip != "10.0.0.5" {
		t.Errorf("clientAddr() with bad XFF = %q, want remote addr", ip)
	}
}

func TestConnGate_RateAndBurst(t *testing.T) {
	g := NewConnGate(1, 2, 0)
	if err := g.Admit("10.0.0.1"); err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}
	if err := g.Admit("10.0.0.1"); err != nil {
		t.Fatalf("second Admit() error = %v", err)
	}
	if err := g.Admit("10.0.0.1"); err == nil {
		t.Error("third immediate Admit() allowed past burst")
	}
	// Other addresses have their own bucket.
	if err := g.Admit("10.0.0.2"); err != nil {
		t.Errorf("fresh address denied: %v", err)
	}
}

func TestConnGate_ConcurrentSocketCap(t *testing.T) {
	g := NewConnGate(1000, 1000, 2)
	if err := g.Admit("10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := g.Admit("10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := g.Admit("10.0.0.1"); err == nil {
		t.Error("Admit() exceeded the per-address socket cap")
	}

	g.Release("10.0.0.1")
	if err := g.Admit("10.0.0.1"); err != nil {
		t.Errorf("Admit() after Release error = %v", err)
	}
}

func TestConnGate_OpenSockets(t *testing.T) {
	g := NewConnGate(1000, 1000, 10)
	g.Admit("10.0.0.1")
	g.Admit("10.0.0.1")
	g.Admit("10.0.0.2")
	if got := g.OpenSockets(); got != 3 {
		t.Errorf("OpenSockets() = %d, want 3", got)
	}
	g.Release("10.0.0.1")
	g.Release("10.0.0.3") // unknown address is a no-op
	if got := g.OpenSockets(); got != 2 {
		t.Errorf("OpenSockets() after release = %d, want 2", got)
	}
}

func TestConnGate_PrunesIdleEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewConnGate(1000, 1000, 10)
	g.now = func() time.Time { return now }

	g.Admit("10.0.0.1")
	g.Release("10.0.0.1")
	now = now.Add(gateIdleTTL + time.Second)
	g.Admit("10.0.0.2")

	g.mu.Lock()
	_, stale := g.clients["10.0.0.1"]
	g.mu.Unlock()
	if stale {
		t.Error("idle entry survived past the TTL")
	}
}

func TestTagRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-Request-ID", "client-chosen")

	tagged, id := TagRequestID(r)
	if id == "" || id == "client-chosen" {
		t.Errorf("id = %q, want a server-minted id", id)
	}
	if got := requestIDFrom(tagged.Context()); got != id {
		t.Errorf("requestIDFrom() = %q, want %q", got, id)
	}
	if got := requestIDFrom(r.Context()); got != "" {
		t.Errorf("untagged request carries id %q", got)
	}
}
