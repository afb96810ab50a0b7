package gateway

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rjsadow/webssh2/internal/session"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

// CredentialSource hands the adapter credentials seeded by an HTTP
// route handler before the upgrade. Implemented by the server's
// session layer.
type CredentialSource interface {
	// Take returns and clears the credentials seeded for this
	// request, or nil.
	Take(r *http.Request) *sshsvc.Credentials
}

// Handler is the gateway entry point for WebSocket connections. It
// gates admission per client address, binds a session, and hands the
// socket to an Adapter.
type Handler struct {
	deps     Deps
	gate     *ConnGate
	creds    CredentialSource
	upgrader websocket.Upgrader
}

// NewHandler creates the gateway handler.
func NewHandler(deps Deps, gate *ConnGate, creds CredentialSource) *Handler {
	h := &Handler{deps: deps, gate: gate, creds: creds}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP upgrades the connection and runs the socket adapter. The
// gate slot is held for the adapter's whole lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, port := clientAddr(r)

	if h.gate != nil {
		if err := h.gate.Admit(ip); err != nil {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		defer h.gate.Release(ip)
	}

	var prefilled *sshsvc.Credentials
	if h.creds != nil {
		prefilled = h.creds.Take(r)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "client_ip", ip)
		return
	}

	adapter := NewAdapter(conn, h.deps,
		session.ID(uuid.New().String()),
		requestIDFrom(r.Context()),
		session.ClientInfo{IP: ip, Port: port, UserAgent: r.UserAgent()},
		prefilled,
	)
	adapter.Run()
}

// checkOrigin matches the Origin header against the configured
// "host:port" patterns; "*" wildcards either part.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origins := h.deps.Config.HTTP.Origins
	if len(origins) == 0 {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	hostPort := origin
	if i := strings.Index(origin, "://"); i >= 0 {
		hostPort = origin[i+3:]
	}
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host, port = hostPort, "*"
	}
	for _, pattern := range origins {
		ph, pp, err := net.SplitHostPort(pattern)
		if err != nil {
			ph, pp = pattern, "*"
		}
		if (ph == "*" || strings.EqualFold(ph, host)) && (pp == "*" || pp == port) {
			return true
		}
	}
	return false
}

// clientAddr extracts the peer address, honoring the first
// X-Forwarded-For hop.
func clientAddr(r *http.Request) (string, int) {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first, 0
		}
	}
	host, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
