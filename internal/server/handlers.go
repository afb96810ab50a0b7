package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rjsadow/webssh2/internal/auth"
	"github.com/rjsadow/webssh2/internal/config"
	"github.com/rjsadow/webssh2/internal/events"
	"github.com/rjsadow/webssh2/internal/gateway"
	"github.com/rjsadow/webssh2/internal/session"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
	"github.com/rjsadow/webssh2/internal/validation"
)

// Handlers carries the HTTP route dependencies. sessions, gate, and
// metrics feed the status endpoint and may be nil in tests.
type Handlers struct {
	cfg      *config.Config
	seeds    *SeedStore
	sessions *session.Store
	gate     *gateway.ConnGate
	metrics  *events.Metrics
}

// NewHandlers creates the route handlers.
func NewHandlers(cfg *config.Config, seeds *SeedStore, sessions *session.Store, gate *gateway.ConnGate, metrics *events.Metrics) *Handlers {
	return &Handlers{cfg: cfg, seeds: seeds, sessions: sessions, gate: gate, metrics: metrics}
}

// HandleStatus serves GET /ssh/status: the live session and
// connection gauges plus open-socket and event totals, for operators
// and scrapers.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]any{}
	if h.sessions != nil {
		payload["activeSessions"] = h.sessions.Len()
	}
	if h.gate != nil {
		payload["openSockets"] = h.gate.OpenSockets()
	}
	if h.metrics != nil {
		payload["liveConnections"] = h.metrics.Gauge("connections")
		payload["eventsTotal"] = h.metrics.Total()
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// HandleHostRoute serves GET /ssh/host/{host}: it requires HTTP Basic
// credentials, validates the target, and seeds the session for the
// following WebSocket upgrade.
//
// Query parameters read: port and sshterm. Other parameters, such as
// header or env, are not read; no environment is seeded from the query.
func (h *Handlers) HandleHostRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username, password, ok := auth.ParseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="WebSSH2"`)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	host := strings.TrimPrefix(r.URL.Path, "/ssh/host/")
	host, err := validation.ValidateHost(host)
	if err != nil {
		h.writeError(w, NewValidationError(err.Error()), http.StatusBadRequest)
		return
	}

	port := h.cfg.SSH.Port
	if v := r.URL.Query().Get("port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || validation.ValidatePort(p) != nil {
			h.writeError(w, NewValidationError("invalid port"), http.StatusBadRequest)
			return
		}
		port = p
	}

	allowed, err := targetAllowed(r.Context(), host, h.cfg.SSH.AllowedSubnets)
	if err != nil {
		h.writeError(w, NewValidationError("target host could not be resolved"), http.StatusBadRequest)
		return
	}
	if !allowed {
		h.writeError(w, NewValidationError("target host not allowed"), http.StatusForbidden)
		return
	}

	creds := &sshsvc.Credentials{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Term:     r.URL.Query().Get("sshterm"),
	}
	h.seeds.Put(w, creds)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("session ready\n"))
}

// HandleConfig serves GET /ssh/config.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"allowedAuthMethods": h.cfg.SSH.AllowedAuthMethods,
	})
}

// HandleSSO serves POST /ssh: the SSO entry. The request must come
// from a trusted proxy; credentials arrive in mapped headers or the
// form body, optionally guarded by a CSRF token.
func (h *Handlers) HandleSSO(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.cfg.SSO.Enabled {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	ip := clientIP(r)
	if !validation.IsIPInSubnets(ip, h.cfg.SSO.TrustedProxies) {
		h.writeError(w, NewValidationError("untrusted proxy"), http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewValidationError("invalid form body"), http.StatusBadRequest)
		return
	}
	if h.cfg.SSO.CSRFProtection {
		token := r.Header.Get("X-CSRF-Token")
		if token == "" || token != r.PostFormValue("csrf_token") {
			h.writeError(w, NewValidationError("csrf token mismatch"), http.StatusForbidden)
			return
		}
	}

	form := map[string]string{
		"username": r.PostFormValue("username"),
		"password": r.PostFormValue("password"),
		"session":  r.PostFormValue("session"),
	}
	provider := auth.NewSSOProvider(h.cfg.SSO)
	creds, err := provider.Resolve(&auth.Request{
		Header:   r.Header,
		Form:     form,
		ClientIP: ip,
	})
	if err != nil {
		h.writeError(w, &GatewayError{Kind: KindAuth, Message: err.Error()}, http.StatusUnauthorized)
		return
	}
	if creds == nil {
		h.writeError(w, NewValidationError("missing sso credentials"), http.StatusBadRequest)
		return
	}

	host := r.PostFormValue("host")
	if host == "" {
		h.writeError(w, NewValidationError("host required"), http.StatusBadRequest)
		return
	}
	host, err = validation.ValidateHost(host)
	if err != nil {
		h.writeError(w, NewValidationError(err.Error()), http.StatusBadRequest)
		return
	}
	creds.Host = host
	creds.Port = h.cfg.SSH.Port
	if v := r.PostFormValue("port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || validation.ValidatePort(p) != nil {
			h.writeError(w, NewValidationError("invalid port"), http.StatusBadRequest)
			return
		}
		creds.Port = p
	}

	h.seeds.Put(w, creds)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("session ready\n"))
}

// writeError renders the HTTP error contract: typed errors expose
// their message and code, anything else is masked.
func (h *Handlers) writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var ge *GatewayError
	if errors.As(err, &ge) {
		payload := map[string]any{"error": ge.Message}
		if ge.Code != "" {
			payload["code"] = ge.Code
		}
		json.NewEncoder(w).Encode(payload)
		return
	}
	slog.Error("unhandled request error", "error", err)
	json.NewEncoder(w).Encode(map[string]any{"error": "An unexpected error occurred"})
}

// targetAllowed checks the target against the subnet allow-list.
// Hostnames are resolved first; any resolved address inside the list
// admits the target. An empty list admits everything without a
// lookup.
func targetAllowed(ctx context.Context, host string, subnets []string) (bool, error) {
	if len(subnets) == 0 {
		return true, nil
	}
	if net.ParseIP(host) != nil {
		return validation.IsIPInSubnets(host, subnets), nil
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return false, err
	}
	for _, addr := range addrs {
		if validation.IsIPInSubnets(addr, subnets) {
			return true, nil
		}
	}
	return false, nil
}

// clientIP extracts the peer IP.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}
