package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rjsadow/webssh2/internal/config"
	"github.com/rjsadow/webssh2/internal/gateway"
)

// hardenedHeaders are applied to every response. The CSP keeps
// ws:/wss: in connect-src or the terminal cannot attach its socket;
// everything else is locked to the gateway's own origin.
var hardenedHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
	"Content-Security-Policy": "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:; " +
		"connect-src 'self' ws: wss:; " +
		"frame-ancestors 'none'",
}

// New assembles the HTTP server: routes, response hardening, request
// tagging, and the WebSocket endpoint.
func New(cfg *config.Config, handlers *Handlers, ws *gateway.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ssh/host/", handlers.HandleHostRoute)
	mux.HandleFunc("/ssh/config", handlers.HandleConfig)
	mux.HandleFunc("/ssh/status", handlers.HandleStatus)
	mux.HandleFunc("/ssh", handlers.HandleSSO)
	mux.Handle("/ws", ws)

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range hardenedHeaders {
			w.Header().Set(name, value)
		}
		tagged, id := gateway.TagRequestID(r)
		w.Header().Set("X-Request-ID", id)
		mux.ServeHTTP(w, tagged)
	})

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Listen.IP, cfg.Listen.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
