package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

// Provider supplies credentials from one source. Providers are
// consulted in priority order until one claims the request.
type Provider interface {
	Name() string

	// Resolve returns the credentials this provider can supply for
	// the request, or (nil, nil) when it declines.
	Resolve(r *Request) (*sshsvc.Credentials, error)
}

// Request is the material a provider may draw from.
type Request struct {
	// Prefilled credentials seeded by a route handler or HTTP Basic
	// auth before the WebSocket upgrade.
	Prefilled *sshsvc.Credentials

	// Header and ClientIP from the upgrade request, for SSO.
	Header   http.Header
	Form     map[string]string
	ClientIP string

	// Manual credentials from an authenticate message.
	Manual *sshsvc.Credentials
}

// BasicProvider serves credentials already present in the HTTP
// session, typically extracted from an Authorization: Basic header or
// the /ssh/host route.
type BasicProvider struct{}

// Name implements Provider.
func (*BasicProvider) Name() string { return "basic" }

// Resolve implements Provider.
func (*BasicProvider) Resolve(r *Request) (*sshsvc.Credentials, error) {
	if r.Prefilled == nil {
		return nil, nil
	}
	creds := *r.Prefilled
	return &creds, nil
}

// ParseBasicAuth extracts a username and password from an
// Authorization: Basic header value. Returns ok=false when absent or
// malformed.
func ParseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}

// ManualProvider serves credentials delivered by the client's
// authenticate message.
type ManualProvider struct{}

// Name implements Provider.
func (*ManualProvider) Name() string { return "manual" }

// Resolve implements Provider.
func (*ManualProvider) Resolve(r *Request) (*sshsvc.Credentials, error) {
	if r.Manual == nil {
		return nil, nil
	}
	creds := *r.Manual
	return &creds, nil
}
