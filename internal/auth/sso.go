package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rjsadow/webssh2/internal/config"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
	"github.com/rjsadow/webssh2/internal/validation"
)

// SSOProvider maps credentials out of trusted-proxy headers or a POST
// body. Requests from outside the trusted proxy list never match.
type SSOProvider struct {
	cfg config.SSOConfig
}

// NewSSOProvider creates the provider.
func NewSSOProvider(cfg config.SSOConfig) *SSOProvider {
	return &SSOProvider{cfg: cfg}
}

// Name implements Provider.
func (*SSOProvider) Name() string { return "sso" }

// Resolve implements Provider. Header values win over form values;
// a signed session assertion, when configured, is verified and may
// override the username.
func (p *SSOProvider) Resolve(r *Request) (*sshsvc.Credentials, error) {
	if !p.cfg.Enabled {
		return nil, nil
	}
	if !validation.IsIPInSubnets(r.ClientIP, p.cfg.TrustedProxies) {
		return nil, nil
	}

	username := p.value(r, "username")
	password := p.value(r, "password")
	session := p.value(r, "session")
	if username == "" && session == "" {
		return nil, nil
	}

	if session != "" && p.cfg.SessionSigningKey != "" {
		subject, err := p.verifyAssertion(session)
		if err != nil {
			return nil, fmt.Errorf("sso session assertion rejected: %w", err)
		}
		if subject != "" {
			username = subject
		}
	}
	if username == "" {
		return nil, nil
	}

	return &sshsvc.Credentials{Username: username, Password: password}, nil
}

// value reads a mapped field from headers first, then the form body.
func (p *SSOProvider) value(r *Request, field string) string {
	name, ok := p.cfg.HeaderMapping[field]
	if !ok {
		return ""
	}
	if r.Header != nil {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	if r.Form != nil {
		return r.Form[field]
	}
	return ""
}

// verifyAssertion validates the HMAC-signed session token and returns
// its subject.
func (p *SSOProvider) verifyAssertion(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(p.cfg.SessionSigningKey), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return parsed.Claims.GetSubject()
}
