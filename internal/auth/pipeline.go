package auth

import (
	"github.com/rjsadow/webssh2/internal/config"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

// DefaultMaxAttempts bounds SSH authentication retries per socket.
const DefaultMaxAttempts = 2

// Result is a resolved authentication attempt ready for the SSH
// service.
type Result struct {
	Credentials sshsvc.Credentials
	Provider    string
	Methods     []string
}

// Pipeline consults providers in priority order and enforces the
// allowed-method policy.
type Pipeline struct {
	providers   []Provider
	allowed     []string
	maxAttempts int
}

// NewPipeline builds the standard chain: session-prefilled
// credentials, then SSO, then manual.
func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{
		providers: []Provider{
			&BasicProvider{},
			NewSSOProvider(cfg.SSO),
			&ManualProvider{},
		},
		allowed:     cfg.SSH.AllowedAuthMethods,
		maxAttempts: DefaultMaxAttempts,
	}
}

// MaxAttempts is the configured SSH retry bound.
func (p *Pipeline) MaxAttempts() int {
	return p.maxAttempts
}

// Resolve walks the provider chain. The first provider returning
// credentials claims the request; its credentials are validated and
// checked against the method policy. A nil result with nil error
// means no provider could serve the request.
func (p *Pipeline) Resolve(r *Request, explicitKeyboardInteractive bool) (*Result, error) {
	for _, provider := range p.providers {
		creds, err := provider.Resolve(r)
		if err != nil {
			return nil, err
		}
		if creds == nil {
			continue
		}
		if err := ValidateCredentials(creds); err != nil {
			return nil, err
		}
		methods := ResolveRequestedMethods(*creds, explicitKeyboardInteractive)
		if err := CheckPolicy(p.allowed, methods); err != nil {
			return nil, err
		}
		return &Result{
			Credentials: *creds,
			Provider:    provider.Name(),
			Methods:     methods,
		}, nil
	}
	return nil, nil
}

// KeyboardInteractiveAllowed reports whether policy permits the
// keyboard-interactive fallback at all.
func (p *Pipeline) KeyboardInteractiveAllowed() bool {
	for _, m := range p.allowed {
		if m == MethodKeyboardInteractive {
			return true
		}
	}
	return false
}
