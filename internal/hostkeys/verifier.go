package hostkeys

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/rjsadow/webssh2/internal/config"
)

// PromptSeverity grades a host-key prompt.
type PromptSeverity string

const (
	SeverityWarning PromptSeverity = "warning"
	SeverityError   PromptSeverity = "error"
)

// Prompt describes a trust decision the client must make.
type Prompt struct {
	Severity           PromptSeverity
	Host               string
	Port               int
	Algorithm          string
	Fingerprint        string
	StoredFingerprint  string // set on mismatch
	Message            string
}

// Prompter asks the user to confirm a host key. Implemented by the
// socket adapter; blocks until the client answers or the prompt times
// out.
type Prompter interface {
	ConfirmHostKey(ctx context.Context, p Prompt) (bool, error)
}

// Verifier applies the configured trust policy during the SSH
// handshake.
type Verifier struct {
	cfg      config.HostKeyConfig
	store    *Store // nil when the server store is disabled
	prompter Prompter
}

// NewVerifier creates a verifier. store may be nil when the server
// store is disabled; prompter may be nil when no client is attached
// (prompts then fall back to reject).
func NewVerifier(cfg config.HostKeyConfig, store *Store, prompter Prompter) *Verifier {
	return &Verifier{cfg: cfg, store: store, prompter: prompter}
}

// Callback returns the ssh.HostKeyCallback enforcing this policy.
// When verification is disabled every key is accepted.
func (v *Verifier) Callback(ctx context.Context) ssh.HostKeyCallback {
	if !v.cfg.Enabled {
		return ssh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host, port := splitHostPort(hostname, remote)
		return v.verify(ctx, host, port, key)
	}
}

// verify runs the §store-then-prompt flow for one presented key.
func (v *Verifier) verify(ctx context.Context, host string, port int, key ssh.PublicKey) error {
	algorithm := key.Type()
	encoded := base64.StdEncoding.EncodeToString(key.Marshal())
	fingerprint := ssh.FingerprintSHA256(key)

	if v.cfg.ServerStoreEnabled() && v.store != nil {
		res, err := v.store.Lookup(ctx, host, port, algorithm, encoded)
		if err != nil {
			return fmt.Errorf("host key verification failed: %w", err)
		}
		switch res.Status {
		case Trusted:
			return nil
		case Mismatch:
			return v.onMismatch(ctx, host, port, algorithm, encoded, fingerprint, res.StoredKey)
		case Unknown:
			return v.onUnknown(ctx, host, port, algorithm, encoded, fingerprint)
		}
	}

	// No server store: the decision is the client's alone.
	return v.onUnknown(ctx, host, port, algorithm, encoded, fingerprint)
}

// onMismatch handles a key that differs from the remembered one.
func (v *Verifier) onMismatch(ctx context.Context, host string, port int, algorithm, encoded, fingerprint, storedKey string) error {
	switch v.cfg.UnknownKeyAction {
	case "accept":
		return v.remember(ctx, host, port, algorithm, encoded, "replaced after mismatch")
	case "reject":
		return fmt.Errorf("host key mismatch for %s:%d (%s)", host, port, algorithm)
	}

	storedFingerprint := ""
	if raw, err := base64.StdEncoding.DecodeString(storedKey); err == nil {
		if pub, err := ssh.ParsePublicKey(raw); err == nil {
			storedFingerprint = ssh.FingerprintSHA256(pub)
		}
	}
	accepted, err := v.prompt(ctx, Prompt{
		Severity:          SeverityError,
		Host:              host,
		Port:              port,
		Algorithm:         algorithm,
		Fingerprint:       fingerprint,
		StoredFingerprint: storedFingerprint,
		Message: fmt.Sprintf("Host key for %s:%d has changed. Stored %s, presented %s.",
			host, port, storedFingerprint, fingerprint),
	})
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("host key mismatch rejected for %s:%d", host, port)
	}
	return v.remember(ctx, host, port, algorithm, encoded, "replaced after mismatch prompt")
}

// onUnknown handles a first-contact key.
func (v *Verifier) onUnknown(ctx context.Context, host string, port int, algorithm, encoded, fingerprint string) error {
	switch v.cfg.UnknownKeyAction {
	case "accept":
		return v.remember(ctx, host, port, algorithm, encoded, "auto-accepted")
	case "reject":
		return fmt.Errorf("unknown host key for %s:%d (%s)", host, port, fingerprint)
	}

	accepted, err := v.prompt(ctx, Prompt{
		Severity:    SeverityWarning,
		Host:        host,
		Port:        port,
		Algorithm:   algorithm,
		Fingerprint: fingerprint,
		Message: fmt.Sprintf("The authenticity of host %s:%d can't be established. %s key fingerprint is %s.",
			host, port, algorithm, fingerprint),
	})
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("unknown host key rejected for %s:%d", host, port)
	}
	return v.remember(ctx, host, port, algorithm, encoded, "accepted by user")
}

// prompt forwards the decision to the client, rejecting when no
// prompter is attached.
func (v *Verifier) prompt(ctx context.Context, p Prompt) (bool, error) {
	if v.prompter == nil {
		return false, fmt.Errorf("no prompt channel available for host key decision on %s:%d", p.Host, p.Port)
	}
	return v.prompter.ConfirmHostKey(ctx, p)
}

// remember persists an accepted key when the server store is enabled.
func (v *Verifier) remember(ctx context.Context, host string, port int, algorithm, encoded, comment string) error {
	if !v.cfg.ServerStoreEnabled() || v.store == nil {
		return nil
	}
	return v.store.Insert(ctx, host, port, algorithm, encoded, comment)
}

// splitHostPort extracts host and port from the dialed address,
// falling back to the remote address.
func splitHostPort(hostname string, remote net.Addr) (string, int) {
	h, p, err := net.SplitHostPort(hostname)
	if err != nil && remote != nil {
		h, p, err = net.SplitHostPort(remote.String())
	}
	if err != nil {
		return hostname, 22
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		port = 22
	}
	return h, port
}
