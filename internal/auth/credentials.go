// Package auth implements the authentication pipeline: credential
// validation, the allowed-method policy, the ordered provider chain
// (session-prefilled, SSO, manual, keyboard-interactive relay), and
// the keyboard-interactive prompt relay itself.
package auth

import (
	"fmt"
	"strings"

	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
	"github.com/rjsadow/webssh2/internal/validation"
)

// Method tokens as they appear in config and policy errors.
const (
	MethodPassword            = "password"
	MethodPublicKey           = "publickey"
	MethodKeyboardInteractive = "keyboard-interactive"
)

// ErrInvalidCredentials rejects a credential payload before any SSH
// attempt is made.
type ErrInvalidCredentials struct {
	Reason string
}

func (e *ErrInvalidCredentials) Error() string {
	return "Invalid credentials"
}

// ValidateCredentials checks the shape of a credential payload:
// host and port in range, a username, and either a password or a
// recognizable private key. The passphrase is cleared unless the key
// is actually encrypted.
func ValidateCredentials(creds *sshsvc.Credentials) error {
	host, err := validation.ValidateHost(creds.Host)
	if err != nil {
		return &ErrInvalidCredentials{Reason: err.Error()}
	}
	creds.Host = host
	if err := validation.ValidatePort(creds.Port); err != nil {
		return &ErrInvalidCredentials{Reason: err.Error()}
	}
	if strings.TrimSpace(creds.Username) == "" {
		return &ErrInvalidCredentials{Reason: "username required"}
	}
	if creds.Password == "" && creds.PrivateKey == "" {
		return &ErrInvalidCredentials{Reason: "password or private key required"}
	}
	if creds.PrivateKey != "" && !sshsvc.IsValidPrivateKey(creds.PrivateKey) {
		return &ErrInvalidCredentials{Reason: "unrecognized private key format"}
	}
	if creds.PrivateKey != "" && !sshsvc.IsEncryptedPrivateKey(creds.PrivateKey) {
		creds.Passphrase = ""
	}
	return nil
}

// ResolveRequestedMethods derives the SSH auth methods implied by a
// credential payload, in a fixed order: publickey for a valid private
// key, password for a non-empty password, keyboard-interactive when
// explicitly requested. The function is idempotent and
// order-preserving.
func ResolveRequestedMethods(creds sshsvc.Credentials, explicitKeyboardInteractive bool) []string {
	var methods []string
	if creds.PrivateKey != "" && sshsvc.IsValidPrivateKey(creds.PrivateKey) {
		methods = append(methods, MethodPublicKey)
	}
	if creds.Password != "" {
		methods = append(methods, MethodPassword)
	}
	if explicitKeyboardInteractive {
		methods = append(methods, MethodKeyboardInteractive)
	}
	return methods
}

// PolicyError reports a requested method the configuration forbids.
type PolicyError struct {
	Method string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("auth_method_disabled: %s", e.Method)
}

// CheckPolicy verifies every requested method is allowed. The first
// disallowed method fails the attempt before the SSH server is ever
// contacted.
func CheckPolicy(allowed []string, requested []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		allowedSet[m] = true
	}
	for _, m := range requested {
		if !allowedSet[m] {
			return &PolicyError{Method: m}
		}
	}
	return nil
}
