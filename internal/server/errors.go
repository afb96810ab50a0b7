// Package server hosts the HTTP surface in front of the WebSocket
// gateway: the credential-seeding route, the config endpoint, and the
// SSO entry point.
package server

import "fmt"

// ErrorKind buckets gateway errors for the HTTP error contract.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindUnknown    ErrorKind = "unknown"
)

// GatewayError is the typed error surfaced as {error, code?} on 500s.
type GatewayError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// NewConfigError builds a config-kind error.
func NewConfigError(code, message string) *GatewayError {
	return &GatewayError{Kind: KindConfig, Code: code, Message: message}
}

// NewValidationError builds a validation-kind error.
func NewValidationError(message string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Message: message}
}
