package ssh

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/rjsadow/webssh2/internal/validation"
)

// ErrorKind classifies a connection failure for routing to the right
// outbound event.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	KindAuth    ErrorKind = "auth"
	KindUnknown ErrorKind = "unknown"
)

// ClassifiedError is the normalized form of an upstream SSH or network
// failure.
type ClassifiedError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

var (
	networkCodes = map[string]bool{"ENOTFOUND": true, "ECONNREFUSED": true, "ENETUNREACH": true}
	timeoutCodes = map[string]bool{"ETIMEDOUT": true, "ECONNRESET": true}

	// Matches codes embedded in wrapped error text, e.g.
	// "AggregateError [ECONNREFUSED]".
	embeddedCode = regexp.MustCompile(`\[(E[A-Z]+)\]`)
)

// Classify normalizes err into a ClassifiedError. The message falls
// back through code and embedded code before giving up as unknown.
func Classify(err error, host string) *ClassifiedError {
	if err == nil {
		return nil
	}
	if ce := (*ClassifiedError)(nil); errors.As(err, &ce) {
		return ce
	}

	msg := strings.TrimSpace(err.Error())
	code := extractCode(err, msg)
	if msg == "" {
		msg = code
	}
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}

	lower := strings.ToLower(msg)
	switch {
	case code == "ENOTFOUND":
		return &ClassifiedError{Kind: KindNetwork, Code: code, Message: enhanceDNSMessage(host)}
	case networkCodes[code],
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "no such host"):
		if strings.Contains(lower, "no such host") {
			return &ClassifiedError{Kind: KindNetwork, Code: "ENOTFOUND", Message: enhanceDNSMessage(host)}
		}
		return &ClassifiedError{Kind: KindNetwork, Code: code, Message: msg}
	case timeoutCodes[code],
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "etimedout"),
		strings.Contains(lower, "connection reset"):
		return &ClassifiedError{Kind: KindTimeout, Code: code, Message: msg}
	case strings.Contains(lower, "unable to authenticate"),
		strings.Contains(lower, "client-authentication"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "auth fail"),
		strings.Contains(lower, "no supported methods remain"):
		return &ClassifiedError{Kind: KindAuth, Code: code, Message: msg}
	}
	return &ClassifiedError{Kind: KindUnknown, Code: code, Message: msg}
}

// extractCode pulls a classic error code out of the error chain: DNS
// failures, refused connections, timeouts, or a bracketed code left
// in the message by an upstream layer.
func extractCode(err error, msg string) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "ETIMEDOUT"
		}
		return "ENOTFOUND"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "connection refused"):
		return "ECONNREFUSED"
	case strings.Contains(lower, "network is unreachable"):
		return "ENETUNREACH"
	case strings.Contains(lower, "connection reset"):
		return "ECONNRESET"
	}
	if m := embeddedCode.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// enhanceDNSMessage builds the operator-facing DNS failure message
// with the sanitized hostname and the Docker resolver hint.
func enhanceDNSMessage(host string) string {
	safe := validation.SanitizeHostname(host)
	return fmt.Sprintf(
		"DNS resolution failed for '%s'. If the gateway runs inside Docker, "+
			"verify the container's DNS configuration and that the hostname is "+
			"resolvable from inside the container network.", safe)
}
