package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestClassify_DNSFailure(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "bad.example", IsNotFound: true}
	ce := Classify(err, "bad.example")

	if ce.Kind != KindNetwork {
		t.Errorf("Kind = %v, want network", ce.Kind)
	}
	if ce.Code != "ENOTFOUND" {
		t.Errorf("Code = %v, want ENOTFOUND", ce.Code)
	}
	if !strings.Contains(ce.Message, "DNS resolution failed for 'bad.example'") {
		t.Errorf("Message = %q, want DNS enhancement", ce.Message)
	}
	if !strings.Contains(ce.Message, "Docker") {
		t.Errorf("Message = %q, want Docker hint", ce.Message)
	}
}

func TestClassify_DNSSanitizesHostname(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}
	ce := Classify(err, "evil;host`$(cmd)")
	if strings.ContainsAny(ce.Message, ";`$()") {
		t.Errorf("Message leaked shell characters: %q", ce.Message)
	}
}

func TestClassify_Refused(t *testing.T) {
	ce := Classify(fmt.Errorf("dial tcp 10.0.0.5:22: connect: connection refused"), "10.0.0.5")
	if ce.Kind != KindNetwork {
		t.Errorf("Kind = %v, want network", ce.Kind)
	}
	if ce.Code != "ECONNREFUSED" {
		t.Errorf("Code = %v, want ECONNREFUSED", ce.Code)
	}
}

func TestClassify_Timeout(t *testing.T) {
	ce := Classify(fmt.Errorf("i/o timeout while dialing"), "h")
	if ce.Kind != KindTimeout {
		t.Errorf("Kind = %v, want timeout", ce.Kind)
	}

	ce = Classify(fmt.Errorf("read tcp: connection reset by peer"), "h")
	if ce.Kind != KindTimeout || ce.Code != "ECONNRESET" {
		t.Errorf("reset: Kind=%v Code=%v", ce.Kind, ce.Code)
	}
}

func TestClassify_Auth(t *testing.T) {
	msgs := []string{
		"ssh: unable to authenticate, attempted methods [none password]",
		"ssh: handshake failed: ssh: unable to authenticate",
		"permission denied (publickey)",
	}
	for _, msg := range msgs {
		ce := Classify(errors.New(msg), "h")
		if ce.Kind != KindAuth {
			t.Errorf("Classify(%q).Kind = %v, want auth", msg, ce.Kind)
		}
	}
}

func TestClassify_EmbeddedCode(t *testing.T) {
	ce := Classify(errors.New("AggregateError [ECONNREFUSED]"), "h")
	if ce.Code != "ECONNREFUSED" {
		t.Errorf("Code = %v, want ECONNREFUSED", ce.Code)
	}
	if ce.Kind != KindNetwork {
		t.Errorf("Kind = %v, want network", ce.Kind)
	}
}

func TestClassify_Unknown(t *testing.T) {
	ce := Classify(errors.New("something inexplicable"), "h")
	if ce.Kind != KindUnknown {
		t.Errorf("Kind = %v, want unknown", ce.Kind)
	}
	if ce.Message != "something inexplicable" {
		t.Errorf("Message = %q", ce.Message)
	}
}

func TestClassify_PassThrough(t *testing.T) {
	orig := &ClassifiedError{Kind: KindAuth, Message: "already classified"}
	if got := Classify(orig, "h"); got != orig {
		t.Errorf("Classify() rewrapped an already classified error")
	}
	if Classify(nil, "h") != nil {
		t.Error("Classify(nil) != nil")
	}
}
