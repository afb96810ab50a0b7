// Package logging implements the structured application event log:
// catalog and context validation, level filtering, probabilistic
// sampling, token-bucket rate limiting, JSON formatting, and
// back-pressured transports (stdout and RFC 5424 syslog).
package logging

import (
	"fmt"
	"net"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// levelRank orders levels for minimum-level filtering.
var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ValidLevel reports whether l is a known level.
func ValidLevel(l Level) bool {
	_, ok := levelRank[l]
	return ok
}

// EventCatalog is the closed set of event names the pipeline accepts.
var EventCatalog = map[string]bool{
	"session_start":      true,
	"session_end":        true,
	"auth_attempt":       true,
	"auth_success":       true,
	"auth_failure":       true,
	"ssh_connect":        true,
	"ssh_disconnect":     true,
	"ssh_error":          true,
	"shell_open":         true,
	"shell_close":        true,
	"exec_start":         true,
	"exec_exit":          true,
	"sftp_open":          true,
	"sftp_list":          true,
	"sftp_stat":          true,
	"sftp_mkdir":         true,
	"sftp_delete":        true,
	"sftp_upload":        true,
	"sftp_download":      true,
	"hostkey_unknown":    true,
	"hostkey_mismatch":   true,
	"hostkey_accepted":   true,
	"hostkey_rejected":   true,
	"prompt_timeout":     true,
	"connection_error":   true,
	"replay_credentials": true,
	"recording_start":    true,
	"recording_stop":     true,
	"crash_recovery":     true,
	"config_loaded":      true,
	"rate_limit":         true,
}

// Record is one structured log entry. Optional fields use pointer or
// zero-value-omitted encoding.
type Record struct {
	TS           time.Time      `json:"ts"`
	Level        Level          `json:"level"`
	Event        string         `json:"event"`
	Message      string         `json:"message,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	ClientIP     string         `json:"client_ip,omitempty"`
	ClientPort   int            `json:"client_port,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	TargetHost   string         `json:"target_host,omitempty"`
	TargetPort   int            `json:"target_port,omitempty"`
	Protocol     string         `json:"protocol,omitempty"`
	Subsystem    string         `json:"subsystem,omitempty"`
	Status       string         `json:"status,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	BytesIn      int64          `json:"bytes_in,omitempty"`
	BytesOut     int64          `json:"bytes_out,omitempty"`
	AuditID      string         `json:"audit_id,omitempty"`
	RetentionTag string         `json:"retention_tag,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ContextError reports a malformed context field on a record.
type ContextError struct {
	Field   string
	Message string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("invalid log context field %q: %s", e.Field, e.Message)
}

var (
	validProtocols  = map[string]bool{"ssh": true, "sftp": true, "scp": true}
	validSubsystems = map[string]bool{"shell": true, "sftp": true, "scp": true, "exec": true}
	validStatuses   = map[string]bool{"success": true, "failure": true}
)

// ValidateRecord checks the record's event name against the catalog
// and every populated context field against its validator. The first
// violation is returned as a *ContextError naming the field.
func ValidateRecord(r Record) error {
	if !ValidLevel(r.Level) {
		return &ContextError{Field: "level", Message: fmt.Sprintf("unknown level %q", r.Level)}
	}
	if !EventCatalog[r.Event] {
		return &ContextError{Field: "event", Message: fmt.Sprintf("event %q is not in the catalog", r.Event)}
	}
	if r.ClientIP != "" && net.ParseIP(r.ClientIP) == nil {
		return &ContextError{Field: "client_ip", Message: fmt.Sprintf("not an IP address: %q", r.ClientIP)}
	}
	if r.ClientPort != 0 && (r.ClientPort < 1 || r.ClientPort > 65535) {
		return &ContextError{Field: "client_port", Message: fmt.Sprintf("out of range: %d", r.ClientPort)}
	}
	if r.TargetPort != 0 && (r.TargetPort < 1 || r.TargetPort > 65535) {
		return &ContextError{Field: "target_port", Message: fmt.Sprintf("out of range: %d", r.TargetPort)}
	}
	if r.Protocol != "" && !validProtocols[r.Protocol] {
		return &ContextError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", r.Protocol)}
	}
	if r.Subsystem != "" && !validSubsystems[r.Subsystem] {
		return &ContextError{Field: "subsystem", Message: fmt.Sprintf("unknown subsystem %q", r.Subsystem)}
	}
	if r.Status != "" && !validStatuses[r.Status] {
		return &ContextError{Field: "status", Message: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.DurationMs < 0 {
		return &ContextError{Field: "duration_ms", Message: "must not be negative"}
	}
	if r.BytesIn < 0 {
		return &ContextError{Field: "bytes_in", Message: "must not be negative"}
	}
	if r.BytesOut < 0 {
		return &ContextError{Field: "bytes_out", Message: "must not be negative"}
	}
	for _, f := range []struct{ name, val string }{
		{"session_id", r.SessionID},
		{"request_id", r.RequestID},
		{"username", r.Username},
		{"connection_id", r.ConnectionID},
	} {
		if len(f.val) > 512 {
			return &ContextError{Field: f.name, Message: "exceeds 512 bytes"}
		}
		for _, c := range f.val {
			if c < 0x20 {
				return &ContextError{Field: f.name, Message: "contains a control character"}
			}
		}
	}
	return nil
}
