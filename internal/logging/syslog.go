package logging

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// facilityCodes maps RFC 5424 facility names to their numeric codes.
var facilityCodes = map[string]int{
	"kern":   0,
	"user":   1,
	"daemon": 3,
	"auth":   4,
	"local0": 16,
	"local1": 17,
	"local2": 18,
	"local3": 19,
	"local4": 20,
	"local5": 21,
	"local6": 22,
	"local7": 23,
}

// severityCodes maps pipeline levels to syslog severities.
var severityCodes = map[Level]int{
	LevelDebug: 7,
	LevelInfo:  6,
	LevelWarn:  4,
	LevelError: 3,
}

// SyslogConfig configures the RFC 5424 transport.
type SyslogConfig struct {
	Facility     string
	Hostname     string
	AppName      string
	EnterpriseID string
	IncludeJSON  bool
	PID          int
}

// SyslogTransport frames records per RFC 5424 and ships them over a
// datagram connection through the same bounded-queue discipline as
// the stdout transport.
type SyslogTransport struct {
	cfg   SyslogConfig
	inner *StdoutTransport
	conn  net.Conn
}

// NewSyslogTransport dials addr (UDP "host:port") and returns the
// transport. hostname and pid default to the process values.
func NewSyslogTransport(addr string, cfg SyslogConfig, maxQueue int) (*SyslogTransport, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("syslog: dial %s: %w", addr, err)
	}
	return newSyslogTransport(conn, cfg, maxQueue), nil
}

func newSyslogTransport(conn net.Conn, cfg SyslogConfig, maxQueue int) *SyslogTransport {
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
		if cfg.Hostname == "" {
			cfg.Hostname = "-"
		}
	}
	if cfg.AppName == "" {
		cfg.AppName = "webssh2"
	}
	if cfg.EnterpriseID == "" {
		cfg.EnterpriseID = "32473"
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	return &SyslogTransport{
		cfg:   cfg,
		inner: NewStdoutTransport(conn, maxQueue),
		conn:  conn,
	}
}

// Name implements Transport.
func (t *SyslogTransport) Name() string { return "syslog" }

// Emit frames the record and hands it to the queue.
func (t *SyslogTransport) Emit(rec Record, formatted []byte) error {
	framed := FormatSyslog(rec, formatted, t.cfg)
	// Reuse the stdout queue machinery with the framed message as the
	// payload; the queue appends a trailing newline to each message.
	err := t.inner.Emit(rec, []byte(framed))
	if be, ok := err.(*TransportBackpressureError); ok {
		be.Transport = "syslog"
	}
	return err
}

// Close flushes the queue and closes the connection.
func (t *SyslogTransport) Close() error {
	err := t.inner.Close()
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// sdParams lists the record fields carried as structured-data
// parameters, in emission order.
func sdParams(rec Record) [][2]string {
	fields := [][2]string{
		{"event", rec.Event},
		{"session_id", rec.SessionID},
		{"request_id", rec.RequestID},
		{"username", rec.Username},
		{"client_ip", rec.ClientIP},
		{"target_host", rec.TargetHost},
		{"status", rec.Status},
		{"connection_id", rec.ConnectionID},
	}
	out := fields[:0]
	for _, f := range fields {
		if f[1] != "" {
			out = append(out, f)
		}
	}
	return out
}

// escapeSDValue escapes the characters RFC 5424 forbids inside a
// PARAM-VALUE: backslash, closing bracket, and double quote.
func escapeSDValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `]`, `\]`, `"`, `\"`)
	return r.Replace(v)
}

// FormatSyslog renders one record as an RFC 5424 message:
//
//	<PRI>1 TIMESTAMP HOST APP PID MSGID [APP@EID params] MSG
//
// MSG is the record's message, or the full JSON encoding when
// IncludeJSON is set.
func FormatSyslog(rec Record, formatted []byte, cfg SyslogConfig) string {
	facility, ok := facilityCodes[cfg.Facility]
	if !ok {
		facility = facilityCodes["local0"]
	}
	severity, ok := severityCodes[rec.Level]
	if !ok {
		severity = severityCodes[LevelInfo]
	}
	pri := facility*8 + severity

	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now()
	}

	var sd strings.Builder
	sd.WriteByte('[')
	sd.WriteString(cfg.AppName)
	sd.WriteByte('@')
	sd.WriteString(cfg.EnterpriseID)
	for _, p := range sdParams(rec) {
		fmt.Fprintf(&sd, " %s=\"%s\"", p[0], escapeSDValue(p[1]))
	}
	sd.WriteByte(']')

	msg := rec.Message
	if cfg.IncludeJSON {
		msg = string(formatted)
	}
	if msg == "" {
		msg = "-"
	}

	return fmt.Sprintf("<%d>1 %s %s %s %d %s %s %s",
		pri,
		ts.UTC().Format(time.RFC3339),
		cfg.Hostname,
		cfg.AppName,
		cfg.PID,
		rec.Event,
		sd.String(),
		msg,
	)
}
