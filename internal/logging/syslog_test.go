package logging

import (
	"strings"
	"testing"
	"time"
)

func syslogCfg() SyslogConfig {
	return SyslogConfig{
		Facility:     "local0",
		Hostname:     "gw01",
		AppName:      "webssh2",
		EnterpriseID: "32473",
		PID:          4242,
	}
}

func TestFormatSyslog_Framing(t *testing.T) {
	rec := Record{
		TS:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:   LevelInfo,
		Event:   "session_start",
		Message: "m",
	}
	out := FormatSyslog(rec, nil, syslogCfg())

	if !strings.HasPrefix(out, "<134>1 ") {
		t.Errorf("output = %q, want <134>1 prefix", out)
	}
	if !strings.Contains(out, `[webssh2@32473 event="session_start"`) {
		t.Errorf("output = %q, want structured data element", out)
	}
	if !strings.HasSuffix(out, " m") {
		t.Errorf("output = %q, want trailing message", out)
	}
	if !strings.Contains(out, " gw01 webssh2 4242 session_start ") {
		t.Errorf("output = %q, want header fields", out)
	}
}

func TestFormatSyslog_SeverityMap(t *testing.T) {
	tests := []struct {
		level Level
		pri   string
	}{
		{LevelDebug, "<135>1 "},
		{LevelInfo, "<134>1 "},
		{LevelWarn, "<132>1 "},
		{LevelError, "<131>1 "},
	}
	for _, tt := range tests {
		rec := Record{TS: time.Now(), Level: tt.level, Event: "session_start", Message: "x"}
		out := FormatSyslog(rec, nil, syslogCfg())
		if !strings.HasPrefix(out, tt.pri) {
			t.Errorf("level %s: output = %q, want prefix %q", tt.level, out[:8], tt.pri)
		}
	}
}

func TestFormatSyslog_SDEscaping(t *testing.T) {
	rec := Record{
		TS:       time.Now(),
		Level:    LevelInfo,
		Event:    "auth_failure",
		Message:  "x",
		Username: `we"ird\user]`,
	}
	out := FormatSyslog(rec, nil, syslogCfg())
	if !strings.Contains(out, `username="we\"ird\\user\]"`) {
		t.Errorf("output = %q, want escaped SD value", out)
	}
}

func TestFormatSyslog_IncludeJSON(t *testing.T) {
	cfg := syslogCfg()
	cfg.IncludeJSON = true
	rec := Record{TS: time.Now(), Level: LevelInfo, Event: "session_start", Message: "m"}
	formatted := []byte(`{"event":"session_start"}`)
	out := FormatSyslog(rec, formatted, cfg)
	if !strings.HasSuffix(out, `] {"event":"session_start"}`) {
		t.Errorf("output = %q, want full JSON message", out)
	}
}

func TestFormatSyslog_EmptyContextFieldsOmitted(t *testing.T) {
	rec := Record{TS: time.Now(), Level: LevelInfo, Event: "session_start", Message: "m"}
	out := FormatSyslog(rec, nil, syslogCfg())
	for _, param := range []string{"session_id=", "username=", "client_ip="} {
		if strings.Contains(out, param) {
			t.Errorf("output = %q contains empty param %s", out, param)
		}
	}
}
