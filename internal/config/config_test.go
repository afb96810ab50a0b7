package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnvVars removes every WEBSSH2_* variable for the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "WEBSSH2_") {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Load() warnings = %v, want none", warnings)
	}

	if cfg.Listen.IP != DefaultListenIP {
		t.Errorf("Listen.IP = %v, want %v", cfg.Listen.IP, DefaultListenIP)
	}
	if cfg.Listen.Port != DefaultListenPort {
		t.Errorf("Listen.Port = %v, want %v", cfg.Listen.Port, DefaultListenPort)
	}
	if cfg.SSH.Port != DefaultSSHPort {
		t.Errorf("SSH.Port = %v, want %v", cfg.SSH.Port, DefaultSSHPort)
	}
	if cfg.SSH.Term != DefaultTerm {
		t.Errorf("SSH.Term = %v, want %v", cfg.SSH.Term, DefaultTerm)
	}
	if cfg.SSH.ReadyTimeout != DefaultReadyTimeout {
		t.Errorf("SSH.ReadyTimeout = %v, want %v", cfg.SSH.ReadyTimeout, DefaultReadyTimeout)
	}
	if cfg.SSH.KeepaliveInterval != DefaultKeepaliveInterval {
		t.Errorf("SSH.KeepaliveInterval = %v, want %v", cfg.SSH.KeepaliveInterval, DefaultKeepaliveInterval)
	}
	if cfg.SSH.KeepaliveCountMax != DefaultKeepaliveCountMax {
		t.Errorf("SSH.KeepaliveCountMax = %v, want %v", cfg.SSH.KeepaliveCountMax, DefaultKeepaliveCountMax)
	}
	want := []string{"publickey", "password", "keyboard-interactive"}
	if !reflect.DeepEqual(cfg.SSH.AllowedAuthMethods, want) {
		t.Errorf("AllowedAuthMethods = %v, want %v", cfg.SSH.AllowedAuthMethods, want)
	}
	if cfg.HostKeyVerification.Mode != DefaultHostKeyMode {
		t.Errorf("HostKeyVerification.Mode = %v, want %v", cfg.HostKeyVerification.Mode, DefaultHostKeyMode)
	}
	if cfg.HostKeyVerification.UnknownKeyAction != DefaultUnknownKeyAction {
		t.Errorf("UnknownKeyAction = %v, want %v", cfg.HostKeyVerification.UnknownKeyAction, DefaultUnknownKeyAction)
	}
	if cfg.Session.Name != DefaultSessionName {
		t.Errorf("Session.Name = %v, want %v", cfg.Session.Name, DefaultSessionName)
	}
	if cfg.Logging.MinimumLevel != DefaultMinimumLevel {
		t.Errorf("Logging.MinimumLevel = %v, want %v", cfg.Logging.MinimumLevel, DefaultMinimumLevel)
	}
	if cfg.Logging.Sampling.DefaultSampleRate != DefaultSampleRate {
		t.Errorf("DefaultSampleRate = %v, want %v", cfg.Logging.Sampling.DefaultSampleRate, DefaultSampleRate)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("WEBSSH2_LISTEN_PORT", "8443")
	t.Setenv("WEBSSH2_SSH_READY_TIMEOUT", "5000")
	t.Setenv("WEBSSH2_SSH_ALLOWED_AUTH_METHODS", "password,publickey")
	t.Setenv("WEBSSH2_OPTIONS_ALLOW_REPLAY", "true")
	t.Setenv("WEBSSH2_SSO_ENABLED", "true")
	t.Setenv("WEBSSH2_SSO_TRUSTED_PROXIES", `["10.0.0.0/8"]`)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen.Port != 8443 {
		t.Errorf("Listen.Port = %v, want 8443", cfg.Listen.Port)
	}
	if cfg.SSH.ReadyTimeout != 5*time.Second {
		t.Errorf("ReadyTimeout = %v, want 5s", cfg.SSH.ReadyTimeout)
	}
	want := []string{"password", "publickey"}
	if !reflect.DeepEqual(cfg.SSH.AllowedAuthMethods, want) {
		t.Errorf("AllowedAuthMethods = %v, want %v", cfg.SSH.AllowedAuthMethods, want)
	}
	if !cfg.Options.AllowReplay {
		t.Error("Options.AllowReplay = false, want true")
	}
	if !reflect.DeepEqual(cfg.SSO.TrustedProxies, []string{"10.0.0.0/8"}) {
		t.Errorf("TrustedProxies = %v", cfg.SSO.TrustedProxies)
	}
}

func TestLoad_FileLayer(t *testing.T) {
	clearEnvVars(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"listen": {"ip": "127.0.0.1", "port": 3000}, "ssh": {"term": "vt100"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen.IP != "127.0.0.1" || cfg.Listen.Port != 3000 {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if cfg.SSH.Term != "vt100" {
		t.Errorf("SSH.Term = %v, want vt100", cfg.SSH.Term)
	}

	// Env wins over file.
	t.Setenv("WEBSSH2_SSH_TERM", "xterm")
	cfg, _, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SSH.Term != "xterm" {
		t.Errorf("SSH.Term = %v, want env override xterm", cfg.SSH.Term)
	}
}

func TestNormalize_UnknownAuthMethodWarns(t *testing.T) {
	cfg := Defaults()
	cfg.SSH.AllowedAuthMethods = []string{"password", "hostbased", "PASSWORD"}

	warnings := cfg.Normalize()
	if len(warnings) != 1 {
		t.Fatalf("Normalize() warnings = %v, want 1", warnings)
	}
	if !strings.Contains(warnings[0], "hostbased") {
		t.Errorf("warning = %q, want mention of hostbased", warnings[0])
	}
	if !reflect.DeepEqual(cfg.SSH.AllowedAuthMethods, []string{"password"}) {
		t.Errorf("AllowedAuthMethods = %v, want [password]", cfg.SSH.AllowedAuthMethods)
	}
}

func TestValidate_EmptyAuthMethodsIsError(t *testing.T) {
	cfg := Defaults()
	cfg.SSH.AllowedAuthMethods = []string{"hostbased"}
	cfg.Normalize()
	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if e.Field == "ssh.allowedAuthMethods" {
			found = true
		}
	}
	if !found {
		t.Errorf("Validate() errors = %v, want ssh.allowedAuthMethods error", errs)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	cfg := Defaults()
	cfg.SSH.AllowedAuthMethods = []string{"Password", "publickey", "password"}
	cfg.SSH.ReadyTimeoutMs = 30000
	cfg.Normalize()

	before := *cfg
	beforeMethods := append([]string(nil), cfg.SSH.AllowedAuthMethods...)
	cfg.Normalize()

	if !reflect.DeepEqual(cfg.SSH.AllowedAuthMethods, beforeMethods) {
		t.Errorf("second Normalize changed methods: %v -> %v", beforeMethods, cfg.SSH.AllowedAuthMethods)
	}
	if cfg.SSH.ReadyTimeout != before.SSH.ReadyTimeout {
		t.Errorf("second Normalize changed ReadyTimeout: %v -> %v", before.SSH.ReadyTimeout, cfg.SSH.ReadyTimeout)
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Secret = "super-secret"
	cfg.SSO.SessionSigningKey = "hmac-key"
	cfg.Recording.S3SecretAccessKey = "aws-secret"

	s := cfg.String()
	for _, secret := range []string{"super-secret", "hmac-key", "aws-secret"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaked %q", secret)
		}
	}
	if !strings.Contains(s, "********") {
		t.Error("String() does not mask")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"bad listen port", func(c *Config) { c.Listen.Port = 0 }, "listen.port"},
		{"bad preset", func(c *Config) { c.SSH.AlgorithmPreset = "ancient" }, "ssh.algorithms.preset"},
		{"bad mode", func(c *Config) { c.HostKeyVerification.Mode = "both" }, "hostKeyVerification.mode"},
		{"bad level", func(c *Config) { c.Logging.MinimumLevel = "trace" }, "logging.minimumLevel"},
		{"bad sample rate", func(c *Config) { c.Logging.Sampling.DefaultSampleRate = 1.5 }, "logging.sampling.defaultSampleRate"},
		{"sso without proxies", func(c *Config) { c.SSO.Enabled = true }, "sso.trustedProxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mut(cfg)
			errs := cfg.Validate()
			for _, e := range errs {
				if e.Field == tt.field {
					return
				}
			}
			t.Errorf("Validate() errors = %v, want %s", errs, tt.field)
		})
	}
}
