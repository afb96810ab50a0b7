// Package config provides centralized configuration management for the
// gateway. Configuration is layered: built-in defaults, then an
// optional JSON config file, then WEBSSH2_* environment variables.
// Invalid configuration causes the application to fail fast with a
// message naming every offending field.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Listen              ListenConfig      `json:"listen"`
	HTTP                HTTPConfig        `json:"http"`
	SSH                 SSHConfig         `json:"ssh"`
	HostKeyVerification HostKeyConfig     `json:"hostKeyVerification"`
	Options             OptionsConfig     `json:"options"`
	Session             SessionConfig     `json:"session"`
	SSO                 SSOConfig         `json:"sso"`
	Logging             LoggingConfig     `json:"logging"`
	Recording           RecordingConfig   `json:"recording"`
}

// ListenConfig controls the HTTP listener.
type ListenConfig struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// HTTPConfig controls the HTTP/WebSocket surface.
type HTTPConfig struct {
	Origins []string `json:"origins"`
}

// SSHConfig controls outbound SSH connections.
type SSHConfig struct {
	Port               int           `json:"port"`
	Term               string        `json:"term"`
	ReadyTimeout       time.Duration `json:"-"`
	KeepaliveInterval  time.Duration `json:"-"`
	KeepaliveCountMax  int           `json:"keepaliveCountMax"`
	AlgorithmPreset    string        `json:"algorithmPreset"`
	AllowedSubnets     []string      `json:"allowedSubnets"`
	AllowedAuthMethods []string      `json:"allowedAuthMethods"`

	// JSON-facing millisecond fields; folded into the Duration
	// fields during Normalize.
	ReadyTimeoutMs      int `json:"readyTimeout"`
	KeepaliveIntervalMs int `json:"keepaliveInterval"`
}

// HostKeyConfig controls host-key verification.
type HostKeyConfig struct {
	Enabled          bool            `json:"enabled"`
	Mode             string          `json:"mode"`
	UnknownKeyAction string          `json:"unknownKeyAction"`
	ServerStore      HostKeyStoreCfg `json:"serverStore"`
	ClientStore      HostKeyStoreCfg `json:"clientStore"`
}

// HostKeyStoreCfg enables one side of the hybrid trust store. A nil
// Enabled defers to the mode's default.
type HostKeyStoreCfg struct {
	Enabled *bool  `json:"enabled,omitempty"`
	DBPath  string `json:"dbPath,omitempty"`
}

// ServerStoreEnabled resolves the effective server-store flag:
// explicit setting wins, otherwise the mode decides.
func (c HostKeyConfig) ServerStoreEnabled() bool {
	if c.ServerStore.Enabled != nil {
		return *c.ServerStore.Enabled
	}
	return c.Mode == "server" || c.Mode == "hybrid"
}

// ClientStoreEnabled resolves the effective client-store flag.
func (c HostKeyConfig) ClientStoreEnabled() bool {
	if c.ClientStore.Enabled != nil {
		return *c.ClientStore.Enabled
	}
	return c.Mode == "client" || c.Mode == "hybrid"
}

// OptionsConfig holds per-session feature toggles surfaced to clients
// through the permissions event.
type OptionsConfig struct {
	ChallengeButton bool `json:"challengeButton"`
	AutoLog         bool `json:"autoLog"`
	AllowReauth     bool `json:"allowReauth"`
	AllowReconnect  bool `json:"allowReconnect"`
	AllowReplay     bool `json:"allowReplay"`
	ReplayCRLF      bool `json:"replayCRLF"`
}

// SessionConfig controls the HTTP session cookie.
type SessionConfig struct {
	Secret string `json:"secret"`
	Name   string `json:"name"`
}

// SSOConfig controls single-sign-on ingestion.
type SSOConfig struct {
	Enabled           bool              `json:"enabled"`
	CSRFProtection    bool              `json:"csrfProtection"`
	TrustedProxies    []string          `json:"trustedProxies"`
	HeaderMapping     map[string]string `json:"headerMapping"`
	SessionSigningKey string            `json:"sessionSigningKey"`
}

// LoggingConfig controls the structured logging pipeline.
type LoggingConfig struct {
	MinimumLevel string           `json:"minimumLevel"`
	Namespace    string           `json:"namespace"`
	Sampling     SamplingConfig   `json:"sampling"`
	RateLimit    RateLimitConfig  `json:"rateLimit"`
	Transports   []string         `json:"transports"`
	Syslog       SyslogConfig     `json:"syslog"`
	MaxQueueSize int              `json:"maxQueueSize"`
}

// SamplingConfig controls probabilistic log sampling.
type SamplingConfig struct {
	DefaultSampleRate float64            `json:"defaultSampleRate"`
	Rules             map[string]float64 `json:"rules"`
}

// RateLimitConfig controls token-bucket log rate limiting.
type RateLimitConfig struct {
	Rules []RateLimitRule `json:"rules"`
}

// RateLimitRule is one token bucket keyed by event name ("*" for the
// shared bucket).
type RateLimitRule struct {
	Target     string `json:"target"`
	Limit      int    `json:"limit"`
	IntervalMs int    `json:"intervalMs"`
}

// SyslogConfig controls the RFC 5424 transport.
type SyslogConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Facility    string `json:"facility"`
	AppName     string `json:"appName"`
	EnterpriseID string `json:"enterpriseId"`
	IncludeJSON bool   `json:"includeJson"`
}

// RecordingConfig controls session output recording storage.
type RecordingConfig struct {
	Backend   string `json:"backend"` // "local" or "s3"
	LocalDir  string `json:"localDir"`
	S3Bucket  string `json:"s3Bucket"`
	S3Region  string `json:"s3Region"`
	S3Endpoint string `json:"s3Endpoint"`
	S3Prefix  string `json:"s3Prefix"`
	S3AccessKeyID     string `json:"s3AccessKeyId"`
	S3SecretAccessKey string `json:"s3SecretAccessKey"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultListenIP          = "0.0.0.0"
	DefaultListenPort        = 2222
	DefaultSSHPort           = 22
	DefaultTerm              = "xterm-256color"
	DefaultReadyTimeout      = 20 * time.Second
	DefaultKeepaliveInterval = 120 * time.Second
	DefaultKeepaliveCountMax = 10
	DefaultAlgorithmPreset   = "modern"
	DefaultHostKeyMode       = "hybrid"
	DefaultUnknownKeyAction  = "prompt"
	DefaultHostKeyDBPath     = "webssh2_hostkeys.db"
	DefaultSessionName       = "webssh2"
	DefaultMinimumLevel      = "info"
	DefaultLogNamespace      = "webssh2"
	DefaultSampleRate        = 1.0
	DefaultLogQueueSize      = 1000
	DefaultSyslogFacility    = "local0"
	DefaultSyslogAppName     = "webssh2"
	DefaultSyslogEnterpriseID = "32473"
	DefaultRecordingBackend  = "local"
	DefaultRecordingDir      = "recordings"
)

// ValidAuthMethods is the closed set of SSH auth method tokens.
var ValidAuthMethods = []string{"publickey", "password", "keyboard-interactive"}

// Defaults returns a fully populated configuration with built-in
// defaults applied.
func Defaults() *Config {
	return &Config{
		Listen: ListenConfig{IP: DefaultListenIP, Port: DefaultListenPort},
		HTTP:   HTTPConfig{Origins: []string{"*:*"}},
		SSH: SSHConfig{
			Port:               DefaultSSHPort,
			Term:               DefaultTerm,
			ReadyTimeout:       DefaultReadyTimeout,
			KeepaliveInterval:  DefaultKeepaliveInterval,
			KeepaliveCountMax:  DefaultKeepaliveCountMax,
			AlgorithmPreset:    DefaultAlgorithmPreset,
			AllowedAuthMethods: append([]string(nil), ValidAuthMethods...),
		},
		HostKeyVerification: HostKeyConfig{
			Mode:             DefaultHostKeyMode,
			UnknownKeyAction: DefaultUnknownKeyAction,
			ServerStore:      HostKeyStoreCfg{DBPath: DefaultHostKeyDBPath},
		},
		Options: OptionsConfig{
			AllowReauth:    true,
			AllowReconnect: true,
		},
		Session: SessionConfig{Name: DefaultSessionName},
		SSO: SSOConfig{
			HeaderMapping: map[string]string{
				"username": "x-forwarded-user",
				"password": "x-forwarded-password",
				"session":  "x-forwarded-session",
			},
		},
		Logging: LoggingConfig{
			MinimumLevel: DefaultMinimumLevel,
			Namespace:    DefaultLogNamespace,
			Sampling:     SamplingConfig{DefaultSampleRate: DefaultSampleRate},
			Transports:   []string{"stdout"},
			MaxQueueSize: DefaultLogQueueSize,
			Syslog: SyslogConfig{
				Facility:     DefaultSyslogFacility,
				AppName:      DefaultSyslogAppName,
				EnterpriseID: DefaultSyslogEnterpriseID,
			},
		},
		Recording: RecordingConfig{
			Backend:  DefaultRecordingBackend,
			LocalDir: DefaultRecordingDir,
		},
	}
}

// Load builds the effective configuration: defaults, overlaid with the
// JSON file at path (skipped when path is empty or the file does not
// exist), overlaid with environment variables, then normalized and
// validated.
func Load(path string) (*Config, []string, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, nil, err
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, nil, err
	}

	warnings := cfg.Normalize()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, warnings, errs
	}
	return cfg, warnings, nil
}

// loadFile overlays the JSON config file onto the receiver. A missing
// file is not an error; a malformed one is.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ValidationErrors{{Field: "configFile", Message: err.Error()}}
	}
	if err := json.Unmarshal(data, c); err != nil {
		return ValidationErrors{{Field: "configFile", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return nil
}

// Normalize canonicalizes the configuration in place and returns
// warnings for values it had to discard. Normalize is idempotent.
func (c *Config) Normalize() []string {
	var warnings []string

	if c.SSH.ReadyTimeoutMs > 0 {
		c.SSH.ReadyTimeout = time.Duration(c.SSH.ReadyTimeoutMs) * time.Millisecond
		c.SSH.ReadyTimeoutMs = 0
	}
	if c.SSH.KeepaliveIntervalMs > 0 {
		c.SSH.KeepaliveInterval = time.Duration(c.SSH.KeepaliveIntervalMs) * time.Millisecond
		c.SSH.KeepaliveIntervalMs = 0
	}

	// Auth methods: lower-case, dedupe, drop unknown tokens with a
	// warning. Order of first appearance is preserved.
	seen := make(map[string]bool, len(c.SSH.AllowedAuthMethods))
	kept := c.SSH.AllowedAuthMethods[:0]
	for _, m := range c.SSH.AllowedAuthMethods {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		if !isValidAuthMethod(m) {
			warnings = append(warnings, fmt.Sprintf("ignoring unknown ssh auth method %q", m))
			continue
		}
		seen[m] = true
		kept = append(kept, m)
	}
	c.SSH.AllowedAuthMethods = kept

	c.SSH.AlgorithmPreset = strings.ToLower(strings.TrimSpace(c.SSH.AlgorithmPreset))
	c.HostKeyVerification.Mode = strings.ToLower(strings.TrimSpace(c.HostKeyVerification.Mode))
	c.HostKeyVerification.UnknownKeyAction = strings.ToLower(strings.TrimSpace(c.HostKeyVerification.UnknownKeyAction))
	c.Logging.MinimumLevel = strings.ToLower(strings.TrimSpace(c.Logging.MinimumLevel))

	return warnings
}

func isValidAuthMethod(m string) bool {
	for _, v := range ValidAuthMethods {
		if m == v {
			return true
		}
	}
	return false
}

// Validate checks the normalized configuration and returns every
// violation found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, ValidationError{"listen.port", fmt.Sprintf("must be in [1, 65535], got %d", c.Listen.Port)})
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		errs = append(errs, ValidationError{"ssh.port", fmt.Sprintf("must be in [1, 65535], got %d", c.SSH.Port)})
	}
	if c.SSH.ReadyTimeout <= 0 {
		errs = append(errs, ValidationError{"ssh.readyTimeout", "must be positive"})
	}
	if c.SSH.KeepaliveCountMax < 0 {
		errs = append(errs, ValidationError{"ssh.keepaliveCountMax", "must not be negative"})
	}
	switch c.SSH.AlgorithmPreset {
	case "strict", "modern", "legacy":
	default:
		errs = append(errs, ValidationError{"ssh.algorithms.preset", fmt.Sprintf("must be strict, modern, or legacy, got %q", c.SSH.AlgorithmPreset)})
	}
	if len(c.SSH.AllowedAuthMethods) == 0 {
		errs = append(errs, ValidationError{"ssh.allowedAuthMethods", "no valid auth methods remain after validation"})
	}
	switch c.HostKeyVerification.Mode {
	case "server", "client", "hybrid":
	default:
		errs = append(errs, ValidationError{"hostKeyVerification.mode", fmt.Sprintf("must be server, client, or hybrid, got %q", c.HostKeyVerification.Mode)})
	}
	switch c.HostKeyVerification.UnknownKeyAction {
	case "prompt", "reject", "accept":
	default:
		errs = append(errs, ValidationError{"hostKeyVerification.unknownKeyAction", fmt.Sprintf("must be prompt, reject, or accept, got %q", c.HostKeyVerification.UnknownKeyAction)})
	}
	switch c.Logging.MinimumLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.minimumLevel", fmt.Sprintf("must be debug, info, warn, or error, got %q", c.Logging.MinimumLevel)})
	}
	if r := c.Logging.Sampling.DefaultSampleRate; r < 0 || r > 1 {
		errs = append(errs, ValidationError{"logging.sampling.defaultSampleRate", fmt.Sprintf("must be in [0, 1], got %v", r)})
	}
	for event, r := range c.Logging.Sampling.Rules {
		if r < 0 || r > 1 {
			errs = append(errs, ValidationError{"logging.sampling.rules." + event, fmt.Sprintf("must be in [0, 1], got %v", r)})
		}
	}
	for i, rule := range c.Logging.RateLimit.Rules {
		if rule.Limit <= 0 || rule.IntervalMs <= 0 {
			errs = append(errs, ValidationError{fmt.Sprintf("logging.rateLimit.rules[%d]", i), "limit and intervalMs must be positive"})
		}
	}
	for _, t := range c.Logging.Transports {
		if t != "stdout" && t != "syslog" {
			errs = append(errs, ValidationError{"logging.transports", fmt.Sprintf("unknown transport %q", t)})
		}
	}
	switch c.Recording.Backend {
	case "local", "s3":
	default:
		errs = append(errs, ValidationError{"recording.backend", fmt.Sprintf("must be local or s3, got %q", c.Recording.Backend)})
	}
	if c.SSO.Enabled && len(c.SSO.TrustedProxies) == 0 {
		errs = append(errs, ValidationError{"sso.trustedProxies", "sso requires at least one trusted proxy"})
	}

	return errs
}

// String renders the configuration for startup logging with secrets
// masked.
func (c *Config) String() string {
	masked := *c
	if masked.Session.Secret != "" {
		masked.Session.Secret = "********"
	}
	if masked.SSO.SessionSigningKey != "" {
		masked.SSO.SessionSigningKey = "********"
	}
	if masked.Recording.S3SecretAccessKey != "" {
		masked.Recording.S3SecretAccessKey = "********"
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return "<unprintable config>"
	}
	return string(data)
}
