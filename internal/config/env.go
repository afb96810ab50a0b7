package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// loadFromEnv overlays WEBSSH2_* environment variables onto the
// config. Parse failures are collected so the operator sees every bad
// variable at once.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrors = append(parseErrors, ValidationError{
					Field:   name,
					Message: fmt.Sprintf("invalid integer: %q", v),
				})
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				parseErrors = append(parseErrors, ValidationError{
					Field:   name,
					Message: fmt.Sprintf("invalid boolean: %q", v),
				})
				return
			}
			*dst = b
		}
	}
	setMillis := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms <= 0 {
				parseErrors = append(parseErrors, ValidationError{
					Field:   name,
					Message: fmt.Sprintf("invalid milliseconds value: %q (must be a positive integer)", v),
				})
				return
			}
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
	setList := func(name string, dst *[]string) {
		if v := os.Getenv(name); v != "" {
			list, err := parseListValue(v)
			if err != nil {
				parseErrors = append(parseErrors, ValidationError{Field: name, Message: err.Error()})
				return
			}
			*dst = list
		}
	}

	setString("WEBSSH2_LISTEN_IP", &c.Listen.IP)
	setInt("WEBSSH2_LISTEN_PORT", &c.Listen.Port)
	setList("WEBSSH2_HTTP_ORIGINS", &c.HTTP.Origins)

	setInt("WEBSSH2_SSH_PORT", &c.SSH.Port)
	setString("WEBSSH2_SSH_TERM", &c.SSH.Term)
	setMillis("WEBSSH2_SSH_READY_TIMEOUT", &c.SSH.ReadyTimeout)
	setMillis("WEBSSH2_SSH_KEEPALIVE_INTERVAL", &c.SSH.KeepaliveInterval)
	setInt("WEBSSH2_SSH_KEEPALIVE_COUNT_MAX", &c.SSH.KeepaliveCountMax)
	setString("WEBSSH2_SSH_ALGORITHMS_PRESET", &c.SSH.AlgorithmPreset)
	setList("WEBSSH2_SSH_ALLOWED_SUBNETS", &c.SSH.AllowedSubnets)
	setList("WEBSSH2_SSH_ALLOWED_AUTH_METHODS", &c.SSH.AllowedAuthMethods)

	setBoolPtr := func(name string, dst **bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				parseErrors = append(parseErrors, ValidationError{
					Field:   name,
					Message: fmt.Sprintf("invalid boolean: %q", v),
				})
				return
			}
			*dst = &b
		}
	}

	setBool("WEBSSH2_HOST_KEY_VERIFICATION_ENABLED", &c.HostKeyVerification.Enabled)
	setString("WEBSSH2_HOST_KEY_VERIFICATION_MODE", &c.HostKeyVerification.Mode)
	setString("WEBSSH2_HOST_KEY_UNKNOWN_KEY_ACTION", &c.HostKeyVerification.UnknownKeyAction)
	setBoolPtr("WEBSSH2_HOST_KEY_SERVER_STORE_ENABLED", &c.HostKeyVerification.ServerStore.Enabled)
	setString("WEBSSH2_HOST_KEY_SERVER_STORE_DB_PATH", &c.HostKeyVerification.ServerStore.DBPath)
	setBoolPtr("WEBSSH2_HOST_KEY_CLIENT_STORE_ENABLED", &c.HostKeyVerification.ClientStore.Enabled)

	setBool("WEBSSH2_OPTIONS_CHALLENGE_BUTTON", &c.Options.ChallengeButton)
	setBool("WEBSSH2_OPTIONS_AUTO_LOG", &c.Options.AutoLog)
	setBool("WEBSSH2_OPTIONS_ALLOW_REAUTH", &c.Options.AllowReauth)
	setBool("WEBSSH2_OPTIONS_ALLOW_RECONNECT", &c.Options.AllowReconnect)
	setBool("WEBSSH2_OPTIONS_ALLOW_REPLAY", &c.Options.AllowReplay)
	setBool("WEBSSH2_OPTIONS_REPLAY_CRLF", &c.Options.ReplayCRLF)

	setString("WEBSSH2_SESSION_SECRET", &c.Session.Secret)
	setString("WEBSSH2_SESSION_NAME", &c.Session.Name)

	setBool("WEBSSH2_SSO_ENABLED", &c.SSO.Enabled)
	setBool("WEBSSH2_SSO_CSRF_PROTECTION", &c.SSO.CSRFProtection)
	setList("WEBSSH2_SSO_TRUSTED_PROXIES", &c.SSO.TrustedProxies)
	setString("WEBSSH2_SSO_SESSION_SIGNING_KEY", &c.SSO.SessionSigningKey)

	setString("WEBSSH2_LOGGING_MINIMUM_LEVEL", &c.Logging.MinimumLevel)
	setString("WEBSSH2_LOGGING_NAMESPACE", &c.Logging.Namespace)
	setList("WEBSSH2_LOGGING_TRANSPORTS", &c.Logging.Transports)
	setInt("WEBSSH2_LOGGING_MAX_QUEUE_SIZE", &c.Logging.MaxQueueSize)
	if v := os.Getenv("WEBSSH2_LOGGING_SAMPLE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "WEBSSH2_LOGGING_SAMPLE_RATE",
				Message: fmt.Sprintf("invalid float: %q", v),
			})
		} else {
			c.Logging.Sampling.DefaultSampleRate = rate
		}
	}
	setString("WEBSSH2_SYSLOG_HOST", &c.Logging.Syslog.Host)
	setInt("WEBSSH2_SYSLOG_PORT", &c.Logging.Syslog.Port)
	setString("WEBSSH2_SYSLOG_FACILITY", &c.Logging.Syslog.Facility)
	setBool("WEBSSH2_SYSLOG_INCLUDE_JSON", &c.Logging.Syslog.IncludeJSON)

	setString("WEBSSH2_RECORDING_BACKEND", &c.Recording.Backend)
	setString("WEBSSH2_RECORDING_LOCAL_DIR", &c.Recording.LocalDir)
	setString("WEBSSH2_RECORDING_S3_BUCKET", &c.Recording.S3Bucket)
	setString("WEBSSH2_RECORDING_S3_REGION", &c.Recording.S3Region)
	setString("WEBSSH2_RECORDING_S3_ENDPOINT", &c.Recording.S3Endpoint)
	setString("WEBSSH2_RECORDING_S3_PREFIX", &c.Recording.S3Prefix)
	setString("WEBSSH2_RECORDING_S3_ACCESS_KEY_ID", &c.Recording.S3AccessKeyID)
	setString("WEBSSH2_RECORDING_S3_SECRET_ACCESS_KEY", &c.Recording.S3SecretAccessKey)

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// parseListValue accepts either a JSON array or a comma-separated
// string. Empty elements of a comma-separated string are dropped; a
// JSON array is returned as decoded.
func parseListValue(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var list []string
		if err := json.Unmarshal([]byte(v), &list); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %v", err)
		}
		return list, nil
	}
	var list []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list, nil
}
