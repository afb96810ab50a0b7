package gateway

import (
	"encoding/json"
	"errors"

	"github.com/rjsadow/webssh2/internal/auth"
	"github.com/rjsadow/webssh2/internal/events"
	"github.com/rjsadow/webssh2/internal/hostkeys"
	"github.com/rjsadow/webssh2/internal/logging"
	"github.com/rjsadow/webssh2/internal/session"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

// handleAuthenticate resolves credentials through the pipeline and
// attempts the SSH connection. A second authenticate while one is in
// flight is rejected outright.
func (a *Adapter) handleAuthenticate(raw json.RawMessage) {
	if !a.authInFlight.CompareAndSwap(false, true) {
		a.emit(outbound{Event: "authFailure", Payload: map[string]any{
			"error": "auth_in_progress",
		}})
		return
	}
	defer a.authInFlight.Store(false)

	var manual *sshsvc.Credentials
	explicitKI := false
	if len(raw) > 0 {
		var p AuthenticatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			a.emit(outbound{Event: "authentication", Payload: AuthResult{
				Action: "auth_result", Success: false, Message: "Invalid credentials",
			}})
			return
		}
		if p.Port == 0 {
			p.Port = a.deps.Config.SSH.Port
		}
		explicitKI = p.KeyboardInteractive
		manual = &sshsvc.Credentials{
			Host:       p.Host,
			Port:       p.Port,
			Username:   p.Username,
			Password:   p.Password,
			PrivateKey: p.PrivateKey,
			Passphrase: p.Passphrase,
			Term:       p.Term,
			Cols:       p.Cols,
			Rows:       p.Rows,
		}
	}

	result, err := a.deps.Auth.Resolve(&auth.Request{
		Prefilled: a.prefilled,
		ClientIP:  a.client.IP,
		Manual:    manual,
	}, explicitKI)
	if err != nil {
		a.failAuth(err)
		return
	}
	if result == nil {
		a.emit(outbound{Event: "authentication", Payload: AuthResult{
			Action: "auth_result", Success: false, Message: "Invalid credentials",
		}})
		return
	}

	a.connect(result)
}

// failAuth converts a pipeline error into the right outbound events.
func (a *Adapter) failAuth(err error) {
	var policyErr *auth.PolicyError
	if errors.As(err, &policyErr) {
		method := policyErr.Method
		a.emit(outbound{Event: "authFailure", Payload: map[string]any{
			"error":  "auth_method_disabled",
			"method": method,
		}})
		a.deps.Store.Dispatch(a.sessionID, session.Action{
			Type: session.AuthFailure, Method: session.AuthMethod(method),
			ErrorMessage: "auth_method_disabled",
		})
		a.log(logging.Record{
			Level: logging.LevelWarn, Event: "auth_failure",
			Status: "failure", Reason: "auth_method_disabled",
		})
		// Policy violations end the socket.
		a.cancel()
		a.conn.Close()
		return
	}

	var invalid *auth.ErrInvalidCredentials
	if errors.As(err, &invalid) {
		a.emit(outbound{Event: "authentication", Payload: AuthResult{
			Action: "auth_result", Success: false, Message: "Invalid credentials",
		}})
		a.log(logging.Record{
			Level: logging.LevelWarn, Event: "auth_failure",
			Status: "failure", Reason: invalid.Reason,
		})
		return
	}

	a.emit(outbound{Event: "authentication", Payload: AuthResult{
		Action: "auth_result", Success: false, Message: err.Error(),
	}})
}

// connect runs the SSH attempt for resolved credentials and wires up
// the session on success.
func (a *Adapter) connect(result *auth.Result) {
	creds := result.Credentials
	method := primaryMethod(result.Methods)

	a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: session.AuthRequest, Method: method, Username: creds.Username,
	})
	a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: session.ConnectionStart, Host: creds.Host, Port: creds.Port,
	})
	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "auth_attempt",
		Username: creds.Username, TargetHost: creds.Host, TargetPort: creds.Port,
		Protocol: "ssh",
	})

	capture := sshsvc.NewCapture()
	verifier := hostkeys.NewVerifier(a.deps.Config.HostKeyVerification, a.deps.HostKeys, a)

	opts := sshsvc.ConnectOptions{
		HostKeyCallback: verifier.Callback(a.ctx),
		Capture:         capture,
	}
	if a.deps.Auth.KeyboardInteractiveAllowed() {
		relay := auth.NewKeyboardInteractiveRelay(a.ctx, creds.Password, false, a)
		opts.KeyboardInteractive = relay.Challenge
	}

	conn, err := a.deps.SSH.Connect(a.ctx, creds, opts)
	if err != nil {
		a.failConnect(sshsvc.Classify(err, creds.Host), method, capture)
		return
	}

	a.mu.Lock()
	a.sshConn = conn
	a.creds = &creds
	a.capture = capture
	a.mu.Unlock()

	a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: session.AuthSuccess, Method: method, Username: creds.Username,
	})
	a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: session.ConnectionEstablished, ConnectionID: conn.ID,
	})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategoryAuth, Name: "auth_success", SessionID: string(a.sessionID),
	})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategoryConnection, Name: "connection_open",
		SessionID: string(a.sessionID), Metadata: map[string]any{"connection_id": conn.ID},
	})
	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "auth_success",
		Username: creds.Username, TargetHost: creds.Host, TargetPort: creds.Port,
		Protocol: "ssh", Status: "success", ConnectionID: conn.ID,
	})

	opt := a.deps.Config.Options
	a.emit(outbound{Event: "authentication", Payload: AuthResult{Action: "auth_result", Success: true}})
	a.emit(outbound{Event: "permissions", Payload: Permissions{
		AllowReplay:    opt.AllowReplay,
		AllowReconnect: opt.AllowReconnect,
		AllowReauth:    opt.AllowReauth,
		AutoLog:        opt.AutoLog,
	}})
	a.emit(outbound{Event: "updateUI", Payload: map[string]any{
		"element": "footer",
		"value":   "ssh://" + creds.Host,
	}})
	a.emit(outbound{Event: "getTerminal", Payload: true})
}

// failConnect routes a classified connect failure. Auth failures may
// be retried up to the attempt limit; the rest disconnect the socket.
func (a *Adapter) failConnect(ce *sshsvc.ClassifiedError, method session.AuthMethod, capture *sshsvc.Capture) {
	a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: session.ConnectionError, ErrorMessage: ce.Message,
	})
	a.log(logging.Record{
		Level: logging.LevelWarn, Event: "connection_error",
		Status: "failure", Reason: string(ce.Kind), ErrorCode: ce.Code,
		Details: map[string]any{"message": ce.Message},
	})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategoryConnection, Name: "connection_error",
		SessionID: string(a.sessionID), Metadata: map[string]any{"kind": string(ce.Kind)},
	})

	switch ce.Kind {
	case sshsvc.KindAuth:
		a.deps.Store.Dispatch(a.sessionID, session.Action{
			Type: session.AuthFailure, Method: method, ErrorMessage: ce.Message,
		})
		a.attempts++
		a.emit(outbound{Event: "authentication", Payload: AuthResult{
			Action: "auth_result", Success: false, Message: "Authentication failed",
		}})
		if a.attempts >= a.deps.Auth.MaxAttempts() {
			a.emit(outbound{Event: "authFailure", Payload: map[string]any{
				"error":  "too_many_attempts",
				"method": string(method),
			}})
			a.cancel()
			a.conn.Close()
		}
	case sshsvc.KindNetwork, sshsvc.KindTimeout:
		details := a.analysisDetails(capture)
		a.sendConnectionError(ce, details)
		a.cancel()
		a.conn.Close()
	default:
		if details := a.analysisDetails(capture); details != nil {
			a.sendConnectionError(ce, details)
		} else {
			a.sendSSHError(ce.Message)
		}
		a.cancel()
		a.conn.Close()
	}
}

// analysisDetails turns an algorithm-capture diagnosis into
// connection-error debug info.
func (a *Adapter) analysisDetails(capture *sshsvc.Capture) map[string]any {
	if capture == nil {
		return nil
	}
	analysis := capture.Analyze()
	if !analysis.HasAnyMismatch {
		return nil
	}
	mismatches := make([]map[string]any, 0, len(analysis.Mismatches))
	for _, m := range analysis.Mismatches {
		mismatches = append(mismatches, map[string]any{
			"category": m.Category,
			"client":   m.Client,
			"server":   m.Server,
		})
	}
	return map[string]any{
		"algorithmMismatch": true,
		"mismatches":        mismatches,
		"suggestedPreset":   analysis.SuggestedPreset,
		"envSuggestions":    analysis.EnvSuggestions,
	}
}

// primaryMethod picks the session-visible auth method from the
// requested list.
func primaryMethod(methods []string) session.AuthMethod {
	if len(methods) == 0 {
		return session.MethodNone
	}
	return session.AuthMethod(methods[0])
}
