package gateway

import (
	"encoding/json"
	"time"

	"github.com/rjsadow/webssh2/internal/events"
	"github.com/rjsadow/webssh2/internal/logging"
	"github.com/rjsadow/webssh2/internal/recordings"
	"github.com/rjsadow/webssh2/internal/session"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
	"github.com/rjsadow/webssh2/internal/validation"
)

// handleTerminal applies terminal settings and opens the shell when
// none exists yet.
func (a *Adapter) handleTerminal(raw json.RawMessage) {
	var p TerminalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.sendSSHError("invalid terminal payload")
		return
	}
	if p.Rows != 0 {
		if err := validation.ValidateDimension(p.Rows); err != nil {
			a.sendSSHError(err.Error())
			return
		}
	}
	if p.Cols != 0 {
		if err := validation.ValidateDimension(p.Cols); err != nil {
			a.sendSSHError(err.Error())
			return
		}
	}
	env := validation.FilterEnv(p.Env)

	a.mu.Lock()
	hasShell := a.shell != nil
	a.mu.Unlock()

	actionType := session.TerminalInit
	if hasShell {
		actionType = session.TerminalUpdateEnv
	}
	state, err := a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: actionType,
		Term: p.Term, Rows: p.Rows, Cols: p.Cols, Cwd: p.Cwd, Env: env,
	})
	if err != nil {
		a.sendSSHError("session not available")
		return
	}

	if !hasShell {
		a.openShell(state)
	}
}

// openShell starts the interactive channel and the output bridge.
func (a *Adapter) openShell(state session.State) {
	a.mu.Lock()
	conn := a.sshConn
	a.mu.Unlock()
	if conn == nil || state.Auth.Status != session.AuthAuthenticated {
		a.sendSSHError("not authenticated")
		return
	}

	term := state.Terminal.Term
	if term == "" {
		term = a.deps.Config.SSH.Term
	}
	shell, err := conn.Shell(sshsvc.TerminalParams{
		Term: term,
		Rows: state.Terminal.Rows,
		Cols: state.Terminal.Cols,
	}, state.Terminal.Environment)
	if err != nil {
		a.sendSSHError(sshsvc.Classify(err, "").Message)
		return
	}

	a.mu.Lock()
	a.shell = shell
	var recorder *recordings.Recorder
	if a.deps.Config.Options.AutoLog && a.recorder == nil {
		recorder = recordings.NewRecorder(string(a.sessionID), state.Terminal.Rows, state.Terminal.Cols, term)
		a.recorder = recorder
	}
	a.mu.Unlock()

	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "shell_open",
		Protocol: "ssh", Subsystem: "shell",
	})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategoryTerminal, Name: "shell_open", SessionID: string(a.sessionID),
	})
	if recorder != nil {
		a.log(logging.Record{Level: logging.LevelInfo, Event: "recording_start"})
		a.deps.Bus.Publish(events.Event{
			Category: events.CategoryRecording, Name: "recording_start", SessionID: string(a.sessionID),
		})
	}

	go a.bridgeShell(shell)
}

// bridgeShell relays shell output to the client frame-by-frame and
// reports the session's end.
func (a *Adapter) bridgeShell(shell *sshsvc.Shell) {
	started := time.Now()
	var bytesOut int64
	for frame := range shell.Output {
		bytesOut += int64(len(frame))
		a.mu.Lock()
		rec := a.recorder
		a.mu.Unlock()
		if rec != nil {
			rec.WriteOutput(frame)
		}
		if a.emit(outbound{Event: "data", Payload: string(frame)}) != nil {
			return
		}
	}

	err := <-shell.Done
	a.mu.Lock()
	a.shell = nil
	closed := a.closed
	a.mu.Unlock()

	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "shell_close",
		Protocol: "ssh", Subsystem: "shell",
		DurationMs: time.Since(started).Milliseconds(), BytesOut: bytesOut,
	})
	if closed {
		return
	}
	a.deps.Store.Dispatch(a.sessionID, session.Action{Type: session.ConnectionClosed})
	if err != nil {
		a.sendSSHError("shell closed: " + err.Error())
	}
	// The remote shell ended; the socket follows.
	a.cancel()
	a.conn.Close()
}

// handleExec opens a single-command channel with typed output.
func (a *Adapter) handleExec(raw json.RawMessage) {
	var p ExecPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.sendSSHError("invalid exec payload")
		return
	}
	if err := p.Validate(); err != nil {
		a.sendSSHError(err.Error())
		return
	}

	a.mu.Lock()
	conn := a.sshConn
	a.mu.Unlock()
	if conn == nil {
		a.sendSSHError("not connected")
		return
	}

	stream, err := conn.Exec(p.Command, sshsvc.ExecOptions{
		PTY:     p.PTY,
		Term:    p.Term,
		Rows:    p.Rows,
		Cols:    p.Cols,
		Timeout: time.Duration(p.TimeoutMs) * time.Millisecond,
	}, p.Env)
	if err != nil {
		a.sendSSHError(sshsvc.Classify(err, "").Message)
		return
	}

	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "exec_start",
		Protocol: "ssh", Subsystem: "exec",
	})

	go func() {
		started := time.Now()
		// All output frames are delivered before the exit event.
		for chunk := range stream.Output {
			if a.emit(outbound{Event: "exec-data", Payload: map[string]any{
				"type": chunk.Stream,
				"data": string(chunk.Data),
			}}) != nil {
				stream.Cancel()
				return
			}
		}
		status := <-stream.Exit
		var signal any
		if status.Signal != "" {
			signal = status.Signal
		}
		a.emit(outbound{Event: "exec-exit", Payload: map[string]any{
			"code":   status.Code,
			"signal": signal,
		}})
		a.log(logging.Record{
			Level: logging.LevelInfo, Event: "exec_exit",
			Protocol: "ssh", Subsystem: "exec",
			DurationMs: time.Since(started).Milliseconds(),
			Details:    map[string]any{"code": status.Code},
		})
	}()
}

// handleControl services the control actions. Unknown actions are
// ignored.
func (a *Adapter) handleControl(raw json.RawMessage) {
	var p ControlPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if !knownControlActions[p.Action] {
		return
	}

	switch p.Action {
	case "reauth":
		if !a.deps.Config.Options.AllowReauth {
			a.sendSSHError("reauthentication is disabled")
			return
		}
		a.emit(outbound{Event: "authentication", Payload: map[string]any{"action": "reauth"}})
		a.deps.Store.Dispatch(a.sessionID, session.Action{Type: session.AuthLogout})
		a.mu.Lock()
		conn := a.sshConn
		a.sshConn = nil
		a.shell = nil
		a.creds = nil
		a.mu.Unlock()
		if conn != nil {
			conn.End()
			a.deps.Bus.Publish(events.Event{
				Category: events.CategoryConnection, Name: "connection_closed",
				SessionID: string(a.sessionID), Metadata: map[string]any{"connection_id": conn.ID},
			})
		}
		// The socket stays open awaiting a fresh authenticate.

	case "replayCredentials":
		a.replayCredentials()

	case "clear-credentials":
		a.mu.Lock()
		a.creds = nil
		a.mu.Unlock()
		a.prefilled = nil

	case "disconnect":
		a.cancel()
		a.conn.Close()

	case "startLog":
		a.startRecording()

	case "stopLog":
		a.mu.Lock()
		rec := a.recorder
		a.recorder = nil
		a.mu.Unlock()
		a.stopRecorder(rec)
	}
}

// replayCredentials types the stored password into the shell,
// honoring the configured line ending.
func (a *Adapter) replayCredentials() {
	if !a.deps.Config.Options.AllowReplay {
		a.sendSSHError("credential replay is disabled")
		return
	}
	a.mu.Lock()
	shell := a.shell
	var password string
	if a.creds != nil {
		password = a.creds.Password
	}
	a.mu.Unlock()
	if shell == nil || password == "" {
		a.sendSSHError("no stored credentials to replay")
		return
	}

	ending := "\n"
	if a.deps.Config.Options.ReplayCRLF {
		ending = "\r\n"
	}
	shell.Write([]byte(password + ending))
	a.log(logging.Record{Level: logging.LevelInfo, Event: "replay_credentials"})
}

// startRecording begins capturing shell output mid-session.
func (a *Adapter) startRecording() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recorder != nil {
		return
	}
	state, ok := a.deps.Store.GetState(a.sessionID)
	if !ok {
		return
	}
	term := state.Terminal.Term
	if term == "" {
		term = a.deps.Config.SSH.Term
	}
	a.recorder = recordings.NewRecorder(string(a.sessionID), state.Terminal.Rows, state.Terminal.Cols, term)
	go func() {
		a.log(logging.Record{Level: logging.LevelInfo, Event: "recording_start"})
		a.deps.Bus.Publish(events.Event{
			Category: events.CategoryRecording, Name: "recording_start", SessionID: string(a.sessionID),
		})
	}()
}
