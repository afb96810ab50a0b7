package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjsadow/webssh2/internal/auth"
	"github.com/rjsadow/webssh2/internal/config"
	"github.com/rjsadow/webssh2/internal/events"
	"github.com/rjsadow/webssh2/internal/hostkeys"
	"github.com/rjsadow/webssh2/internal/logging"
	"github.com/rjsadow/webssh2/internal/recordings"
	"github.com/rjsadow/webssh2/internal/session"
	sftpsvc "github.com/rjsadow/webssh2/internal/sftp"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
	"github.com/rjsadow/webssh2/internal/validation"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	readLimit      = int64(4 << 20) // upload chunks dominate frame size
	outboundQueue  = 256
)

// Deps are the adapter's injected collaborators.
type Deps struct {
	Config     *config.Config
	Store      *session.Store
	Auth       *auth.Pipeline
	SSH        *sshsvc.Service
	HostKeys   *hostkeys.Store // nil when the server store is disabled
	Logs       *logging.Pipeline
	Bus        *events.Bus
	Recordings recordings.Store
}

// Adapter owns one WebSocket connection and its session.
type Adapter struct {
	deps      Deps
	sessionID session.ID
	requestID string
	client    session.ClientInfo
	prefilled *sshsvc.Credentials

	conn    *websocket.Conn
	out     chan outbound
	prompts *PromptManager
	ctx     context.Context
	cancel  context.CancelFunc

	authInFlight atomic.Bool
	attempts     int

	mu        sync.Mutex
	sshConn   *sshsvc.Connection
	shell     *sshsvc.Shell
	sftpCli   *sftpsvc.Client
	sftpMgr   *sftpsvc.Manager
	recorder  *recordings.Recorder
	creds     *sshsvc.Credentials
	capture   *sshsvc.Capture
	closed    bool
	writeDone chan struct{}
}

// NewAdapter binds an upgraded connection to a fresh session.
func NewAdapter(conn *websocket.Conn, deps Deps, sessionID session.ID, requestID string, client session.ClientInfo, prefilled *sshsvc.Credentials) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		deps:      deps,
		sessionID: sessionID,
		requestID: requestID,
		client:    client,
		prefilled: prefilled,
		conn:      conn,
		out:       make(chan outbound, outboundQueue),
		ctx:       ctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
	}
	a.prompts = NewPromptManager(a.emit, DefaultPromptTimeout)
	return a
}

// Run services the socket until it closes. Blocks.
func (a *Adapter) Run() {
	defer a.teardown()
	go a.writePump()

	if _, err := a.deps.Store.Create(a.sessionID, a.client); err != nil {
		slog.Error("failed to create session", "session_id", string(a.sessionID), "error", err)
		return
	}
	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "session_start",
		ClientIP: a.client.IP, ClientPort: a.client.Port, UserAgent: a.client.UserAgent,
	})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategorySession, Name: "session_start", SessionID: string(a.sessionID),
	})

	// Ask the browser for credentials unless the session was seeded.
	if a.prefilled == nil {
		a.emit(outbound{Event: "authentication", Payload: map[string]any{"action": "request_auth"}})
	} else {
		// Seeded sessions authenticate immediately.
		go a.recovering(func() { a.handleAuthenticate(nil) })
	}

	a.readPump()
}

// emit queues one outbound message. Blocks when the queue is at its
// high-water mark, which is how downstream producers (SFTP pumps,
// shell output) are suspended under backpressure.
func (a *Adapter) emit(msg outbound) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return fmt.Errorf("socket closed")
	}
	select {
	case a.out <- msg:
		return nil
	case <-a.ctx.Done():
		return fmt.Errorf("socket closed")
	}
}

// writePump is the single socket writer: ordering is preserved even
// across backpressure because everything funnels through out.
func (a *Adapter) writePump() {
	defer close(a.writeDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-a.out:
			if !ok {
				return
			}
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteJSON(msg); err != nil {
				a.cancel()
				return
			}
		case <-ticker.C:
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.cancel()
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// readPump dispatches inbound frames until the socket dies.
func (a *Adapter) readPump() {
	a.conn.SetReadLimit(readLimit)
	a.conn.SetReadDeadline(time.Now().Add(pongWait))
	a.conn.SetPongHandler(func(string) error {
		a.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := a.conn.ReadJSON(&env); err != nil {
			return
		}
		a.dispatch(env)
	}
}

// recovering converts a handler panic into the crashRecovery system
// event and drops this session without touching any other.
func (a *Adapter) recovering(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.deps.Bus.Publish(events.Event{
				Category: events.CategorySystem, Name: "crashRecovery",
				SessionID: string(a.sessionID), Priority: events.PriorityCritical,
				Metadata: map[string]any{"panic": fmt.Sprint(r)},
			})
			a.log(logging.Record{
				Level: logging.LevelError, Event: "crash_recovery",
				ErrorDetails: fmt.Sprint(r),
			})
			a.cancel()
		}
	}()
	fn()
}

// dispatch routes one inbound envelope. A panic in a handler drops
// this session only.
func (a *Adapter) dispatch(env Envelope) {
	a.recovering(func() {
		switch env.Event {
		case "authenticate":
			// Runs on its own task: the connect flow may prompt the
			// client (host keys, keyboard-interactive) and needs the
			// read loop alive to receive the answers.
			go a.recovering(func() { a.handleAuthenticate(env.Payload) })
		case "terminal":
			a.handleTerminal(env.Payload)
		case "resize":
			a.handleResize(env.Payload)
		case "data":
			a.handleData(env.Payload)
		case "exec":
			a.handleExec(env.Payload)
		case "control":
			a.handleControl(env.Payload)
		case "prompt-response":
			a.handlePromptResponse(env.Payload)
		case "authentication":
			a.handleAuthenticationReply(env.Payload)
		case "sftp-list", "sftp-stat", "sftp-mkdir", "sftp-delete",
			"sftp-upload-start", "sftp-upload-chunk", "sftp-upload-cancel",
			"sftp-download-start", "sftp-download-cancel":
			a.handleSFTP(env.Event, env.Payload)
		default:
			// Unknown events are ignored; a hostile client cannot
			// crash the session with a bad event name.
		}
	})
}

// sendSSHError surfaces a human-readable error without ending the
// session.
func (a *Adapter) sendSSHError(msg string) {
	a.emit(outbound{Event: "ssherror", Payload: msg})
}

// sendConnectionError surfaces a structured connection failure and
// schedules disconnect.
func (a *Adapter) sendConnectionError(ce *sshsvc.ClassifiedError, details map[string]any) {
	payload := map[string]any{
		"message": ce.Message,
		"kind":    string(ce.Kind),
	}
	if ce.Code != "" {
		payload["code"] = ce.Code
	}
	if len(details) > 0 {
		payload["details"] = details
	}
	a.emit(outbound{Event: "connection-error", Payload: payload})
}

// log publishes a record to the structured pipeline with the session
// context filled in.
func (a *Adapter) log(rec logging.Record) {
	if a.deps.Logs == nil {
		return
	}
	rec.SessionID = string(a.sessionID)
	rec.RequestID = a.requestID
	if _, err := a.deps.Logs.Publish(rec); err != nil {
		slog.Warn("log publish failed", "event", rec.Event, "error", err)
	}
}

// teardown cancels transfers, closes the SSH connection, destroys the
// terminal, and removes the session: the cancellation hierarchy from
// socket down.
func (a *Adapter) teardown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	sftpMgr, sftpCli := a.sftpMgr, a.sftpCli
	sshConn := a.sshConn
	recorder := a.recorder
	a.mu.Unlock()

	a.cancel()
	a.prompts.CancelAll()

	if sftpMgr != nil {
		sftpMgr.CancelAll()
	}
	if sftpCli != nil {
		sftpCli.Close()
	}
	if sshConn != nil {
		sshConn.End()
		a.deps.Bus.Publish(events.Event{
			Category: events.CategoryConnection, Name: "connection_closed",
			SessionID: string(a.sessionID), Metadata: map[string]any{"connection_id": sshConn.ID},
		})
	}
	a.stopRecorder(recorder)

	a.deps.Store.Dispatch(a.sessionID, session.Action{Type: session.TerminalDestroy})
	a.deps.Store.Dispatch(a.sessionID, session.Action{Type: session.ConnectionClosed})
	a.deps.Store.Destroy(a.sessionID)

	<-a.writeDone
	a.conn.Close()

	a.log(logging.Record{Level: logging.LevelInfo, Event: "session_end"})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategorySession, Name: "session_end", SessionID: string(a.sessionID),
	})
}

// stopRecorder persists a running recording, if any. Teardown runs
// after the adapter context is canceled, so the save gets its own.
func (a *Adapter) stopRecorder(rec *recordings.Recorder) {
	if rec == nil {
		return
	}
	key, err := rec.Stop(context.Background(), a.deps.Recordings)
	if err != nil {
		slog.Warn("failed to persist recording", "session_id", string(a.sessionID), "error", err)
		return
	}
	a.log(logging.Record{
		Level: logging.LevelInfo, Event: "recording_stop",
		BytesOut: rec.Bytes(), Details: map[string]any{"key": key},
	})
	a.deps.Bus.Publish(events.Event{
		Category: events.CategoryRecording, Name: "recording_stop",
		SessionID: string(a.sessionID), Metadata: map[string]any{"key": key},
	})
}

// ConfirmHostKey implements hostkeys.Prompter over the prompt channel.
func (a *Adapter) ConfirmHostKey(ctx context.Context, p hostkeys.Prompt) (bool, error) {
	answer, err := a.prompts.Ask(ctx, PromptRequest{
		Kind:     "modal",
		Severity: string(p.Severity),
		Title:    "Host key verification",
		Message:  p.Message,
		Confirm:  "Accept",
		Dismiss:  "Reject",
	})
	if err != nil {
		return false, err
	}
	return answer.Action == "confirm", nil
}

// ForwardPrompts implements auth.KIForwarder: keyboard-interactive
// rounds ride the authentication event.
func (a *Adapter) ForwardPrompts(ctx context.Context, name, instruction string, prompts []auth.KIPrompt) ([]string, error) {
	answer, err := a.prompts.AskCustom(ctx, func(id string) error {
		return a.emit(outbound{Event: "authentication", Payload: map[string]any{
			"action":      "keyboard-interactive",
			"id":          id,
			"name":        name,
			"instruction": instruction,
			"prompts":     prompts,
		}})
	})
	if err != nil {
		return nil, err
	}
	if answer.Action != "confirm" {
		return nil, fmt.Errorf("keyboard-interactive canceled by client")
	}
	return answer.Inputs, nil
}

// handlePromptResponse resolves a pending prompt.
func (a *Adapter) handlePromptResponse(raw json.RawMessage) {
	var p PromptResponsePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return
	}
	a.prompts.Resolve(p.ID, p.Action, p.Inputs)
}

// handleAuthenticationReply resolves keyboard-interactive rounds.
func (a *Adapter) handleAuthenticationReply(raw json.RawMessage) {
	var p AuthenticationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.Action != "keyboard-interactive" || p.ID == "" {
		return
	}
	a.prompts.Resolve(p.ID, "confirm", p.Responses)
}

// handleData forwards keystrokes to the shell.
func (a *Adapter) handleData(raw json.RawMessage) {
	var data string
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	a.mu.Lock()
	shell := a.shell
	a.mu.Unlock()
	if shell != nil {
		shell.Write([]byte(data))
	}
	a.deps.Store.Dispatch(a.sessionID, session.Action{Type: session.ConnectionActivity})
}

// handleResize validates and applies a window change. Non-numeric
// dimensions are silently ignored; numeric but out-of-range values
// earn an ssherror.
func (a *Adapter) handleResize(raw json.RawMessage) {
	var p ResizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	rows, cols, ok := p.Dimensions()
	if !ok {
		return
	}
	if validation.ValidateDimension(rows) != nil || validation.ValidateDimension(cols) != nil {
		a.sendSSHError(fmt.Sprintf("invalid terminal size %dx%d", cols, rows))
		return
	}

	a.deps.Store.Dispatch(a.sessionID, session.Action{
		Type: session.TerminalResize, Rows: rows, Cols: cols,
	})
	a.mu.Lock()
	shell := a.shell
	a.mu.Unlock()
	if shell != nil {
		if err := shell.Resize(rows, cols); err != nil {
			a.sendSSHError("failed to resize terminal")
		}
	}
}
