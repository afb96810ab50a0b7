// Package gateway implements the socket adapter: the per-WebSocket
// bridge between browser events and the SSH connection. Each adapter
// owns exactly one session id, validates every inbound message, routes
// it to the auth pipeline, the SSH service, or the SFTP subsystem, and
// converts subsystem results into outbound events.
package gateway

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rjsadow/webssh2/internal/validation"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outbound is a queued server→client message.
type outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// AuthenticatePayload carries manual credentials.
type AuthenticatePayload struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Username            string `json:"username"`
	Password            string `json:"password,omitempty"`
	PrivateKey          string `json:"privateKey,omitempty"`
	Passphrase          string `json:"passphrase,omitempty"`
	Term                string `json:"term,omitempty"`
	Cols                int    `json:"cols,omitempty"`
	Rows                int    `json:"rows,omitempty"`
	KeyboardInteractive bool   `json:"keyboardInteractive,omitempty"`
}

// TerminalPayload configures the terminal before or after the shell
// opens.
type TerminalPayload struct {
	Term string            `json:"term,omitempty"`
	Rows int               `json:"rows,omitempty"`
	Cols int               `json:"cols,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// ResizePayload accepts loosely typed dimensions so garbage can be
// ignored without killing the session.
type ResizePayload struct {
	Rows any `json:"rows"`
	Cols any `json:"cols"`
}

// Dimensions interprets the payload. ok is false when either value is
// not numeric (those resizes are silently ignored).
func (p ResizePayload) Dimensions() (rows, cols int, ok bool) {
	rows, rok := asInt(p.Rows)
	cols, cok := asInt(p.Cols)
	return rows, cols, rok && cok
}

// asInt accepts JSON numbers only; strings ("NaN", "oops") and other
// types fail.
func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// ControlPayload is a control action request.
type ControlPayload struct {
	Action string `json:"action"`
}

// knownControlActions is the closed action set; anything else is
// silently ignored.
var knownControlActions = map[string]bool{
	"reauth":            true,
	"replayCredentials": true,
	"clear-credentials": true,
	"disconnect":        true,
	"startLog":          true,
	"stopLog":           true,
}

// ExecPayload requests a single-command channel.
type ExecPayload struct {
	Command   string            `json:"command"`
	PTY       bool              `json:"pty,omitempty"`
	Term      string            `json:"term,omitempty"`
	Cols      int               `json:"cols,omitempty"`
	Rows      int               `json:"rows,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
}

// Validate checks an exec request.
func (p *ExecPayload) Validate() error {
	if p.Command == "" {
		return fmt.Errorf("command required")
	}
	if p.PTY {
		if p.Rows != 0 {
			if err := validation.ValidateDimension(p.Rows); err != nil {
				return err
			}
		}
		if p.Cols != 0 {
			if err := validation.ValidateDimension(p.Cols); err != nil {
				return err
			}
		}
	}
	if p.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must not be negative")
	}
	p.Env = validation.FilterEnv(p.Env)
	return nil
}

// PromptResponsePayload resolves a pending prompt.
type PromptResponsePayload struct {
	ID     string   `json:"id"`
	Action string   `json:"action"`
	Inputs []string `json:"inputs,omitempty"`
}

// AuthenticationPayload handles inbound keyboard-interactive replies.
type AuthenticationPayload struct {
	Action    string   `json:"action"`
	ID        string   `json:"id,omitempty"`
	Responses []string `json:"responses,omitempty"`
}

// SFTP payloads.
type SFTPPathPayload struct {
	Path string `json:"path"`
}

type SFTPUploadStartPayload struct {
	RemotePath string `json:"remotePath"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	MimeType   string `json:"mimeType,omitempty"`
	Overwrite  bool   `json:"overwrite,omitempty"`

	// Clients may not choose transfer ids; a request carrying one is
	// rejected silently.
	TransferID string `json:"transferId,omitempty"`
}

type SFTPChunkPayload struct {
	TransferID string `json:"transferId"`
	Seq        int    `json:"seq"`
	Data       string `json:"data"` // base64
}

type SFTPTransferPayload struct {
	TransferID string `json:"transferId"`
}

type SFTPDownloadStartPayload struct {
	Path string `json:"path"`

	TransferID string `json:"transferId,omitempty"` // rejected if set
}

// AuthResult is the payload of authentication{action:"auth_result"}.
type AuthResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Permissions is the post-auth feature flag set.
type Permissions struct {
	AllowReplay    bool `json:"allowReplay"`
	AllowReconnect bool `json:"allowReconnect"`
	AllowReauth    bool `json:"allowReauth"`
	AutoLog        bool `json:"autoLog"`
}
