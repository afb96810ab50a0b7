package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPromptTimeout bounds how long a prompt waits for the
	// client.
	DefaultPromptTimeout = 300 * time.Second

	// MaxPromptTimeout is the absolute ceiling a caller may request.
	MaxPromptTimeout = 600 * time.Second

	// MaxPendingPrompts bounds concurrently open prompts per socket.
	MaxPendingPrompts = 10
)

// PromptRequest is the outbound payload of a prompt event.
type PromptRequest struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"` // "modal" or "toast"
	Severity string   `json:"severity,omitempty"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message"`
	Inputs   []string `json:"inputs,omitempty"`
	Confirm  string   `json:"confirm,omitempty"`
	Dismiss  string   `json:"dismiss,omitempty"`
}

// PromptAnswer is the client's resolution.
type PromptAnswer struct {
	Action string
	Inputs []string
}

type pendingPrompt struct {
	ch chan PromptAnswer
}

// PromptManager tracks pending prompts for one socket. Ask blocks
// until the client answers, the per-prompt timeout fires, or the
// socket dies.
type PromptManager struct {
	emit    func(outbound) error
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingPrompt
}

// NewPromptManager creates a manager emitting through the adapter's
// outbound queue.
func NewPromptManager(emit func(outbound) error, timeout time.Duration) *PromptManager {
	if timeout <= 0 || timeout > MaxPromptTimeout {
		timeout = DefaultPromptTimeout
	}
	return &PromptManager{
		emit:    emit,
		timeout: timeout,
		pending: make(map[string]*pendingPrompt),
	}
}

// Ask sends a prompt event and blocks for the answer.
func (pm *PromptManager) Ask(ctx context.Context, req PromptRequest) (PromptAnswer, error) {
	return pm.AskCustom(ctx, func(id string) error {
		req.ID = id
		return pm.emit(outbound{Event: "prompt", Payload: req})
	})
}

// AskCustom registers a pending prompt, lets send emit it under the
// generated id, and blocks for the answer. Used for prompt flows that
// ride other event names (keyboard-interactive).
func (pm *PromptManager) AskCustom(ctx context.Context, send func(id string) error) (PromptAnswer, error) {
	id := uuid.New().String()

	p := &pendingPrompt{ch: make(chan PromptAnswer, 1)}
	pm.mu.Lock()
	if len(pm.pending) >= MaxPendingPrompts {
		pm.mu.Unlock()
		return PromptAnswer{}, fmt.Errorf("too many pending prompts")
	}
	pm.pending[id] = p
	pm.mu.Unlock()
	defer func() {
		pm.mu.Lock()
		delete(pm.pending, id)
		pm.mu.Unlock()
	}()

	if err := send(id); err != nil {
		return PromptAnswer{}, err
	}

	timer := time.NewTimer(pm.timeout)
	defer timer.Stop()
	select {
	case answer := <-p.ch:
		return answer, nil
	case <-timer.C:
		return PromptAnswer{}, fmt.Errorf("prompt %s timed out", id)
	case <-ctx.Done():
		return PromptAnswer{}, ctx.Err()
	}
}

// Resolve completes a pending prompt. Unknown ids are ignored (the
// prompt may have timed out).
func (pm *PromptManager) Resolve(id, action string, inputs []string) {
	pm.mu.Lock()
	p, ok := pm.pending[id]
	pm.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.ch <- PromptAnswer{Action: action, Inputs: inputs}:
	default:
	}
}

// CancelAll unblocks every pending prompt with a dismissal; used at
// socket teardown.
func (pm *PromptManager) CancelAll() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for id, p := range pm.pending {
		select {
		case p.ch <- PromptAnswer{Action: "dismiss"}:
		default:
		}
		delete(pm.pending, id)
	}
}
