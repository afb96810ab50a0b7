package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// KIPrompt is one server-issued prompt forwarded to the client.
type KIPrompt struct {
	Prompt string `json:"prompt"`
	Echo   bool   `json:"echo"`
}

// KIForwarder delivers keyboard-interactive prompts to the browser
// and blocks for the responses. Implemented by the socket adapter.
type KIForwarder interface {
	ForwardPrompts(ctx context.Context, name, instruction string, prompts []KIPrompt) ([]string, error)
}

// KeyboardInteractiveRelay answers server prompts. When the first
// round is a single echo-off password prompt and a password is held,
// it is answered automatically; everything else is forwarded to the
// client.
type KeyboardInteractiveRelay struct {
	password   string
	forwardAll bool
	forwarder  KIForwarder
	ctx        context.Context

	mu         sync.Mutex
	autoUsed   bool
}

// NewKeyboardInteractiveRelay creates a relay. forwardAll disables
// the password auto-answer.
func NewKeyboardInteractiveRelay(ctx context.Context, password string, forwardAll bool, forwarder KIForwarder) *KeyboardInteractiveRelay {
	return &KeyboardInteractiveRelay{
		password:   password,
		forwardAll: forwardAll,
		forwarder:  forwarder,
		ctx:        ctx,
	}
}

// Challenge implements ssh.KeyboardInteractiveChallenge.
func (r *KeyboardInteractiveRelay) Challenge(name, instruction string, questions []string, echos []bool) ([]string, error) {
	if len(questions) == 0 {
		return nil, nil
	}

	if r.canAutoAnswer(questions, echos) {
		r.mu.Lock()
		r.autoUsed = true
		r.mu.Unlock()
		return []string{r.password}, nil
	}

	if r.forwarder == nil {
		return nil, fmt.Errorf("keyboard-interactive prompt with no client to answer it")
	}
	prompts := make([]KIPrompt, len(questions))
	for i, q := range questions {
		echo := false
		if i < len(echos) {
			echo = echos[i]
		}
		prompts[i] = KIPrompt{Prompt: q, Echo: echo}
	}
	answers, err := r.forwarder.ForwardPrompts(r.ctx, name, instruction, prompts)
	if err != nil {
		return nil, err
	}
	if len(answers) != len(questions) {
		return nil, fmt.Errorf("expected %d answers, got %d", len(questions), len(answers))
	}
	return answers, nil
}

// canAutoAnswer reports whether this round is the single password
// prompt the cached password can satisfy. Only the first round may be
// auto-answered; a second password prompt means the first answer was
// wrong.
func (r *KeyboardInteractiveRelay) canAutoAnswer(questions []string, echos []bool) bool {
	if r.forwardAll || r.password == "" {
		return false
	}
	r.mu.Lock()
	used := r.autoUsed
	r.mu.Unlock()
	if used {
		return false
	}
	if len(questions) != 1 {
		return false
	}
	if len(echos) > 0 && echos[0] {
		return false
	}
	return strings.Contains(strings.ToLower(questions[0]), "password")
}
