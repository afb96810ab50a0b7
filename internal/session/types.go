// Package session holds the per-connection state machine. Every piece
// of observable session state lives in a State value owned by the
// Store; mutation happens only through Dispatch, which applies reducer
// functions and enforces the cross-domain invariants between
// authentication and connection state.
package session

import "time"

// ID is an opaque session identifier.
type ID string

// AuthStatus enumerates authentication states.
type AuthStatus string

const (
	AuthPending       AuthStatus = "pending"
	AuthAuthenticated AuthStatus = "authenticated"
	AuthFailed        AuthStatus = "failed"
)

// AuthMethod enumerates SSH authentication methods.
type AuthMethod string

const (
	MethodPassword            AuthMethod = "password"
	MethodPublicKey           AuthMethod = "publickey"
	MethodKeyboardInteractive AuthMethod = "keyboard-interactive"
	MethodNone                AuthMethod = "none"
)

// ConnStatus enumerates connection states.
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnError        ConnStatus = "error"
	ConnClosed       ConnStatus = "closed"
)

// AuthState is the authentication domain of a session.
type AuthState struct {
	Status       AuthStatus
	Method       AuthMethod
	Username     string
	ErrorMessage string
	Timestamp    time.Time
}

// ConnectionState is the SSH connection domain of a session.
type ConnectionState struct {
	Status       ConnStatus
	ConnectionID string
	Host         string
	Port         int
	ErrorMessage string
	LastActivity time.Time
}

// TerminalState is the terminal domain of a session.
type TerminalState struct {
	Term        string
	Rows        int
	Cols        int
	Environment map[string]string
	Cwd         string
}

// ClientInfo describes the browser endpoint.
type ClientInfo struct {
	IP        string
	Port      int
	UserAgent string
}

// Metadata carries bookkeeping for a session.
type Metadata struct {
	Client    ClientInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State is the complete observable state of one session.
type State struct {
	Auth       AuthState
	Connection ConnectionState
	Terminal   TerminalState
	Metadata   Metadata
}

// newState returns the initial state for a freshly attached session.
func newState(client ClientInfo, now time.Time) State {
	return State{
		Auth:       AuthState{Status: AuthPending, Method: MethodNone},
		Connection: ConnectionState{Status: ConnDisconnected},
		Terminal:   TerminalState{Rows: 24, Cols: 80},
		Metadata:   Metadata{Client: client, CreatedAt: now, UpdatedAt: now},
	}
}

// clone returns a deep copy safe to hand out as a snapshot.
func (s State) clone() State {
	out := s
	if s.Terminal.Environment != nil {
		env := make(map[string]string, len(s.Terminal.Environment))
		for k, v := range s.Terminal.Environment {
			env[k] = v
		}
		out.Terminal.Environment = env
	}
	return out
}
