package session

import "time"

// ActionType tags a dispatched action. Unknown types are no-ops for
// every reducer.
type ActionType string

const (
	AuthRequest ActionType = "AUTH_REQUEST"
	AuthSuccess ActionType = "AUTH_SUCCESS"
	AuthFailure ActionType = "AUTH_FAILURE"
	AuthLogout  ActionType = "AUTH_LOGOUT"

	ConnectionStart       ActionType = "CONNECTION_START"
	ConnectionEstablished ActionType = "CONNECTION_ESTABLISHED"
	ConnectionError       ActionType = "CONNECTION_ERROR"
	ConnectionClosed      ActionType = "CONNECTION_CLOSED"
	ConnectionActivity    ActionType = "CONNECTION_ACTIVITY"

	TerminalInit      ActionType = "TERMINAL_INIT"
	TerminalResize    ActionType = "TERMINAL_RESIZE"
	TerminalUpdateEnv ActionType = "TERMINAL_UPDATE_ENV"
	TerminalSetCwd    ActionType = "TERMINAL_SET_CWD"
	TerminalDestroy   ActionType = "TERMINAL_DESTROY"

	MetadataClientInfo ActionType = "METADATA_CLIENT_INFO"
)

// Action is a tagged state transition. Only the fields relevant to
// the tagged type are read; the rest stay zero.
type Action struct {
	Type ActionType
	Time time.Time

	// Auth domain
	Method       AuthMethod
	Username     string
	ErrorMessage string

	// Connection domain
	ConnectionID string
	Host         string
	Port         int

	// Terminal domain
	Term string
	Rows int
	Cols int
	Env  map[string]string
	Cwd  string

	// Metadata domain
	Client ClientInfo
}
