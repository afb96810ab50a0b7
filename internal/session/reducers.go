package session

// Reducers are pure: each takes the current domain state and an
// action and returns the next state, returning its input unchanged
// when the action does not concern it. Reduce composes the domain
// reducers and applies the cross-domain rules that keep auth and
// connection state consistent.

// authReduce handles the authentication domain.
func authReduce(s AuthState, a Action) AuthState {
	switch a.Type {
	case AuthRequest:
		return AuthState{
			Status:    AuthPending,
			Method:    a.Method,
			Username:  a.Username,
			Timestamp: a.Time,
		}
	case AuthSuccess:
		return AuthState{
			Status:    AuthAuthenticated,
			Method:    a.Method,
			Username:  a.Username,
			Timestamp: a.Time,
		}
	case AuthFailure:
		return AuthState{
			Status:       AuthFailed,
			Method:       a.Method,
			Username:     s.Username,
			ErrorMessage: a.ErrorMessage,
			Timestamp:    a.Time,
		}
	case AuthLogout:
		return AuthState{Status: AuthPending, Method: MethodNone, Timestamp: a.Time}
	}
	return s
}

// connReduce handles the connection domain.
func connReduce(s ConnectionState, a Action) ConnectionState {
	switch a.Type {
	case ConnectionStart:
		return ConnectionState{
			Status:       ConnConnecting,
			Host:         a.Host,
			Port:         a.Port,
			LastActivity: a.Time,
		}
	case ConnectionEstablished:
		next := s
		next.Status = ConnConnected
		next.ConnectionID = a.ConnectionID
		next.ErrorMessage = ""
		next.LastActivity = a.Time
		return next
	case ConnectionError:
		next := s
		next.Status = ConnError
		next.ConnectionID = ""
		next.ErrorMessage = a.ErrorMessage
		next.LastActivity = a.Time
		return next
	case ConnectionClosed:
		next := s
		next.Status = ConnClosed
		next.ConnectionID = ""
		next.LastActivity = a.Time
		return next
	case ConnectionActivity:
		if s.Status != ConnConnected {
			return s
		}
		next := s
		next.LastActivity = a.Time
		return next
	}
	return s
}

// termReduce handles the terminal domain. The second return value
// reports whether the state changed; no-op actions return the input
// state (environment map included) untouched.
func termReduce(s TerminalState, a Action) (TerminalState, bool) {
	switch a.Type {
	case TerminalInit:
		next := s
		if a.Term != "" {
			next.Term = a.Term
		}
		if a.Rows > 0 {
			next.Rows = a.Rows
		}
		if a.Cols > 0 {
			next.Cols = a.Cols
		}
		if a.Cwd != "" {
			next.Cwd = a.Cwd
		}
		if a.Env != nil {
			next.Environment = a.Env
		}
		return next, true
	case TerminalResize:
		if s.Rows == a.Rows && s.Cols == a.Cols {
			return s, false
		}
		next := s
		next.Rows = a.Rows
		next.Cols = a.Cols
		return next, true
	case TerminalUpdateEnv:
		next := s
		next.Environment = a.Env
		return next, true
	case TerminalSetCwd:
		if s.Cwd == a.Cwd {
			return s, false
		}
		next := s
		next.Cwd = a.Cwd
		return next, true
	case TerminalDestroy:
		return TerminalState{Rows: 24, Cols: 80}, true
	}
	return s, false
}

// Reduce applies an action to a full session state. The returned bool
// reports whether any domain changed. Unknown action types leave the
// state untouched.
func Reduce(s State, a Action) (State, bool) {
	next := s
	next.Auth = authReduce(s.Auth, a)
	next.Connection = connReduce(s.Connection, a)

	term, termChanged := termReduce(s.Terminal, a)
	next.Terminal = term

	if a.Type == MetadataClientInfo {
		next.Metadata.Client = a.Client
	}

	// Auth failure or logout forces the connection down and clears
	// the connection id.
	if a.Type == AuthFailure || a.Type == AuthLogout {
		next.Connection.Status = ConnDisconnected
		next.Connection.ConnectionID = ""
	}

	// A connection-level error or close demotes an authenticated
	// session back to pending so the client must re-authenticate.
	if (a.Type == ConnectionError || a.Type == ConnectionClosed) && s.Auth.Status == AuthAuthenticated {
		next.Auth.Status = AuthPending
	}

	// A session may only be connected while authenticated.
	if next.Connection.Status == ConnConnected && next.Auth.Status != AuthAuthenticated {
		next.Connection.Status = ConnDisconnected
		next.Connection.ConnectionID = ""
	}

	changed := termChanged ||
		next.Auth != s.Auth ||
		next.Connection != s.Connection ||
		next.Metadata.Client != s.Metadata.Client
	if changed && !a.Time.IsZero() {
		next.Metadata.UpdatedAt = a.Time
	}
	return next, changed
}
