package session

import (
	"reflect"
	"testing"
	"time"
)

func baseState() State {
	return newState(ClientInfo{IP: "10.0.0.1", Port: 50000}, time.Unix(1000, 0))
}

func TestReduce_UnknownActionIsNoOp(t *testing.T) {
	s := baseState()
	next, changed := Reduce(s, Action{Type: "SOMETHING_ELSE", Time: time.Unix(2000, 0)})
	if changed {
		t.Error("unknown action reported a change")
	}
	if !reflect.DeepEqual(next, s) {
		t.Errorf("unknown action mutated state: %+v", next)
	}
}

func TestReduce_Pure(t *testing.T) {
	s := baseState()
	a := Action{Type: AuthSuccess, Method: MethodPassword, Username: "alice", Time: time.Unix(2000, 0)}

	first, _ := Reduce(s, a)
	second, _ := Reduce(s, a)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Reduce is not pure:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestReduce_AuthSuccess(t *testing.T) {
	s := baseState()
	next, changed := Reduce(s, Action{Type: AuthSuccess, Method: MethodPublicKey, Username: "bob", Time: time.Unix(2000, 0)})
	if !changed {
		t.Error("AuthSuccess reported no change")
	}
	if next.Auth.Status != AuthAuthenticated {
		t.Errorf("Auth.Status = %v, want authenticated", next.Auth.Status)
	}
	if next.Auth.Method != MethodPublicKey || next.Auth.Username != "bob" {
		t.Errorf("Auth = %+v", next.Auth)
	}
	if next.Metadata.UpdatedAt != time.Unix(2000, 0) {
		t.Errorf("UpdatedAt = %v", next.Metadata.UpdatedAt)
	}
}

// connectedState builds an authenticated, connected session.
func connectedState(t *testing.T) State {
	t.Helper()
	s := baseState()
	s, _ = Reduce(s, Action{Type: AuthSuccess, Method: MethodPassword, Username: "alice", Time: time.Unix(2000, 0)})
	s, _ = Reduce(s, Action{Type: ConnectionStart, Host: "target", Port: 22, Time: time.Unix(2001, 0)})
	s, _ = Reduce(s, Action{Type: ConnectionEstablished, ConnectionID: "conn-1", Time: time.Unix(2002, 0)})
	if s.Connection.Status != ConnConnected {
		t.Fatalf("setup failed: %+v", s.Connection)
	}
	return s
}

func TestReduce_ConnectedRequiresAuthenticated(t *testing.T) {
	// Establishing a connection without authentication must not
	// produce a connected state.
	s := baseState()
	s, _ = Reduce(s, Action{Type: ConnectionStart, Host: "target", Port: 22, Time: time.Unix(2001, 0)})
	s, _ = Reduce(s, Action{Type: ConnectionEstablished, ConnectionID: "conn-1", Time: time.Unix(2002, 0)})
	if s.Connection.Status == ConnConnected {
		t.Error("connection became connected while auth is pending")
	}
	if s.Connection.ConnectionID != "" {
		t.Errorf("ConnectionID = %q, want empty", s.Connection.ConnectionID)
	}
}

func TestReduce_AuthFailureResetsConnection(t *testing.T) {
	for _, actionType := range []ActionType{AuthFailure, AuthLogout} {
		s := connectedState(t)
		next, _ := Reduce(s, Action{Type: actionType, Time: time.Unix(3000, 0)})
		if next.Connection.Status != ConnDisconnected {
			t.Errorf("%s: Connection.Status = %v, want disconnected", actionType, next.Connection.Status)
		}
		if next.Connection.ConnectionID != "" {
			t.Errorf("%s: ConnectionID = %q, want empty", actionType, next.Connection.ConnectionID)
		}
	}
}

func TestReduce_ConnectionErrorDemotesAuth(t *testing.T) {
	for _, actionType := range []ActionType{ConnectionError, ConnectionClosed} {
		s := connectedState(t)
		next, _ := Reduce(s, Action{Type: actionType, ErrorMessage: "boom", Time: time.Unix(3000, 0)})
		if next.Auth.Status != AuthPending {
			t.Errorf("%s: Auth.Status = %v, want pending", actionType, next.Auth.Status)
		}
	}
}

func TestReduce_InvariantHoldsUnderActionSequences(t *testing.T) {
	// For every interleaving of these actions, connected implies
	// authenticated.
	actions := []Action{
		{Type: AuthSuccess, Method: MethodPassword, Username: "u"},
		{Type: ConnectionStart, Host: "h", Port: 22},
		{Type: ConnectionEstablished, ConnectionID: "c1"},
		{Type: AuthFailure, ErrorMessage: "denied"},
		{Type: ConnectionError, ErrorMessage: "reset"},
		{Type: AuthLogout},
		{Type: ConnectionEstablished, ConnectionID: "c2"},
		{Type: AuthSuccess, Method: MethodPublicKey, Username: "u"},
		{Type: ConnectionClosed},
	}

	// A rolling window over repeated passes exercises many orders.
	for start := 0; start < len(actions); start++ {
		s := baseState()
		ts := time.Unix(5000, 0)
		for i := 0; i < len(actions)*2; i++ {
			a := actions[(start+i)%len(actions)]
			a.Time = ts
			ts = ts.Add(time.Second)
			s, _ = Reduce(s, a)
			if s.Connection.Status == ConnConnected && s.Auth.Status != AuthAuthenticated {
				t.Fatalf("invariant violated after %s: %+v", a.Type, s)
			}
		}
	}
}

func TestTermReduce_ResizeNoOpKeepsState(t *testing.T) {
	s := TerminalState{Term: "xterm", Rows: 24, Cols: 80}
	next, changed := termReduce(s, Action{Type: TerminalResize, Rows: 24, Cols: 80})
	if changed {
		t.Error("no-op resize reported a change")
	}
	if !reflect.DeepEqual(next, s) {
		t.Errorf("no-op resize mutated state: %+v", next)
	}
}

func TestTermReduce_EnvUpdate(t *testing.T) {
	s := TerminalState{Rows: 24, Cols: 80}
	env := map[string]string{"LANG": "C"}
	next, changed := termReduce(s, Action{Type: TerminalUpdateEnv, Env: env})
	if !changed {
		t.Error("env update reported no change")
	}
	if !reflect.DeepEqual(next.Environment, env) {
		t.Errorf("Environment = %v", next.Environment)
	}
}

func TestTermReduce_Destroy(t *testing.T) {
	s := TerminalState{Term: "xterm", Rows: 50, Cols: 132, Environment: map[string]string{"A": "b"}, Cwd: "/tmp"}
	next, _ := termReduce(s, Action{Type: TerminalDestroy})
	if next.Rows != 24 || next.Cols != 80 || next.Environment != nil || next.Term != "" {
		t.Errorf("TerminalDestroy = %+v", next)
	}
}
