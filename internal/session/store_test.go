package session

import (
	"sync"
	"testing"
	"time"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()
	client := ClientInfo{IP: "10.0.0.1", Port: 40000, UserAgent: "test"}

	state, err := store.Create("s1", client)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if state.Auth.Status != AuthPending {
		t.Errorf("Auth.Status = %v, want pending", state.Auth.Status)
	}
	if state.Metadata.Client != client {
		t.Errorf("Client = %+v", state.Metadata.Client)
	}

	if _, err := store.Create("s1", client); err == nil {
		t.Error("Create() accepted duplicate id")
	}

	if _, ok := store.GetState("missing"); ok {
		t.Error("GetState() found a missing session")
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	store := NewStore()
	store.Create("s1", ClientInfo{})
	store.Dispatch("s1", Action{Type: TerminalUpdateEnv, Env: map[string]string{"A": "1"}})

	snap, _ := store.GetState("s1")
	snap.Terminal.Environment["A"] = "tampered"

	fresh, _ := store.GetState("s1")
	if fresh.Terminal.Environment["A"] != "1" {
		t.Errorf("snapshot mutation leaked into store: %v", fresh.Terminal.Environment)
	}
}

func TestStore_DispatchSerializesPerSession(t *testing.T) {
	store := NewStore()
	store.Create("s1", ClientInfo{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Dispatch("s1", Action{Type: ConnectionStart, Host: "h", Port: 22})
			store.Dispatch("s1", Action{Type: ConnectionClosed})
		}()
	}
	wg.Wait()

	state, ok := store.GetState("s1")
	if !ok {
		t.Fatal("session vanished")
	}
	// After any interleaving the state must be one of the two
	// participating statuses, never torn.
	if state.Connection.Status != ConnConnecting && state.Connection.Status != ConnClosed {
		t.Errorf("Connection.Status = %v", state.Connection.Status)
	}
}

func TestStore_LazyExpiry(t *testing.T) {
	now := time.Unix(10000, 0)
	store := NewStore(
		WithIdleTimeout(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	store.Create("s1", ClientInfo{})

	if _, ok := store.GetState("s1"); !ok {
		t.Fatal("fresh session not found")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := store.GetState("s1"); ok {
		t.Error("expired session still returned")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after lazy eviction, want 0", store.Len())
	}
}

func TestStore_Sweep(t *testing.T) {
	now := time.Unix(10000, 0)
	store := NewStore(
		WithIdleTimeout(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	store.Create("old", ClientInfo{})
	now = now.Add(30 * time.Second)
	store.Create("fresh", ClientInfo{})
	now = now.Add(45 * time.Second)

	store.sweep()
	if store.Len() != 1 {
		t.Fatalf("Len() = %d after sweep, want 1", store.Len())
	}
	if _, ok := store.GetState("fresh"); !ok {
		t.Error("fresh session swept")
	}
}

func TestStore_Destroy(t *testing.T) {
	store := NewStore()
	store.Create("s1", ClientInfo{})
	store.Destroy("s1")
	if _, err := store.Dispatch("s1", Action{Type: AuthLogout}); err == nil {
		t.Error("Dispatch() succeeded on destroyed session")
	}
}
