package hostkeys

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertThenLookupIsTrusted(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "hostkeys.db"))
	ctx := context.Background()

	if err := store.Insert(ctx, "target", 22, "ssh-ed25519", "a2V5ZGF0YQ==", "accepted by user"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	res, err := store.Lookup(ctx, "target", 22, "ssh-ed25519", "a2V5ZGF0YQ==")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.Status != Trusted {
		t.Errorf("Status = %v, want trusted", res.Status)
	}
}

func TestStore_LookupUnknown(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "hostkeys.db"))
	res, err := store.Lookup(context.Background(), "nowhere", 22, "ssh-rsa", "key")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.Status != Unknown {
		t.Errorf("Status = %v, want unknown", res.Status)
	}
}

func TestStore_LookupMismatch(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "hostkeys.db"))
	ctx := context.Background()

	store.Insert(ctx, "target", 22, "ssh-rsa", "original-key", "")
	res, err := store.Lookup(ctx, "target", 22, "ssh-rsa", "different-key")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.Status != Mismatch {
		t.Errorf("Status = %v, want mismatch", res.Status)
	}
	if res.StoredKey != "original-key" {
		t.Errorf("StoredKey = %q, want the remembered key", res.StoredKey)
	}
}

func TestStore_KeyedByHostPortAlgorithm(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "hostkeys.db"))
	ctx := context.Background()

	store.Insert(ctx, "target", 22, "ssh-rsa", "k1", "")
	store.Insert(ctx, "target", 2222, "ssh-rsa", "k2", "")
	store.Insert(ctx, "target", 22, "ssh-ed25519", "k3", "")

	res, _ := store.Lookup(ctx, "target", 2222, "ssh-rsa", "k2")
	if res.Status != Trusted {
		t.Errorf("port-distinct row Status = %v, want trusted", res.Status)
	}
	res, _ = store.Lookup(ctx, "target", 22, "ssh-ed25519", "k3")
	if res.Status != Trusted {
		t.Errorf("algorithm-distinct row Status = %v, want trusted", res.Status)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostkeys.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Insert(ctx, "target", 22, "ssh-ed25519", "persisted", ""); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	store.Close()

	reopened := openTestStore(t, path)
	res, err := reopened.Lookup(ctx, "target", 22, "ssh-ed25519", "persisted")
	if err != nil {
		t.Fatalf("Lookup() after reopen error = %v", err)
	}
	if res.Status != Trusted {
		t.Errorf("Status after reopen = %v, want trusted", res.Status)
	}
}

func TestStore_InsertReplacesOnConflict(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "hostkeys.db"))
	ctx := context.Background()

	store.Insert(ctx, "target", 22, "ssh-rsa", "old", "")
	if err := store.Insert(ctx, "target", 22, "ssh-rsa", "new", "rotated"); err != nil {
		t.Fatalf("Insert() on conflict error = %v", err)
	}
	res, _ := store.Lookup(ctx, "target", 22, "ssh-rsa", "new")
	if res.Status != Trusted {
		t.Errorf("Status = %v, want trusted with replaced key", res.Status)
	}
}
