// Package hostkeys implements the persistent host-key trust store and
// the verification policy applied during SSH handshakes. Trust
// decisions accepted by users are remembered in an embedded SQLite
// table keyed by (host, port, algorithm); they are never auto-deleted.
package hostkeys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// HostKey is one remembered trust decision.
type HostKey struct {
	bun.BaseModel `bun:"table:host_keys"`

	Host      string    `bun:"host,pk"`
	Port      int       `bun:"port,pk"`
	Algorithm string    `bun:"algorithm,pk"`
	Key       string    `bun:"key,notnull"` // base64 of the wire-format public key
	AddedAt   time.Time `bun:"added_at,notnull"`
	Comment   string    `bun:"comment"`
}

// TrustStatus is the outcome of a store lookup.
type TrustStatus string

const (
	Trusted  TrustStatus = "trusted"
	Mismatch TrustStatus = "mismatch"
	Unknown  TrustStatus = "unknown"
)

// LookupResult carries the status plus the stored key on a mismatch,
// so prompts can show both fingerprints.
type LookupResult struct {
	Status    TrustStatus
	StoredKey string
}

// Store is the embedded relational trust store.
type Store struct {
	db   *bun.DB
	conn *sql.DB
}

// Open opens (creating if needed) the store at dbPath and runs any
// pending schema migrations.
func Open(dbPath string) (*Store, error) {
	migrateDSN := dbPath
	if dbPath == ":memory:" {
		dbPath = "file::memory:?cache=shared"
		migrateDSN = dbPath
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open host-key store: %w", err)
	}

	// busy_timeout waits for concurrent writers instead of failing.
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	conn.SetMaxIdleConns(1)

	if err := runMigrations(migrateDSN); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run host-key migrations: %w", err)
	}

	return &Store{
		db:   bun.NewDB(conn, sqlitedialect.New()),
		conn: conn,
	}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup checks a presented key against the stored record for
// (host, port, algorithm).
func (s *Store) Lookup(ctx context.Context, host string, port int, algorithm, key string) (LookupResult, error) {
	var rec HostKey
	err := s.db.NewSelect().
		Model(&rec).
		Where("host = ?", host).
		Where("port = ?", port).
		Where("algorithm = ?", algorithm).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return LookupResult{Status: Unknown}, nil
	}
	if err != nil {
		return LookupResult{}, fmt.Errorf("host-key lookup failed: %w", err)
	}
	if rec.Key == key {
		return LookupResult{Status: Trusted, StoredKey: rec.Key}, nil
	}
	return LookupResult{Status: Mismatch, StoredKey: rec.Key}, nil
}

// Insert remembers an accepted key, replacing any previous record for
// the same (host, port, algorithm).
func (s *Store) Insert(ctx context.Context, host string, port int, algorithm, key, comment string) error {
	rec := &HostKey{
		Host:      host,
		Port:      port,
		Algorithm: algorithm,
		Key:       key,
		AddedAt:   time.Now().UTC(),
		Comment:   comment,
	}
	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (host, port, algorithm) DO UPDATE").
		Set("key = EXCLUDED.key").
		Set("added_at = EXCLUDED.added_at").
		Set("comment = EXCLUDED.comment").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("host-key insert failed: %w", err)
	}
	return nil
}

// Delete removes a record. Exposed for operator tooling; automatic
// deletion never happens.
func (s *Store) Delete(ctx context.Context, host string, port int, algorithm string) error {
	_, err := s.db.NewDelete().
		Model((*HostKey)(nil)).
		Where("host = ?", host).
		Where("port = ?", port).
		Where("algorithm = ?", algorithm).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("host-key delete failed: %w", err)
	}
	return nil
}
