// Package recordings captures terminal session output as asciicast v2
// streams and persists them to pluggable storage (local filesystem or
// an S3-compatible object store).
package recordings

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"
)

// castContentType is the media type recordings are stored under.
const castContentType = "application/x-asciicast"

// Meta identifies one finished recording: which session produced it
// and when capture began. Storage keys are derived from it so a
// recording can always be traced back to its session's audit trail.
type Meta struct {
	SessionID string
	StartedAt time.Time
}

// Store persists finished recordings.
type Store interface {
	// Save writes one recording and returns its storage key.
	Save(ctx context.Context, meta Meta, r io.Reader) (key string, err error)

	// Open streams a stored recording back.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Remove deletes a stored recording.
	Remove(ctx context.Context, key string) error
}

// sessionIDClean strips everything that may not appear in a storage
// key component. Session ids are UUIDs, so anything else is an
// attempted escape, not data worth preserving.
var sessionIDClean = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// objectKey lays recordings out by capture date, one file per
// session start:
//
//	2026/08/01/5f3a…-1785542400.cast
func objectKey(meta Meta) (string, error) {
	session := sessionIDClean.ReplaceAllString(meta.SessionID, "")
	if session == "" {
		return "", fmt.Errorf("recording meta has no usable session id")
	}
	day := meta.StartedAt.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s-%d.cast",
		day.Year(), day.Month(), day.Day(), session, day.Unix()), nil
}
