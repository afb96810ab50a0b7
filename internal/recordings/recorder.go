package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Recorder captures one session's terminal output as an asciicast v2
// stream: a JSON header line followed by [elapsed, "o", data] event
// lines. Writes after Stop are ignored.
type Recorder struct {
	SessionID string

	mu      sync.Mutex
	buf     bytes.Buffer
	started time.Time
	stopped bool
	bytes   int64
}

// NewRecorder starts recording for a session.
func NewRecorder(sessionID string, rows, cols int, term string) *Recorder {
	r := &Recorder{SessionID: sessionID, started: time.Now()}
	header := map[string]any{
		"version":   2,
		"width":     cols,
		"height":    rows,
		"timestamp": r.started.Unix(),
		"env":       map[string]string{"TERM": term},
	}
	line, _ := json.Marshal(header)
	r.buf.Write(line)
	r.buf.WriteByte('\n')
	return r
}

// WriteOutput appends one terminal output frame.
func (r *Recorder) WriteOutput(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	elapsed := time.Since(r.started).Seconds()
	event := []any{elapsed, "o", string(data)}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	r.buf.Write(line)
	r.buf.WriteByte('\n')
	r.bytes += int64(len(data))
}

// Bytes reports the raw output bytes captured so far.
func (r *Recorder) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Stop finalizes the recording and persists it to the store. Returns
// the storage key. Stopping twice returns an error.
func (r *Recorder) Stop(ctx context.Context, store Store) (string, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", fmt.Errorf("recording for session %s already stopped", r.SessionID)
	}
	r.stopped = true
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.mu.Unlock()

	if store == nil {
		return "", fmt.Errorf("no recording store configured")
	}
	meta := Meta{SessionID: r.SessionID, StartedAt: r.started}
	return store.Save(ctx, meta, bytes.NewReader(data))
}
