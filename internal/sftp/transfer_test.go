package sftp

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// memFile is an io.WriteCloser capturing writes.
type memFile struct {
	buf    bytes.Buffer
	closed bool
}

func (f *memFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *memFile) Close() error                { f.closed = true; return nil }

// testManager builds a Manager with a hand-registered upload, skipping
// the SFTP channel.
func testManager(up *Upload) *Manager {
	m := &Manager{
		maxFileSize: DefaultMaxFileSize,
		chunkSize:   DefaultChunkSize,
		uploads:     map[string]*Upload{up.ID: up},
		downloads:   make(map[string]context.CancelFunc),
	}
	return m
}

func TestWriteChunk_SequenceAndCompletion(t *testing.T) {
	f := &memFile{}
	up := &Upload{ID: "t1", Path: "/tmp/f", FileSize: 10, ChunkSize: 4, file: f}
	m := testManager(up)

	written, complete, err := m.WriteChunk("t1", 0, []byte("abcd"))
	if err != nil || complete || written != 4 {
		t.Fatalf("chunk 0: written=%d complete=%v err=%v", written, complete, err)
	}
	written, complete, err = m.WriteChunk("t1", 1, []byte("efgh"))
	if err != nil || complete || written != 8 {
		t.Fatalf("chunk 1: written=%d complete=%v err=%v", written, complete, err)
	}
	written, complete, err = m.WriteChunk("t1", 2, []byte("ij"))
	if err != nil {
		t.Fatalf("chunk 2: err=%v", err)
	}
	if !complete || written != 10 {
		t.Errorf("final chunk: written=%d complete=%v, want 10 true", written, complete)
	}
	if f.buf.String() != "abcdefghij" {
		t.Errorf("file content = %q", f.buf.String())
	}
	if !f.closed {
		t.Error("file not closed on completion")
	}
	if _, _, err := m.WriteChunk("t1", 3, []byte("zz")); err == nil {
		t.Error("write after completion accepted")
	}
}

func TestWriteChunk_OutOfOrderRejected(t *testing.T) {
	up := &Upload{ID: "t1", Path: "/tmp/f", FileSize: 100, ChunkSize: 4, file: &memFile{}}
	m := testManager(up)

	_, _, err := m.WriteChunk("t1", 1, []byte("abcd"))
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransferError", err)
	}
}

func TestWriteChunk_OversizeRejected(t *testing.T) {
	up := &Upload{ID: "t1", Path: "/tmp/f", FileSize: 3, ChunkSize: 4, file: &memFile{}}
	m := testManager(up)

	if _, _, err := m.WriteChunk("t1", 0, []byte("abcd")); err == nil {
		t.Error("chunk past declared size accepted")
	}
}

func TestWriteChunk_UnknownTransfer(t *testing.T) {
	m := testManager(&Upload{ID: "other", file: &memFile{}})
	_, _, err := m.WriteChunk("nope", 0, []byte("x"))
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransferError", err)
	}
	if te.TransferID != "nope" {
		t.Errorf("TransferID = %q", te.TransferID)
	}
}
