package sftp

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"

	"github.com/rjsadow/webssh2/internal/validation"
)

// TransferError wraps a transfer failure with its transfer id.
type TransferError struct {
	TransferID string
	Reason     string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %s", e.TransferID, e.Reason)
}

// Upload is one in-flight chunked upload. Chunks must arrive in
// sequence order; each persisted chunk is acknowledged to the client.
type Upload struct {
	ID        string
	Path      string
	FileSize  int64
	ChunkSize int

	mu       sync.Mutex
	file     io.WriteCloser
	nextSeq  int
	written  int64
	done     bool
	canceled bool
}

// Manager owns the transfer tables for one session. Transfer ids are
// always server-generated; a client-supplied id never enters the
// tables.
type Manager struct {
	client      *Client
	maxFileSize int64
	chunkSize   int

	mu        sync.Mutex
	uploads   map[string]*Upload
	downloads map[string]context.CancelFunc
}

// NewManager creates a transfer manager over an SFTP client.
func NewManager(client *Client, maxFileSize int64) *Manager {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Manager{
		client:      client,
		maxFileSize: maxFileSize,
		chunkSize:   DefaultChunkSize,
		uploads:     make(map[string]*Upload),
		downloads:   make(map[string]context.CancelFunc),
	}
}

// StartUpload validates the request, creates (or truncates) the
// remote file, and returns the upload handle carrying the generated
// transfer id and the chunk size the client must honor.
func (m *Manager) StartUpload(remotePath, fileName string, fileSize int64, overwrite bool) (*Upload, error) {
	if err := validation.ValidatePath(remotePath); err != nil {
		return nil, err
	}
	if fileName == "" || fileName != path.Base(fileName) {
		return nil, fmt.Errorf("invalid file name %q", fileName)
	}
	if fileSize < 0 || fileSize > m.maxFileSize {
		return nil, fmt.Errorf("file size %d exceeds limit %d", fileSize, m.maxFileSize)
	}

	target := path.Join(remotePath, fileName)
	if !overwrite {
		if _, err := m.client.sc.Stat(target); err == nil {
			return nil, fmt.Errorf("remote file %s already exists", target)
		}
	}
	f, err := m.client.sc.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", target, err)
	}

	up := &Upload{
		ID:        uuid.New().String(),
		Path:      target,
		FileSize:  fileSize,
		ChunkSize: m.chunkSize,
		file:      f,
	}
	m.mu.Lock()
	m.uploads[up.ID] = up
	m.mu.Unlock()
	return up, nil
}

// WriteChunk persists one upload chunk. The returned complete flag is
// set when the final byte has landed; the upload is then closed and
// removed from the table.
func (m *Manager) WriteChunk(transferID string, seq int, data []byte) (written int64, complete bool, err error) {
	m.mu.Lock()
	up, ok := m.uploads[transferID]
	m.mu.Unlock()
	if !ok {
		return 0, false, &TransferError{TransferID: transferID, Reason: "unknown transfer"}
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.done || up.canceled {
		return up.written, false, &TransferError{TransferID: transferID, Reason: "transfer is not active"}
	}
	if seq != up.nextSeq {
		return up.written, false, &TransferError{
			TransferID: transferID,
			Reason:     fmt.Sprintf("out-of-order chunk %d, expected %d", seq, up.nextSeq),
		}
	}
	if up.written+int64(len(data)) > up.FileSize {
		return up.written, false, &TransferError{TransferID: transferID, Reason: "more data than declared size"}
	}

	if _, err := up.file.Write(data); err != nil {
		return up.written, false, &TransferError{TransferID: transferID, Reason: err.Error()}
	}
	up.nextSeq++
	up.written += int64(len(data))

	if up.written == up.FileSize {
		up.done = true
		if err := up.file.Close(); err != nil {
			return up.written, false, &TransferError{TransferID: transferID, Reason: err.Error()}
		}
		m.mu.Lock()
		delete(m.uploads, transferID)
		m.mu.Unlock()
		return up.written, true, nil
	}
	return up.written, false, nil
}

// CancelUpload aborts an upload and removes the partial remote file.
func (m *Manager) CancelUpload(transferID string) {
	m.mu.Lock()
	up, ok := m.uploads[transferID]
	delete(m.uploads, transferID)
	m.mu.Unlock()
	if !ok {
		return
	}
	up.mu.Lock()
	up.canceled = true
	up.file.Close()
	up.mu.Unlock()
	m.client.sc.Remove(up.Path)
}

// DownloadMeta announces a download to the client.
type DownloadMeta struct {
	TransferID string
	Size       int64
	ChunkSize  int
}

// ChunkSink receives download chunks. The sink may block under socket
// backpressure; the pump resumes when it returns. A non-nil error
// cancels the transfer.
type ChunkSink func(seq int, data []byte, last bool) error

// StartDownload validates the path and size and registers the
// transfer. The caller then runs Pump on its own task.
func (m *Manager) StartDownload(remotePath string) (DownloadMeta, error) {
	if err := validation.ValidatePath(remotePath); err != nil {
		return DownloadMeta{}, err
	}
	info, err := m.client.sc.Stat(remotePath)
	if err != nil {
		return DownloadMeta{}, fmt.Errorf("failed to stat %s: %w", remotePath, err)
	}
	if info.IsDir() {
		return DownloadMeta{}, fmt.Errorf("%s is a directory", remotePath)
	}
	if info.Size() > m.maxFileSize {
		return DownloadMeta{}, fmt.Errorf("file size %d exceeds limit %d", info.Size(), m.maxFileSize)
	}
	return DownloadMeta{
		TransferID: uuid.New().String(),
		Size:       info.Size(),
		ChunkSize:  m.chunkSize,
	}, nil
}

// Pump streams the remote file to the sink in chunk-size frames.
// Reading from the SFTP channel is suspended while the sink blocks,
// which is what ties socket backpressure to the SSH side. Returns the
// bytes delivered.
func (m *Manager) Pump(ctx context.Context, meta DownloadMeta, remotePath string, sink ChunkSink) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.downloads[meta.TransferID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.downloads, meta.TransferID)
		m.mu.Unlock()
	}()

	f, err := m.client.sc.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", remotePath, err)
	}
	defer f.Close()

	var total int64
	buf := make([]byte, meta.ChunkSize)
	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			return total, &TransferError{TransferID: meta.TransferID, Reason: "canceled"}
		}
		n, readErr := io.ReadFull(f, buf)
		if readErr == io.EOF {
			return total, sink(seq, nil, true)
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return total, &TransferError{TransferID: meta.TransferID, Reason: readErr.Error()}
		}
		last := readErr == io.ErrUnexpectedEOF
		frame := make([]byte, n)
		copy(frame, buf[:n])
		if err := sink(seq, frame, last); err != nil {
			return total, err
		}
		total += int64(n)
		if last {
			return total, nil
		}
	}
}

// CancelDownload stops an in-flight download.
func (m *Manager) CancelDownload(transferID string) {
	m.mu.Lock()
	cancel, ok := m.downloads[transferID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAll aborts every transfer; used when the socket closes.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	uploads := make([]string, 0, len(m.uploads))
	for id := range m.uploads {
		uploads = append(uploads, id)
	}
	downloads := make([]context.CancelFunc, 0, len(m.downloads))
	for _, cancel := range m.downloads {
		downloads = append(downloads, cancel)
	}
	m.mu.Unlock()

	for _, id := range uploads {
		m.CancelUpload(id)
	}
	for _, cancel := range downloads {
		cancel()
	}
}
