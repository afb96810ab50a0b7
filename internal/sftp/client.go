// Package sftp implements the file-transfer subsystem: directory
// operations plus chunked upload and download state machines with
// server-generated transfer ids and ack-based flow control, running
// over an SFTP channel of the session's SSH connection.
package sftp

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/rjsadow/webssh2/internal/validation"
)

// DefaultMaxFileSize bounds uploads and downloads.
const DefaultMaxFileSize = 100 << 20 // 100 MiB

// DefaultChunkSize is the transfer frame payload size.
const DefaultChunkSize = 64 << 10 // 64 KiB

// Entry describes one remote file or directory.
type Entry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	ModTime string `json:"mod_time,omitempty"`
	IsDir   bool   `json:"is_dir"`
}

// Client wraps an SFTP channel with validated operations.
type Client struct {
	sc *sftp.Client
}

// NewClient opens the SFTP subsystem on an SSH connection.
func NewClient(conn *ssh.Client) (*Client, error) {
	sc, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp subsystem: %w", err)
	}
	return &Client{sc: sc}, nil
}

// Close releases the SFTP channel.
func (c *Client) Close() error {
	return c.sc.Close()
}

// List returns the entries of a remote directory.
func (c *Client) List(remotePath string) ([]Entry, error) {
	if err := validation.ValidatePath(remotePath); err != nil {
		return nil, err
	}
	infos, err := c.sc.ReadDir(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", remotePath, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, toEntry(info))
	}
	return entries, nil
}

// Stat returns a single entry.
func (c *Client) Stat(remotePath string) (Entry, error) {
	if err := validation.ValidatePath(remotePath); err != nil {
		return Entry{}, err
	}
	info, err := c.sc.Stat(remotePath)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", remotePath, err)
	}
	return toEntry(info), nil
}

// Mkdir creates a remote directory.
func (c *Client) Mkdir(remotePath string) error {
	if err := validation.ValidatePath(remotePath); err != nil {
		return err
	}
	if err := c.sc.Mkdir(remotePath); err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}
	return nil
}

// Delete removes a remote file or empty directory.
func (c *Client) Delete(remotePath string) error {
	if err := validation.ValidatePath(remotePath); err != nil {
		return err
	}
	info, err := c.sc.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", remotePath, err)
	}
	if info.IsDir() {
		err = c.sc.RemoveDirectory(remotePath)
	} else {
		err = c.sc.Remove(remotePath)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", remotePath, err)
	}
	return nil
}

func toEntry(info os.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime().UTC().Format(time.RFC3339),
		IsDir:   info.IsDir(),
	}
}
