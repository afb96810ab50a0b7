package gateway

import (
	"encoding/base64"
	"encoding/json"

	"github.com/rjsadow/webssh2/internal/logging"
	sftpsvc "github.com/rjsadow/webssh2/internal/sftp"
)

// ensureSFTP lazily opens the SFTP channel on the session's SSH
// connection.
func (a *Adapter) ensureSFTP() (*sftpsvc.Manager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sftpMgr != nil {
		return a.sftpMgr, nil
	}
	if a.sshConn == nil {
		return nil, errNotConnected
	}
	cli, err := sftpsvc.NewClient(a.sshConn.Client())
	if err != nil {
		return nil, err
	}
	a.sftpCli = cli
	a.sftpMgr = sftpsvc.NewManager(cli, sftpsvc.DefaultMaxFileSize)
	return a.sftpMgr, nil
}

type notConnectedError struct{}

func (notConnectedError) Error() string { return "not connected" }

var errNotConnected = notConnectedError{}

// sendSFTPError surfaces one SFTP failure.
func (a *Adapter) sendSFTPError(op string, err error) {
	a.emit(outbound{Event: "sftp-error", Payload: map[string]any{
		"operation": op,
		"message":   err.Error(),
	}})
	a.log(logging.Record{
		Level: logging.LevelWarn, Event: "sftp_" + op,
		Protocol: "sftp", Subsystem: "sftp", Status: "failure", Reason: err.Error(),
	})
}

// handleSFTP routes one sftp-* event.
func (a *Adapter) handleSFTP(event string, raw json.RawMessage) {
	mgr, err := a.ensureSFTP()
	if err != nil {
		a.sendSFTPError("open", err)
		return
	}
	cli := a.sftpClient()

	switch event {
	case "sftp-list":
		var p SFTPPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		entries, err := cli.List(p.Path)
		if err != nil {
			a.sendSFTPError("list", err)
			return
		}
		a.emit(outbound{Event: "sftp-directory", Payload: map[string]any{
			"path":    p.Path,
			"entries": entries,
		}})
		a.log(logging.Record{Level: logging.LevelInfo, Event: "sftp_list", Protocol: "sftp", Status: "success"})

	case "sftp-stat":
		var p SFTPPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		entry, err := cli.Stat(p.Path)
		if err != nil {
			a.sendSFTPError("stat", err)
			return
		}
		a.emit(outbound{Event: "sftp-stat-result", Payload: entry})

	case "sftp-mkdir":
		var p SFTPPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		if err := cli.Mkdir(p.Path); err != nil {
			a.sendSFTPError("mkdir", err)
			return
		}
		a.emit(outbound{Event: "sftp-operation-result", Payload: map[string]any{
			"operation": "mkdir", "path": p.Path, "success": true,
		}})
		a.log(logging.Record{Level: logging.LevelInfo, Event: "sftp_mkdir", Protocol: "sftp", Status: "success"})

	case "sftp-delete":
		var p SFTPPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		if err := cli.Delete(p.Path); err != nil {
			a.sendSFTPError("delete", err)
			return
		}
		a.emit(outbound{Event: "sftp-operation-result", Payload: map[string]any{
			"operation": "delete", "path": p.Path, "success": true,
		}})
		a.log(logging.Record{Level: logging.LevelInfo, Event: "sftp_delete", Protocol: "sftp", Status: "success"})

	case "sftp-upload-start":
		a.handleUploadStart(mgr, raw)

	case "sftp-upload-chunk":
		a.handleUploadChunk(mgr, raw)

	case "sftp-upload-cancel":
		var p SFTPTransferPayload
		if json.Unmarshal(raw, &p) != nil || p.TransferID == "" {
			return
		}
		mgr.CancelUpload(p.TransferID)
		a.emit(outbound{Event: "sftp-status", Payload: map[string]any{
			"transferId": p.TransferID, "status": "canceled",
		}})

	case "sftp-download-start":
		a.handleDownloadStart(mgr, raw)

	case "sftp-download-cancel":
		var p SFTPTransferPayload
		if json.Unmarshal(raw, &p) != nil || p.TransferID == "" {
			return
		}
		mgr.CancelDownload(p.TransferID)
	}
}

func (a *Adapter) sftpClient() *sftpsvc.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sftpCli
}

// handleUploadStart opens the remote file and announces the transfer
// id and chunk size. Requests that try to pick their own transfer id
// are dropped silently.
func (a *Adapter) handleUploadStart(mgr *sftpsvc.Manager, raw json.RawMessage) {
	var p SFTPUploadStartPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	if p.TransferID != "" {
		return
	}
	up, err := mgr.StartUpload(p.RemotePath, p.FileName, p.FileSize, p.Overwrite)
	if err != nil {
		a.sendSFTPError("upload", err)
		return
	}
	a.emit(outbound{Event: "sftp-upload-ready", Payload: map[string]any{
		"transferId": up.ID,
		"chunkSize":  up.ChunkSize,
	}})
}

// handleUploadChunk persists one chunk and acknowledges it.
func (a *Adapter) handleUploadChunk(mgr *sftpsvc.Manager, raw json.RawMessage) {
	var p SFTPChunkPayload
	if json.Unmarshal(raw, &p) != nil || p.TransferID == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		a.sendSFTPError("upload", err)
		return
	}
	written, complete, err := mgr.WriteChunk(p.TransferID, p.Seq, data)
	if err != nil {
		a.sendSFTPError("upload", err)
		return
	}
	a.emit(outbound{Event: "sftp-upload-ack", Payload: map[string]any{
		"transferId": p.TransferID,
		"seq":        p.Seq,
	}})
	a.emit(outbound{Event: "sftp-progress", Payload: map[string]any{
		"transferId": p.TransferID,
		"bytes":      written,
	}})
	if complete {
		a.emit(outbound{Event: "sftp-complete", Payload: map[string]any{
			"transferId": p.TransferID,
			"bytes":      written,
		}})
		a.log(logging.Record{
			Level: logging.LevelInfo, Event: "sftp_upload",
			Protocol: "sftp", Status: "success", BytesIn: written,
		})
	}
}

// handleDownloadStart announces the download and pumps chunks on its
// own task. Chunk emission rides the outbound queue, so socket
// backpressure suspends the SFTP reads.
func (a *Adapter) handleDownloadStart(mgr *sftpsvc.Manager, raw json.RawMessage) {
	var p SFTPDownloadStartPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	if p.TransferID != "" {
		return
	}
	meta, err := mgr.StartDownload(p.Path)
	if err != nil {
		a.sendSFTPError("download", err)
		return
	}
	a.emit(outbound{Event: "sftp-download-ready", Payload: map[string]any{
		"transferId": meta.TransferID,
		"size":       meta.Size,
	}})

	go func() {
		total, err := mgr.Pump(a.ctx, meta, p.Path, func(seq int, data []byte, last bool) error {
			if data != nil {
				if err := a.emit(outbound{Event: "sftp-download-chunk", Payload: map[string]any{
					"transferId": meta.TransferID,
					"seq":        seq,
					"data":       base64.StdEncoding.EncodeToString(data),
					"last":       last,
				}}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			a.sendSFTPError("download", err)
			return
		}
		a.emit(outbound{Event: "sftp-complete", Payload: map[string]any{
			"transferId": meta.TransferID,
			"bytes":      total,
		}})
		a.log(logging.Record{
			Level: logging.LevelInfo, Event: "sftp_download",
			Protocol: "sftp", Status: "success", BytesOut: total,
		})
	}()
}
