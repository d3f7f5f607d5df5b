package client

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intjelic/remofile/protocol"
)

// DefaultChunkSize is used when a transfer does not specify one. It
// sits inside the server's default negotiable range.
const DefaultChunkSize = int64(4096)

// TransferOptions refine an upload or download.
type TransferOptions struct {
	// ChunkSize is the requested chunk size. Zero selects
	// DefaultChunkSize. Servers may clamp the value for downloads.
	ChunkSize int64

	// Timeout bounds each single request/response exchange, not the
	// whole transfer. Zero blocks indefinitely.
	Timeout time.Duration

	// OnChunk, when set, is invoked after every transferred chunk with
	// the running byte count and the total. Returning false cancels
	// the transfer cooperatively.
	OnChunk func(transferred, total int64) bool
}

func (o TransferOptions) withDefaults() TransferOptions {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// UploadFile transfers the local file at source into the remote
// directory, preserving its base name. The remote directory must be
// absolute with respect to the served root.
func (c *Client) UploadFile(source, directory string, opts TransferOptions) error {
	opts = opts.withDefaults()

	// Local preconditions before any wire traffic.
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("upload source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("upload source %q is a directory", source)
	}
	file, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("upload source: %w", err)
	}
	defer file.Close()

	name := filepath.Base(source)
	fileSize := info.Size()

	req, err := protocol.NewRequest(protocol.RequestUploadFile, &protocol.UploadFilePayload{
		Name:      name,
		Directory: directory,
		FileSize:  fileSize,
		ChunkSize: opts.ChunkSize,
	})
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(req, opts.Timeout)
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return err
	}
	if resp.Reason != protocol.ReasonTransferAccepted {
		return &CorruptedResponseError{Detail: "unexpected reason for UPLOAD_FILE: " + resp.Reason.String()}
	}

	var accepted protocol.TransferAcceptedPayload
	if err := resp.DecodePayload(&accepted); err != nil {
		return &CorruptedResponseError{Detail: "unreadable TRANSFER_ACCEPTED payload", Err: err}
	}
	chunkSize := accepted.ChunkSize

	c.log.WithFields(logrus.Fields{
		"source":     source,
		"directory":  directory,
		"file_size":  fileSize,
		"chunk_size": chunkSize,
	}).Debug("Upload accepted")

	remaining := fileSize
	for remaining > 0 {
		next := chunkSize
		if remaining < next {
			next = remaining
		}
		chunk := make([]byte, next)
		if _, err := io.ReadFull(file, chunk); err != nil {
			// The source changed size mid-transfer; there is no way to
			// satisfy the declared cycle, so give the server a clean
			// cancellation instead of a chunk length violation.
			cancelErr := c.cancelTransfer(opts.Timeout)
			if cancelErr != nil {
				return fmt.Errorf("read upload source: %w (cancel failed: %v)", err, cancelErr)
			}
			return fmt.Errorf("read upload source: %w", err)
		}

		chunkReq, err := protocol.NewRequest(protocol.RequestSendChunk, &protocol.SendChunkPayload{
			Data: chunk,
		})
		if err != nil {
			return err
		}
		chunkResp, err := c.roundTrip(chunkReq, opts.Timeout)
		if err != nil {
			return err
		}
		if err := responseError(chunkResp); err != nil {
			return err
		}

		remaining -= next
		switch {
		case remaining == 0 && chunkResp.Reason == protocol.ReasonTransferCompleted:
		case remaining > 0 && chunkResp.Reason == protocol.ReasonChunkAccepted:
		default:
			return &CorruptedResponseError{Detail: "unexpected reason for SEND_CHUNK: " + chunkResp.Reason.String()}
		}

		if opts.OnChunk != nil && !opts.OnChunk(fileSize-remaining, fileSize) {
			if remaining == 0 {
				// Nothing left to cancel.
				return nil
			}
			if err := c.cancelTransfer(opts.Timeout); err != nil {
				return err
			}
			return ErrTransferCancelled
		}
	}
	return nil
}

// DownloadFile transfers the remote file at source (an absolute path
// with respect to the served root) into the local destination
// directory, preserving its base name. An existing local file is
// overwritten.
func (c *Client) DownloadFile(source, destination string, opts TransferOptions) error {
	opts = opts.withDefaults()

	name := path.Base(source)
	directory := path.Dir(source)

	// Local precondition: the destination must be an existing
	// directory before any wire traffic.
	destInfo, err := os.Stat(destination)
	if err != nil {
		return fmt.Errorf("download destination: %w", err)
	}
	if !destInfo.IsDir() {
		return fmt.Errorf("download destination %q is not a directory", destination)
	}

	req, err := protocol.NewRequest(protocol.RequestDownloadFile, &protocol.DownloadFilePayload{
		Name:      name,
		Directory: directory,
		ChunkSize: opts.ChunkSize,
	})
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(req, opts.Timeout)
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return err
	}
	if resp.Reason != protocol.ReasonTransferAccepted {
		return &CorruptedResponseError{Detail: "unexpected reason for DOWNLOAD_FILE: " + resp.Reason.String()}
	}

	// The acceptance payload establishes the cycle: total size and the
	// server's effective, possibly clamped, chunk size.
	var accepted protocol.TransferAcceptedPayload
	if err := resp.DecodePayload(&accepted); err != nil {
		return &CorruptedResponseError{Detail: "unreadable TRANSFER_ACCEPTED payload", Err: err}
	}

	c.log.WithFields(logrus.Fields{
		"source":     source,
		"file_size":  accepted.FileSize,
		"chunk_size": accepted.ChunkSize,
	}).Debug("Download accepted")

	// The bytes land in a temporary file first and only replace the
	// target on completion, so a failed transfer never destroys an
	// existing local file and never leaves a truncated one behind.
	target := filepath.Join(destination, name)
	file, err := os.CreateTemp(destination, name+".partial-*")
	if err != nil {
		if cancelErr := c.cancelTransfer(opts.Timeout); cancelErr != nil {
			return fmt.Errorf("create download target: %w (cancel failed: %v)", err, cancelErr)
		}
		return fmt.Errorf("create download target: %w", err)
	}
	partial := file.Name()

	if err := c.receiveChunks(file, accepted, opts); err != nil {
		file.Close()
		if removeErr := os.Remove(partial); removeErr != nil {
			c.log.WithError(removeErr).Warn("Failed to delete partial download")
		}
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return fmt.Errorf("finalize download target: %w", err)
	}
	return nil
}

// receiveChunks runs the RECEIVE_CHUNK cycle until completion.
func (c *Client) receiveChunks(file *os.File, accepted protocol.TransferAcceptedPayload, opts TransferOptions) error {
	remaining := accepted.FileSize
	for {
		req, err := protocol.NewRequest(protocol.RequestReceiveChunk, nil)
		if err != nil {
			return err
		}
		resp, err := c.roundTrip(req, opts.Timeout)
		if err != nil {
			return err
		}
		if err := responseError(resp); err != nil {
			return err
		}

		var chunk protocol.ChunkPayload
		if err := resp.DecodePayload(&chunk); err != nil {
			return &CorruptedResponseError{Detail: "unreadable chunk payload", Err: err}
		}

		expected := accepted.ChunkSize
		if remaining < expected {
			expected = remaining
		}
		if int64(len(chunk.Data)) != expected {
			return &CorruptedResponseError{
				Detail: fmt.Sprintf("chunk of %d bytes where %d were expected", len(chunk.Data), expected),
			}
		}

		if _, err := file.Write(chunk.Data); err != nil {
			if cancelErr := c.cancelTransfer(opts.Timeout); cancelErr != nil {
				c.log.WithError(cancelErr).Warn("Failed to cancel download after write error")
			}
			return fmt.Errorf("write download target: %w", err)
		}
		remaining -= int64(len(chunk.Data))

		switch {
		case remaining == 0 && resp.Reason == protocol.ReasonTransferCompleted:
			if opts.OnChunk != nil {
				opts.OnChunk(accepted.FileSize, accepted.FileSize)
			}
			return nil
		case remaining > 0 && resp.Reason == protocol.ReasonChunkSent:
		default:
			return &CorruptedResponseError{Detail: "unexpected reason for RECEIVE_CHUNK: " + resp.Reason.String()}
		}

		if opts.OnChunk != nil && !opts.OnChunk(accepted.FileSize-remaining, accepted.FileSize) {
			if err := c.cancelTransfer(opts.Timeout); err != nil {
				return err
			}
			return ErrTransferCancelled
		}
	}
}

// cancelTransfer asks the server to discard the transfer in progress.
func (c *Client) cancelTransfer(timeout time.Duration) error {
	req, err := protocol.NewRequest(protocol.RequestCancelTransfer, nil)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(req, timeout)
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return err
	}
	if resp.Reason != protocol.ReasonTransferCancelled {
		return &CorruptedResponseError{Detail: "unexpected reason for CANCEL_TRANSFER: " + resp.Reason.String()}
	}
	return nil
}
