package server

import (
	"io"
	"os"
	"path"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/intjelic/remofile/protocol"
	"github.com/intjelic/remofile/vfs"
)

// transferKind distinguishes the two directions of a transfer session.
type transferKind uint8

const (
	transferUpload transferKind = iota
	transferDownload
)

// transfer is the server's at-most-one transfer session. It exists
// only while the state machine is in UPLOAD or DOWNLOAD.
type transfer struct {
	kind      transferKind
	path      string
	file      afero.File
	fileSize  int64
	chunkSize int64
	remaining int64
}

// nextChunkSize is the exact number of bytes the next chunk must
// carry: the negotiated chunk size, or the remainder for the final
// chunk.
func (t *transfer) nextChunkSize() int64 {
	if t.remaining < t.chunkSize {
		return t.remaining
	}
	return t.chunkSize
}

func (s *Session) handleUploadFile(req *protocol.Request) *protocol.Response {
	var p protocol.UploadFilePayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	if p.FileSize <= 0 || p.FileSize > s.cfg.FileSizeLimit {
		return protocol.Refused(protocol.ReasonIncorrectFileSize)
	}
	if p.ChunkSize < s.cfg.MinChunkSize || p.ChunkSize > s.cfg.MaxChunkSize {
		return protocol.Refused(protocol.ReasonIncorrectChunkSize)
	}
	if resp := s.checkEntryCreation(p.Name, p.Directory); resp != nil {
		return resp
	}

	target := path.Join(p.Directory, p.Name)
	if err := s.cfg.Root.CreateFile(target); err != nil {
		return s.fail(err)
	}
	file, err := s.cfg.Root.OpenAppend(target)
	if err != nil {
		// The empty target was created but cannot be written; do not
		// leave it behind.
		_ = s.cfg.Root.Remove(target)
		return s.fail(err)
	}

	s.xfer = &transfer{
		kind:      transferUpload,
		path:      target,
		file:      file,
		fileSize:  p.FileSize,
		chunkSize: p.ChunkSize,
		remaining: p.FileSize,
	}
	s.state = StateUpload

	s.log.WithFields(logrus.Fields{
		"path":       target,
		"file_size":  p.FileSize,
		"chunk_size": p.ChunkSize,
	}).Info("Upload accepted")

	raw, err := protocol.EncodePayload(&protocol.TransferAcceptedPayload{
		FileSize:  p.FileSize,
		ChunkSize: p.ChunkSize,
	})
	if err != nil {
		return s.fail(err)
	}
	return protocol.Accepted(protocol.ReasonTransferAccepted, raw)
}

func (s *Session) handleSendChunk(req *protocol.Request) *protocol.Response {
	var p protocol.SendChunkPayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	// The chunk must carry exactly the negotiated size, or exactly the
	// remainder for the final chunk. Anything else desynchronizes the
	// byte count and aborts the transfer.
	if int64(len(p.Data)) != s.xfer.nextChunkSize() {
		s.log.WithFields(logrus.Fields{
			"expected": s.xfer.nextChunkSize(),
			"received": len(p.Data),
		}).Warn("Chunk length mismatch, aborting upload")
		return s.badRequest()
	}

	if _, err := s.xfer.file.Write(p.Data); err != nil {
		return s.fail(err)
	}
	s.xfer.remaining -= int64(len(p.Data))

	if s.xfer.remaining == 0 {
		if err := s.xfer.file.Close(); err != nil {
			return s.fail(err)
		}
		s.log.WithFields(logrus.Fields{
			"path":      s.xfer.path,
			"file_size": s.xfer.fileSize,
		}).Info("Upload completed")
		s.xfer = nil
		s.state = StateIdle
		return protocol.Accepted(protocol.ReasonTransferCompleted, nil)
	}
	return protocol.Accepted(protocol.ReasonChunkAccepted, nil)
}

func (s *Session) handleDownloadFile(req *protocol.Request) *protocol.Response {
	var p protocol.DownloadFilePayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	if p.ChunkSize <= 0 {
		return protocol.Refused(protocol.ReasonIncorrectChunkSize)
	}
	// Unlike uploads, an out-of-range chunk size is clamped rather
	// than refused: the effective size goes back to the client in the
	// acceptance payload, which establishes the cycle length.
	chunkSize := p.ChunkSize
	if chunkSize < s.cfg.MinChunkSize {
		chunkSize = s.cfg.MinChunkSize
	}
	if chunkSize > s.cfg.MaxChunkSize {
		chunkSize = s.cfg.MaxChunkSize
	}

	if !vfs.ValidName(p.Name) {
		return protocol.Refused(protocol.ReasonInvalidFileName)
	}

	info, err := s.cfg.Root.Stat(p.Directory)
	switch {
	case pathViolation(err):
		return s.badRequest()
	case os.IsNotExist(err):
		return protocol.Refused(protocol.ReasonNotADirectory)
	case err != nil:
		return s.fail(err)
	case !info.IsDir():
		return protocol.Refused(protocol.ReasonNotADirectory)
	}

	source := path.Join(p.Directory, p.Name)
	fileInfo, err := s.cfg.Root.Stat(source)
	switch {
	case os.IsNotExist(err):
		return protocol.Refused(protocol.ReasonFileNotFound)
	case err != nil:
		return s.fail(err)
	case fileInfo.IsDir():
		return protocol.Refused(protocol.ReasonNotAFile)
	}

	file, err := s.cfg.Root.OpenRead(source)
	if err != nil {
		return s.fail(err)
	}

	s.xfer = &transfer{
		kind:      transferDownload,
		path:      source,
		file:      file,
		fileSize:  fileInfo.Size(),
		chunkSize: chunkSize,
		remaining: fileInfo.Size(),
	}
	s.state = StateDownload

	s.log.WithFields(logrus.Fields{
		"path":       source,
		"file_size":  fileInfo.Size(),
		"chunk_size": chunkSize,
	}).Info("Download accepted")

	raw, err := protocol.EncodePayload(&protocol.TransferAcceptedPayload{
		FileSize:  fileInfo.Size(),
		ChunkSize: chunkSize,
	})
	if err != nil {
		return s.fail(err)
	}
	return protocol.Accepted(protocol.ReasonTransferAccepted, raw)
}

func (s *Session) handleReceiveChunk() *protocol.Response {
	chunk := make([]byte, s.xfer.nextChunkSize())
	if _, err := io.ReadFull(s.xfer.file, chunk); err != nil {
		return s.fail(err)
	}
	s.xfer.remaining -= int64(len(chunk))

	raw, err := protocol.EncodePayload(&protocol.ChunkPayload{Data: chunk})
	if err != nil {
		return s.fail(err)
	}

	if s.xfer.remaining == 0 {
		if err := s.xfer.file.Close(); err != nil {
			return s.fail(err)
		}
		s.log.WithFields(logrus.Fields{
			"path":      s.xfer.path,
			"file_size": s.xfer.fileSize,
		}).Info("Download completed")
		s.xfer = nil
		s.state = StateIdle
		return protocol.Accepted(protocol.ReasonTransferCompleted, raw)
	}
	return protocol.Accepted(protocol.ReasonChunkSent, raw)
}

func (s *Session) handleCancelTransfer() *protocol.Response {
	s.log.WithFields(logrus.Fields{
		"path":  s.xfer.path,
		"state": s.state.String(),
	}).Info("Transfer cancelled by client")
	s.discardTransfer()
	return protocol.Accepted(protocol.ReasonTransferCancelled, nil)
}

// abortTransfer discards any transfer in progress after a protocol
// violation or internal failure. It is a no-op when idle.
func (s *Session) abortTransfer() {
	if s.xfer == nil {
		return
	}
	s.log.WithFields(logrus.Fields{
		"path":  s.xfer.path,
		"state": s.state.String(),
	}).Warn("Transfer aborted")
	s.discardTransfer()
}

// discardTransfer closes the transfer's file and, for uploads, deletes
// the partial artifact rather than leaving a silently truncated file.
func (s *Session) discardTransfer() {
	if closeErr := s.xfer.file.Close(); closeErr != nil {
		s.log.WithError(closeErr).Warn("Failed to close transfer file during discard")
	}
	if s.xfer.kind == transferUpload {
		if removeErr := s.cfg.Root.Remove(s.xfer.path); removeErr != nil {
			s.log.WithError(removeErr).Warn("Failed to delete partial upload")
		}
	}
	s.xfer = nil
	s.state = StateIdle
}
