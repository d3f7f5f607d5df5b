package server

import (
	"github.com/sirupsen/logrus"

	"github.com/intjelic/remofile/protocol"
)

// State is the server's exclusive transferring state. It gates which
// requests are legal at any instant.
type State uint8

const (
	// StateIdle accepts every request type.
	StateIdle State = iota
	// StateUpload accepts SEND_CHUNK, CANCEL_TRANSFER and LIST_FILES.
	StateUpload
	// StateDownload accepts RECEIVE_CHUNK, CANCEL_TRANSFER and LIST_FILES.
	StateDownload
	// StateDelete is a transient guard held while a remove operation
	// executes.
	StateDelete
)

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateUpload:
		return "UPLOAD"
	case StateDownload:
		return "DOWNLOAD"
	case StateDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Session is the protocol state machine for one accepted connection.
// It validates every request against the current state, dispatches to
// the operation handlers, and owns the at-most-one transfer session.
//
// A Session is not safe for concurrent use; the transport delivers one
// request at a time.
type Session struct {
	cfg   Config
	state State
	xfer  *transfer
	log   *logrus.Entry
}

// NewSession creates the state machine for a freshly accepted
// connection. cfg must already be validated.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg: cfg,
		log: logrus.WithField("component", "session"),
	}
}

// State returns the current transferring state.
func (s *Session) State() State {
	return s.state
}

// HandleFrame decodes one raw request frame and handles it. A frame
// that does not decode to a well-formed request is a protocol error:
// it aborts any in-progress transfer and is answered with BAD_REQUEST.
func (s *Session) HandleFrame(frame []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		s.log.WithError(err).Warn("Malformed request frame")
		s.abortTransfer()
		return protocol.BadRequest()
	}
	return s.Handle(req)
}

// Handle validates req against the current state and executes it.
func (s *Session) Handle(req *protocol.Request) *protocol.Response {
	s.log.WithFields(logrus.Fields{
		"request": req.Type.String(),
		"state":   s.state.String(),
	}).Debug("Handling request")

	// LIST_FILES is legal in every state and never affects it.
	if req.Type == protocol.RequestListFiles {
		return s.handleListFiles(req)
	}

	switch s.state {
	case StateUpload:
		return s.handleUploadState(req)
	case StateDownload:
		return s.handleDownloadState(req)
	default:
		return s.handleIdle(req)
	}
}

func (s *Session) handleIdle(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.RequestCreateFile:
		return s.handleCreateFile(req)
	case protocol.RequestMakeDirectory:
		return s.handleMakeDirectory(req)
	case protocol.RequestRemoveFile:
		return s.handleRemoveFile(req)
	case protocol.RequestUploadFile:
		return s.handleUploadFile(req)
	case protocol.RequestDownloadFile:
		return s.handleDownloadFile(req)
	default:
		// Chunk and cancel requests are meaningless outside a
		// transfer, as is any unknown request type.
		return protocol.BadRequest()
	}
}

// handleUploadState enforces the fail-closed policy: while uploading,
// anything other than the matching chunk request or a cancellation
// aborts the transfer and discards the partial file.
func (s *Session) handleUploadState(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.RequestSendChunk:
		return s.handleSendChunk(req)
	case protocol.RequestCancelTransfer:
		return s.handleCancelTransfer()
	default:
		s.log.WithField("request", req.Type.String()).Warn("Illegal request during upload, aborting transfer")
		s.abortTransfer()
		return protocol.BadRequest()
	}
}

func (s *Session) handleDownloadState(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.RequestReceiveChunk:
		return s.handleReceiveChunk()
	case protocol.RequestCancelTransfer:
		return s.handleCancelTransfer()
	default:
		s.log.WithField("request", req.Type.String()).Warn("Illegal request during download, aborting transfer")
		s.abortTransfer()
		return protocol.BadRequest()
	}
}

// fail resets the session after an unexpected internal failure and
// reports it to the client. A transfer in progress is discarded; the
// failure is never silently dropped.
func (s *Session) fail(err error) *protocol.Response {
	s.log.WithError(err).Error("Request failed unexpectedly")
	s.abortTransfer()
	return protocol.UnknownError(err.Error())
}

// Close releases any in-progress transfer, discarding its artifacts.
// The connection handler calls it when the client disconnects.
func (s *Session) Close() {
	s.abortTransfer()
}
