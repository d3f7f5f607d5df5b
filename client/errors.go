package client

import (
	"errors"
	"fmt"

	"github.com/intjelic/remofile/protocol"
)

// ErrTimeout indicates that no response arrived within the caller's
// bound. It is distinct from every other failure because the server's
// state is unknown: a request may or may not have been applied, so the
// connection must be discarded and re-established, never retried.
var ErrTimeout = errors.New("request timed out, connection state unknown")

// ErrTransferCancelled indicates a transfer stopped early at the
// caller's request via the progress callback.
var ErrTransferCancelled = errors.New("transfer cancelled")

// Error is the base type for every failure reported by the server.
// Callers match narrowly against the package sentinels with errors.Is,
// or broadly with errors.As:
//
//	if errors.Is(err, client.ErrFileAlreadyExists) { ... }
//
//	var remote *client.Error
//	if errors.As(err, &remote) { ... }
type Error struct {
	Status  protocol.Status
	Reason  protocol.Reason
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server answered %s/%s: %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("server answered %s/%s", e.Status, e.Reason)
}

// Is matches any *Error carrying the same reason, so the sentinels
// below work with errors.Is regardless of the diagnostic message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// Sentinels for every refusal and error reason the server can answer.
var (
	ErrInvalidFileName    = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonInvalidFileName}
	ErrFileNotFound       = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonFileNotFound}
	ErrFileAlreadyExists  = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonFileAlreadyExists}
	ErrNotAFile           = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonNotAFile}
	ErrNotADirectory      = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonNotADirectory}
	ErrIncorrectFileSize  = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonIncorrectFileSize}
	ErrIncorrectChunkSize = &Error{Status: protocol.StatusRefused, Reason: protocol.ReasonIncorrectChunkSize}
	ErrBadRequest         = &Error{Status: protocol.StatusError, Reason: protocol.ReasonBadRequest}
)

// CorruptedResponseError indicates a response the client could not
// reconcile with the protocol: an unexpected status, reason, payload
// shape, or chunk length. The connection should be discarded.
type CorruptedResponseError struct {
	Detail string
	Err    error
}

func (e *CorruptedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupted response: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("corrupted response: %s", e.Detail)
}

func (e *CorruptedResponseError) Unwrap() error {
	return e.Err
}

// responseError converts a non-accepted response into the typed error
// domain. Accepted responses yield nil.
func responseError(resp *protocol.Response) error {
	switch resp.Status {
	case protocol.StatusAccepted:
		return nil
	case protocol.StatusRefused:
		return &Error{Status: resp.Status, Reason: resp.Reason}
	case protocol.StatusError:
		if resp.Reason == protocol.ReasonUnknownError {
			var p protocol.ErrorPayload
			if err := resp.DecodePayload(&p); err != nil {
				return &CorruptedResponseError{Detail: "unreadable UNKNOWN_ERROR payload", Err: err}
			}
			return &Error{Status: resp.Status, Reason: resp.Reason, Message: p.Message}
		}
		return &Error{Status: resp.Status, Reason: resp.Reason}
	default:
		return &CorruptedResponseError{Detail: fmt.Sprintf("unknown status %d", resp.Status)}
	}
}
