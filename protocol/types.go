package protocol

import "time"

// Version is the wire protocol version carried in every envelope.
// Peers speaking a different version are answered with BAD_REQUEST.
const Version uint8 = 1

// RequestType identifies the kind of a request.
type RequestType uint8

const (
	RequestListFiles RequestType = iota + 1
	RequestCreateFile
	RequestMakeDirectory
	RequestUploadFile
	RequestSendChunk
	RequestDownloadFile
	RequestReceiveChunk
	RequestCancelTransfer
	RequestRemoveFile
)

// String returns the wire-vocabulary name of the request type.
func (t RequestType) String() string {
	switch t {
	case RequestListFiles:
		return "LIST_FILES"
	case RequestCreateFile:
		return "CREATE_FILE"
	case RequestMakeDirectory:
		return "MAKE_DIRECTORY"
	case RequestUploadFile:
		return "UPLOAD_FILE"
	case RequestSendChunk:
		return "SEND_CHUNK"
	case RequestDownloadFile:
		return "DOWNLOAD_FILE"
	case RequestReceiveChunk:
		return "RECEIVE_CHUNK"
	case RequestCancelTransfer:
		return "CANCEL_TRANSFER"
	case RequestRemoveFile:
		return "REMOVE_FILE"
	default:
		return "UNKNOWN"
	}
}

// Status is the coarse outcome category of a response.
type Status uint8

const (
	// StatusAccepted means the operation succeeded.
	StatusAccepted Status = iota + 1
	// StatusRefused means a business-rule check failed; the caller can
	// adjust its input and retry.
	StatusRefused
	// StatusError means the request was malformed, illegal in the
	// current session state, or failed unexpectedly on the server.
	StatusError
)

// String returns the wire-vocabulary name of the status.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "ACCEPTED"
	case StatusRefused:
		return "REFUSED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Reason is the fine-grained outcome code on every response.
type Reason uint8

const (
	// Success reasons.
	ReasonFileListed Reason = iota + 1
	ReasonFileCreated
	ReasonDirectoryCreated
	ReasonTransferAccepted
	ReasonChunkAccepted
	ReasonChunkSent
	ReasonTransferCompleted
	ReasonTransferCancelled

	// Refusal reasons.
	ReasonInvalidFileName
	ReasonFileNotFound
	ReasonFileAlreadyExists
	ReasonNotAFile
	ReasonNotADirectory
	ReasonIncorrectFileSize
	ReasonIncorrectChunkSize

	// Error reasons.
	ReasonBadRequest
	ReasonUnknownError
)

// String returns the wire-vocabulary name of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonFileListed:
		return "FILE_LISTED"
	case ReasonFileCreated:
		return "FILE_CREATED"
	case ReasonDirectoryCreated:
		return "DIRECTORY_CREATED"
	case ReasonTransferAccepted:
		return "TRANSFER_ACCEPTED"
	case ReasonChunkAccepted:
		return "CHUNK_ACCEPTED"
	case ReasonChunkSent:
		return "CHUNK_SENT"
	case ReasonTransferCompleted:
		return "TRANSFER_COMPLETED"
	case ReasonTransferCancelled:
		return "TRANSFER_CANCELLED"
	case ReasonInvalidFileName:
		return "INVALID_FILE_NAME"
	case ReasonFileNotFound:
		return "FILE_NOT_FOUND"
	case ReasonFileAlreadyExists:
		return "FILE_ALREADY_EXISTS"
	case ReasonNotAFile:
		return "NOT_A_FILE"
	case ReasonNotADirectory:
		return "NOT_A_DIRECTORY"
	case ReasonIncorrectFileSize:
		return "INCORRECT_FILE_SIZE"
	case ReasonIncorrectChunkSize:
		return "INCORRECT_CHUNK_SIZE"
	case ReasonBadRequest:
		return "BAD_REQUEST"
	case ReasonUnknownError:
		return "UNKNOWN_ERROR"
	default:
		return "UNKNOWN"
	}
}

// FileEntry describes one entry of a directory listing.
type FileEntry struct {
	IsDir   bool      `cbor:"1,keyasint"`
	Size    int64     `cbor:"2,keyasint"`
	ModTime time.Time `cbor:"3,keyasint"`
}

// DirectoryListing maps entry names to their metadata. Names are
// unique within a listing; order is not meaningful.
type DirectoryListing map[string]FileEntry
