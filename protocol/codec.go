package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrVersionMismatch indicates an envelope carrying an unsupported
// protocol version.
var ErrVersionMismatch = errors.New("unsupported protocol version")

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding: sorted map keys, smallest integer encoding, no
// indefinite-length items. The same logical message always produces
// identical bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder. Unknown fields are ignored so newer
// peers can add payload fields without breaking older ones.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Request is the envelope for every client-to-server message.
type Request struct {
	Version uint8           `cbor:"1,keyasint"`
	Type    RequestType     `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Response is the envelope for every server-to-client message.
type Response struct {
	Version uint8           `cbor:"1,keyasint"`
	Status  Status          `cbor:"2,keyasint"`
	Reason  Reason          `cbor:"3,keyasint"`
	Payload cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// Request payloads, one per request type. RECEIVE_CHUNK and
// CANCEL_TRANSFER carry no payload.
type (
	ListFilesPayload struct {
		Directory string `cbor:"1,keyasint"`
	}

	CreateFilePayload struct {
		Name      string `cbor:"1,keyasint"`
		Directory string `cbor:"2,keyasint"`
	}

	MakeDirectoryPayload struct {
		Name      string `cbor:"1,keyasint"`
		Directory string `cbor:"2,keyasint"`
	}

	UploadFilePayload struct {
		Name      string `cbor:"1,keyasint"`
		Directory string `cbor:"2,keyasint"`
		FileSize  int64  `cbor:"3,keyasint"`
		ChunkSize int64  `cbor:"4,keyasint"`
	}

	SendChunkPayload struct {
		Data []byte `cbor:"1,keyasint"`
	}

	DownloadFilePayload struct {
		Name      string `cbor:"1,keyasint"`
		Directory string `cbor:"2,keyasint"`
		ChunkSize int64  `cbor:"3,keyasint"`
	}

	RemoveFilePayload struct {
		Path string `cbor:"1,keyasint"`
	}
)

// Response payloads.
type (
	// TransferAcceptedPayload answers UPLOAD_FILE and DOWNLOAD_FILE.
	// For downloads it establishes the cycle the client must expect:
	// the file size and the effective, possibly clamped, chunk size.
	TransferAcceptedPayload struct {
		FileSize  int64 `cbor:"1,keyasint"`
		ChunkSize int64 `cbor:"2,keyasint"`
	}

	// ChunkPayload carries file bytes for CHUNK_SENT and for the final
	// TRANSFER_COMPLETED of a download.
	ChunkPayload struct {
		Data []byte `cbor:"1,keyasint"`
	}

	// ErrorPayload carries the diagnostic message of UNKNOWN_ERROR.
	ErrorPayload struct {
		Message string `cbor:"1,keyasint"`
	}
)

// NewRequest builds a request envelope around the given payload.
// A nil payload produces an envelope with no payload bytes.
func NewRequest(t RequestType, payload any) (*Request, error) {
	req := &Request{Version: Version, Type: t}
	if payload != nil {
		raw, err := encMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		req.Payload = raw
	}
	return req, nil
}

// DecodePayload decodes the request payload into v. A missing payload
// or a payload of the wrong shape is an error; the server answers it
// with BAD_REQUEST.
func (r *Request) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return errors.New("request has no payload")
	}
	return decMode.Unmarshal(r.Payload, v)
}

// DecodePayload decodes the response payload into v.
func (r *Response) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return errors.New("response has no payload")
	}
	return decMode.Unmarshal(r.Payload, v)
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(req *Request) ([]byte, error) {
	return encMode.Marshal(req)
}

// DecodeRequest parses a request envelope and verifies its version.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := decMode.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request envelope: %w", err)
	}
	if req.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, req.Version)
	}
	return &req, nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(resp *Response) ([]byte, error) {
	return encMode.Marshal(resp)
}

// DecodeResponse parses a response envelope and verifies its version.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := decMode.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	if resp.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, resp.Version)
	}
	return &resp, nil
}

// EncodePayload serializes a payload for embedding in an envelope.
func EncodePayload(v any) (cbor.RawMessage, error) {
	return encMode.Marshal(v)
}

// Accepted builds an ACCEPTED response with an optional pre-encoded
// payload.
func Accepted(reason Reason, payload cbor.RawMessage) *Response {
	return &Response{Version: Version, Status: StatusAccepted, Reason: reason, Payload: payload}
}

// Refused builds a REFUSED response for the given reason.
func Refused(reason Reason) *Response {
	return &Response{Version: Version, Status: StatusRefused, Reason: reason}
}

// BadRequest builds the ERROR/BAD_REQUEST response sent for malformed
// requests and for requests illegal in the current session state.
func BadRequest() *Response {
	return &Response{Version: Version, Status: StatusError, Reason: ReasonBadRequest}
}

// UnknownError builds the ERROR/UNKNOWN_ERROR response carrying a
// diagnostic message.
func UnknownError(message string) *Response {
	raw, err := encMode.Marshal(&ErrorPayload{Message: message})
	if err != nil {
		// ErrorPayload is a single string field; encoding it cannot
		// fail at runtime.
		raw = nil
	}
	return &Response{Version: Version, Status: StatusError, Reason: ReasonUnknownError, Payload: raw}
}
