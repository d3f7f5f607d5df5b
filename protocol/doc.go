// Package protocol defines the remofile wire vocabulary and the codec
// that turns requests and responses into bytes.
//
// Every exchange on a remofile connection is a single request followed
// by a single response. A request is a tagged variant: an envelope
// carrying a protocol version, a request type, and a type-specific
// payload. A response carries a status (ACCEPTED, REFUSED or ERROR), a
// fine-grained reason code, and an optional payload.
//
// Envelopes and payloads are serialized with CBOR using deterministic
// encoding, so the protocol is self-describing and implementable
// without reference to any particular language's object model. Framing
// (length prefixes) is the transport's concern, not this package's.
package protocol
