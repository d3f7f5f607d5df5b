// Package transport implements the reliable, ordered, half-duplex
// request/response channel remofile runs on.
//
// The channel contract is strict: exactly one request in flight, every
// request answered by exactly one response, no pipelining. Messages
// are opaque byte frames; encoding them is the protocol package's
// concern.
//
// Two wire stacks are provided. The plain stack frames messages over
// TCP with a length prefix. The encrypted stack wraps the same framing
// in a Noise-IK handshake: the client must know the server's static
// public key in advance, and the first encrypted payload carries the
// access token, which the server verifies once per connection before
// any request is served.
package transport
