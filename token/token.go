// Package token generates the shared secrets clients present during
// the encrypted handshake.
package token

import "github.com/lithammer/shortuuid/v4"

// Generate returns a fresh random token. Tokens are short
// base57-encoded UUIDs, safe to paste on a command line.
func Generate() string {
	return shortuuid.New()
}
