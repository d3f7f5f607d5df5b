package server

import (
	"errors"

	"github.com/intjelic/remofile/transport"
	"github.com/intjelic/remofile/vfs"
)

const (
	// DefaultFileSizeLimit caps uploaded files at 4 GiB.
	DefaultFileSizeLimit = int64(4294967296)

	// DefaultMinChunkSize is the smallest chunk size a client may
	// negotiate.
	DefaultMinChunkSize = int64(512)

	// DefaultMaxChunkSize is the largest chunk size a client may
	// negotiate.
	DefaultMaxChunkSize = int64(8192)

	// chunkSizeCeiling is the hard upper bound on MaxChunkSize: a
	// chunk plus its envelope must still fit in one transport frame.
	chunkSizeCeiling = int64(transport.MaxFrameSize - 1024)
)

// Config carries the externally supplied parameters the server
// consumes. The access token is not part of it; token verification
// happens below the transport boundary.
type Config struct {
	// Root is the served directory tree. Required.
	Root *vfs.Root

	// FileSizeLimit caps the declared size of uploads. Zero selects
	// the default.
	FileSizeLimit int64

	// MinChunkSize and MaxChunkSize bound the negotiable chunk size.
	// Zero selects the defaults.
	MinChunkSize int64
	MaxChunkSize int64
}

func (cfg Config) withDefaults() Config {
	if cfg.FileSizeLimit == 0 {
		cfg.FileSizeLimit = DefaultFileSizeLimit
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Root == nil {
		return errors.New("config: served root is required")
	}
	if cfg.FileSizeLimit <= 0 {
		return errors.New("config: file size limit must be greater than 0")
	}
	if cfg.MinChunkSize <= 0 {
		return errors.New("config: minimum chunk size must be greater than 0")
	}
	if cfg.MaxChunkSize < cfg.MinChunkSize {
		return errors.New("config: maximum chunk size must be at least the minimum")
	}
	if cfg.MaxChunkSize > chunkSizeCeiling {
		return errors.New("config: maximum chunk size must fit in a transport frame")
	}
	return nil
}
