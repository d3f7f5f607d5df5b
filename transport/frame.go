package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single message on the wire. The largest legal
// protocol message is a chunk of at most a few KiB plus envelope
// overhead; anything near this limit is a protocol violation or garbage.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge indicates an incoming frame whose declared length
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// stream frames messages over a byte-stream connection using a 4-byte
// big-endian length prefix.
type stream struct {
	conn net.Conn
}

// writeFrame sends one length-prefixed message. The prefix and body go
// out in a single write so a synchronous peer never observes a torn
// frame.
func (s *stream) writeFrame(body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	_, err := s.conn.Write(buf)
	return err
}

// readFrame receives one length-prefixed message.
func (s *stream) readFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

// setDeadline applies an absolute deadline to the underlying
// connection; a zero timeout clears it.
func (s *stream) setDeadline(timeout time.Duration) error {
	if timeout <= 0 {
		return s.conn.SetDeadline(time.Time{})
	}
	return s.conn.SetDeadline(time.Now().Add(timeout))
}

func (s *stream) close() error {
	return s.conn.Close()
}
