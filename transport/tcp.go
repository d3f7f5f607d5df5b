package transport

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Conn is the client side of a request/response channel. Send issues
// one request and blocks until the matching response arrives or the
// timeout elapses. A Conn must not be used from multiple goroutines;
// the channel allows only one message in flight.
type Conn interface {
	// Send transmits req and returns the peer's response. A timeout of
	// zero blocks indefinitely. On a timeout the channel state is
	// unknown; the caller must discard the connection rather than
	// retry on it.
	Send(req []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

// ServerConn is the server side of a request/response channel. Calls
// must alternate: one Recv, then one Reply.
type ServerConn interface {
	Recv() ([]byte, error)
	Reply(resp []byte) error
	// RemoteAddr identifies the peer for logging.
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts incoming server connections.
type Listener interface {
	// Accept blocks until a client connects and completes any
	// transport-level handshake. Handshake failures are returned as
	// errors; the listener remains usable afterwards.
	Accept() (ServerConn, error)
	Addr() net.Addr
	Close() error
}

// Dial opens a plaintext connection to a remofile server.
func Dial(addr string) (Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"remote": addr,
	}).Debug("Transport connection established")
	return &clientConn{stream: stream{conn: c}}, nil
}

// Listen starts a plaintext listener for a remofile server.
func Listen(addr string) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"addr": l.Addr().String(),
	}).Info("Transport listener started")
	return &tcpListener{listener: l}, nil
}

type clientConn struct {
	stream stream
}

func (c *clientConn) Send(req []byte, timeout time.Duration) ([]byte, error) {
	if err := c.stream.setDeadline(timeout); err != nil {
		return nil, err
	}
	if err := c.stream.writeFrame(req); err != nil {
		return nil, err
	}
	return c.stream.readFrame()
}

func (c *clientConn) Close() error {
	return c.stream.close()
}

type serverConn struct {
	stream stream
}

func (c *serverConn) Recv() ([]byte, error) {
	return c.stream.readFrame()
}

func (c *serverConn) Reply(resp []byte) error {
	return c.stream.writeFrame(resp)
}

func (c *serverConn) RemoteAddr() net.Addr {
	return c.stream.conn.RemoteAddr()
}

func (c *serverConn) Close() error {
	return c.stream.close()
}

type tcpListener struct {
	listener net.Listener
}

func (l *tcpListener) Accept() (ServerConn, error) {
	c, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return &serverConn{stream: stream{conn: c}}, nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *tcpListener) Close() error {
	return l.listener.Close()
}
