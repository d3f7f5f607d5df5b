package transport

import "net"

// Pipe returns a connected client/server pair backed by an in-memory,
// synchronous connection. It exists for tests that exercise the
// request/response cycle without binding sockets.
func Pipe() (Conn, ServerConn) {
	c1, c2 := net.Pipe()
	return &clientConn{stream: stream{conn: c1}}, &serverConn{stream: stream{conn: c2}}
}
