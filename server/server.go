package server

import (
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/intjelic/remofile/protocol"
	"github.com/intjelic/remofile/transport"
)

// Server serves one directory tree to one client at a time.
type Server struct {
	cfg Config
	log *logrus.Entry
}

// New validates the configuration and creates a server.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		log: logrus.WithField("component", "server"),
	}, nil
}

// Serve accepts and services connections until the listener closes.
// Connections are serviced strictly one at a time: the protocol's
// single-session invariant makes overlapping clients an unsupported
// configuration, so the server never interleaves them.
func (s *Server) Serve(listener transport.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, transport.ErrAccessDenied) || errors.Is(err, transport.ErrHandshakeFailed) {
				// Rejected client; keep listening.
				continue
			}
			s.log.WithError(err).Warn("Accept failed")
			continue
		}
		s.serveConn(conn)
	}
}

// ListenAndServe serves plaintext connections on addr. Intended for
// trusted networks and tests; production deployments should prefer
// ListenAndServeEncrypted.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := transport.Listen(addr)
	if err != nil {
		return err
	}
	defer listener.Close()
	return s.Serve(listener)
}

// ListenAndServeEncrypted serves Noise-encrypted connections on addr,
// admitting only clients presenting the given access token.
func (s *Server) ListenAndServeEncrypted(addr string, key transport.Keypair, token string) error {
	listener, err := transport.ListenNoise(addr, key, token)
	if err != nil {
		return err
	}
	defer listener.Close()
	return s.Serve(listener)
}

// serveConn runs the blocking decode-handle-respond cycle for one
// connection, with a fresh session state machine.
func (s *Server) serveConn(conn transport.ServerConn) {
	defer conn.Close()

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("Client connected")

	session := NewSession(s.cfg)
	defer session.Close()

	for {
		frame, err := conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Warn("Connection failed")
			}
			log.Info("Client disconnected")
			return
		}

		resp := session.HandleFrame(frame)
		encoded, err := protocol.EncodeResponse(resp)
		if err != nil {
			// Response envelopes are built by this package and always
			// encode; treat a failure as a programming error and drop
			// the connection rather than leave the client hanging on a
			// half-finished exchange.
			log.WithError(err).Error("Failed to encode response")
			return
		}
		if err := conn.Reply(encoded); err != nil {
			log.WithError(err).Warn("Failed to send response")
			return
		}
	}
}
