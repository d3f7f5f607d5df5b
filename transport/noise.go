package transport

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// ErrAccessDenied indicates a connection whose handshake carried the
// wrong access token.
var ErrAccessDenied = errors.New("access token rejected")

// ErrHandshakeFailed indicates a Noise handshake that could not be
// completed.
var ErrHandshakeFailed = errors.New("noise handshake failed")

// handshakeTimeout bounds the whole accept-side handshake so a stalled
// client cannot hold the listener hostage.
const handshakeTimeout = 10 * time.Second

// cipherSuite is the Noise cipher suite used by all remofile
// connections: Curve25519 key agreement, ChaCha20-Poly1305 transport
// encryption, BLAKE2s hashing.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Keypair is a static Curve25519 keypair identifying a server. Clients
// must know the server's public key before dialing.
type Keypair struct {
	Private []byte
	Public  []byte
}

// GenerateKeypair creates a fresh static keypair for a server.
func GenerateKeypair() (Keypair, error) {
	key, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{Private: key.Private, Public: key.Public}, nil
}

// DialNoise opens an encrypted, authenticated connection to a remofile
// server. serverPublic is the server's static public key; token is the
// shared access credential, delivered inside the first encrypted
// handshake message and never observable on the wire.
func DialNoise(addr string, serverPublic []byte, token string) (Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	local, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("generate ephemeral identity: %w", err)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: local,
		PeerStatic:    serverPublic,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	s := stream{conn: c}
	if err := s.setDeadline(handshakeTimeout); err != nil {
		c.Close()
		return nil, err
	}

	msg1, _, _, err := hs.WriteMessage(nil, []byte(token))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := s.writeFrame(msg1); err != nil {
		c.Close()
		return nil, err
	}

	msg2, err := s.readFrame()
	if err != nil {
		c.Close()
		// The server closes without replying when the token is wrong,
		// so a dropped handshake reads as denied access.
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	_, send, recv, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := s.setDeadline(0); err != nil {
		c.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"remote": addr,
	}).Debug("Encrypted transport connection established")

	return &noiseClientConn{stream: s, send: send, recv: recv}, nil
}

// ListenNoise starts an encrypted listener. Every accepted connection
// completes a Noise-IK handshake and must present the expected token;
// connections failing either check are dropped before Accept returns.
func ListenNoise(addr string, key Keypair, token string) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"addr": l.Addr().String(),
	}).Info("Encrypted transport listener started")
	return &noiseListener{listener: l, key: key, token: []byte(token)}, nil
}

type noiseClientConn struct {
	stream stream
	send   *noise.CipherState
	recv   *noise.CipherState
}

func (c *noiseClientConn) Send(req []byte, timeout time.Duration) ([]byte, error) {
	if err := c.stream.setDeadline(timeout); err != nil {
		return nil, err
	}
	sealed, err := c.send.Encrypt(nil, nil, req)
	if err != nil {
		return nil, fmt.Errorf("encrypt request: %w", err)
	}
	if err := c.stream.writeFrame(sealed); err != nil {
		return nil, err
	}
	sealedResp, err := c.stream.readFrame()
	if err != nil {
		return nil, err
	}
	resp, err := c.recv.Decrypt(nil, nil, sealedResp)
	if err != nil {
		return nil, fmt.Errorf("decrypt response: %w", err)
	}
	return resp, nil
}

func (c *noiseClientConn) Close() error {
	return c.stream.close()
}

type noiseServerConn struct {
	stream stream
	send   *noise.CipherState
	recv   *noise.CipherState
}

func (c *noiseServerConn) Recv() ([]byte, error) {
	sealed, err := c.stream.readFrame()
	if err != nil {
		return nil, err
	}
	req, err := c.recv.Decrypt(nil, nil, sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt request: %w", err)
	}
	return req, nil
}

func (c *noiseServerConn) Reply(resp []byte) error {
	sealed, err := c.send.Encrypt(nil, nil, resp)
	if err != nil {
		return fmt.Errorf("encrypt response: %w", err)
	}
	return c.stream.writeFrame(sealed)
}

func (c *noiseServerConn) RemoteAddr() net.Addr {
	return c.stream.conn.RemoteAddr()
}

func (c *noiseServerConn) Close() error {
	return c.stream.close()
}

type noiseListener struct {
	listener net.Listener
	key      Keypair
	token    []byte
}

func (l *noiseListener) Accept() (ServerConn, error) {
	c, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	sc, err := l.handshake(c)
	if err != nil {
		c.Close()
		logrus.WithFields(logrus.Fields{
			"remote": c.RemoteAddr().String(),
			"error":  err.Error(),
		}).Warn("Rejected incoming connection")
		return nil, err
	}
	return sc, nil
}

func (l *noiseListener) handshake(c net.Conn) (ServerConn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeIK,
		StaticKeypair: noise.DHKey{
			Private: l.key.Private,
			Public:  l.key.Public,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	s := stream{conn: c}
	if err := s.setDeadline(handshakeTimeout); err != nil {
		return nil, err
	}

	msg1, err := s.readFrame()
	if err != nil {
		return nil, err
	}
	presented, _, _, err := hs.ReadMessage(nil, msg1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if subtle.ConstantTimeCompare(presented, l.token) != 1 {
		return nil, ErrAccessDenied
	}

	msg2, recv, send, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := s.writeFrame(msg2); err != nil {
		return nil, err
	}
	if err := s.setDeadline(0); err != nil {
		return nil, err
	}

	return &noiseServerConn{stream: s, send: send, recv: recv}, nil
}

func (l *noiseListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *noiseListener) Close() error {
	return l.listener.Close()
}
