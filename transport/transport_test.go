package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoOnce services a single request on the server side of a channel.
func echoOnce(t *testing.T, sc ServerConn) {
	t.Helper()
	req, err := sc.Recv()
	require.NoError(t, err)
	require.NoError(t, sc.Reply(req))
}

func TestPipeRequestResponse(t *testing.T) {
	cc, sc := Pipe()
	defer cc.Close()
	defer sc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoOnce(t, sc)
	}()

	resp, err := cc.Send([]byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), resp)
	<-done
}

func TestFrameRoundTripPreservesBinaryPayload(t *testing.T) {
	cc, sc := Pipe()
	defer cc.Close()
	defer sc.Close()

	payload := bytes.Repeat([]byte{0x00, 0xff, 0x7f, 0x80}, 4096)

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoOnce(t, sc)
	}()

	resp, err := cc.Send(payload, time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, resp)
	<-done
}

func TestEmptyFrame(t *testing.T) {
	cc, sc := Pipe()
	defer cc.Close()
	defer sc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := sc.Recv()
		require.NoError(t, err)
		assert.Empty(t, req)
		require.NoError(t, sc.Reply(nil))
	}()

	resp, err := cc.Send(nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, resp)
	<-done
}

func TestWriteFrameRejectsOversizedBody(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	s := stream{conn: c1}
	err := s.writeFrame(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		// A length prefix far beyond the limit, with no body behind it.
		c1.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}()

	s := stream{conn: c2}
	_, err := s.readFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestSendTimesOutWithoutResponse(t *testing.T) {
	cc, sc := Pipe()
	defer cc.Close()
	defer sc.Close()

	go func() {
		// Swallow the request and never reply.
		sc.Recv()
	}()

	_, err := cc.Send([]byte("ping"), 50*time.Millisecond)
	require.Error(t, err)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestTCPTransportRoundTrip(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc, err := listener.Accept()
		require.NoError(t, err)
		defer sc.Close()
		assert.NotNil(t, sc.RemoteAddr())
		echoOnce(t, sc)
	}()

	cc, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	defer cc.Close()

	resp, err := cc.Send([]byte("over tcp"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("over tcp"), resp)
	<-done
}

func TestNoiseTransportRoundTrip(t *testing.T) {
	key, err := GenerateKeypair()
	require.NoError(t, err)
	require.Len(t, key.Public, 32)

	listener, err := ListenNoise("127.0.0.1:0", key, "open sesame")
	require.NoError(t, err)
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc, err := listener.Accept()
		require.NoError(t, err)
		defer sc.Close()
		echoOnce(t, sc)
		echoOnce(t, sc)
	}()

	cc, err := DialNoise(listener.Addr().String(), key.Public, "open sesame")
	require.NoError(t, err)
	defer cc.Close()

	// Two exchanges on the same connection exercise the cipher state
	// nonce progression.
	for _, msg := range []string{"first", "second"} {
		resp, err := cc.Send([]byte(msg), 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte(msg), resp)
	}
	<-done
}

func TestNoiseRejectsWrongToken(t *testing.T) {
	key, err := GenerateKeypair()
	require.NoError(t, err)

	listener, err := ListenNoise("127.0.0.1:0", key, "right token")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan error, 1)
	go func() {
		_, err := listener.Accept()
		accepted <- err
	}()

	_, err = DialNoise(listener.Addr().String(), key.Public, "wrong token")
	assert.Error(t, err, "the dialer must not obtain a usable connection")

	assert.ErrorIs(t, <-accepted, ErrAccessDenied)
}

func TestNoiseRejectsWrongServerKey(t *testing.T) {
	key, err := GenerateKeypair()
	require.NoError(t, err)
	other, err := GenerateKeypair()
	require.NoError(t, err)

	listener, err := ListenNoise("127.0.0.1:0", key, "token")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan error, 1)
	go func() {
		_, err := listener.Accept()
		accepted <- err
	}()

	// Dialing with the wrong static key produces a handshake message
	// the server cannot decrypt.
	_, err = DialNoise(listener.Addr().String(), other.Public, "token")
	assert.Error(t, err)

	assert.ErrorIs(t, <-accepted, ErrHandshakeFailed)
}
