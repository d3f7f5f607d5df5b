// Package client implements the remofile client primitive library: one
// blocking operation per protocol request type, each issuing exactly
// one request and waiting for exactly one response.
//
// Wire refusals and errors surface as the typed error domain in
// errors.go. Timeouts are special: the server's resulting state is
// unknown, so ErrTimeout means the connection is poisoned and must be
// replaced, not retried.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intjelic/remofile/protocol"
	"github.com/intjelic/remofile/transport"
)

// Client drives one remofile connection. It is not safe for concurrent
// use: the transport allows a single message in flight.
type Client struct {
	conn transport.Conn
	log  *logrus.Entry
}

// New wraps an established transport connection.
func New(conn transport.Conn) *Client {
	return &Client{
		conn: conn,
		log:  logrus.WithField("component", "client"),
	}
}

// Dial connects to a server over plaintext TCP.
func Dial(addr string) (*Client, error) {
	conn, err := transport.Dial(addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// DialEncrypted connects over the Noise-encrypted transport.
// serverPublic is the server's static public key and token the shared
// access credential.
func DialEncrypted(addr string, serverPublic []byte, token string) (*Client, error) {
	conn, err := transport.DialNoise(addr, serverPublic, token)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip performs one request/response exchange bounded by timeout.
func (c *Client) roundTrip(req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	respData, err := c.conn.Send(data, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}

	resp, err := protocol.DecodeResponse(respData)
	if err != nil {
		return nil, &CorruptedResponseError{Detail: "undecodable envelope", Err: err}
	}
	return resp, nil
}

// ListFiles lists the remote directory with metadata. directory must
// be absolute with respect to the served root.
func (c *Client) ListFiles(directory string, timeout time.Duration) (protocol.DirectoryListing, error) {
	req, err := protocol.NewRequest(protocol.RequestListFiles, &protocol.ListFilesPayload{
		Directory: directory,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(req, timeout)
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	if resp.Reason != protocol.ReasonFileListed {
		return nil, &CorruptedResponseError{Detail: "unexpected reason for LIST_FILES: " + resp.Reason.String()}
	}

	var listing protocol.DirectoryListing
	if err := resp.DecodePayload(&listing); err != nil {
		return nil, &CorruptedResponseError{Detail: "unreadable listing payload", Err: err}
	}
	return listing, nil
}

// CreateFile creates an empty file named name in the remote directory.
func (c *Client) CreateFile(name, directory string, timeout time.Duration) error {
	req, err := protocol.NewRequest(protocol.RequestCreateFile, &protocol.CreateFilePayload{
		Name:      name,
		Directory: directory,
	})
	if err != nil {
		return err
	}
	return c.expect(req, timeout, protocol.ReasonFileCreated)
}

// MakeDirectory creates an empty directory named name in the remote
// directory.
func (c *Client) MakeDirectory(name, directory string, timeout time.Duration) error {
	req, err := protocol.NewRequest(protocol.RequestMakeDirectory, &protocol.MakeDirectoryPayload{
		Name:      name,
		Directory: directory,
	})
	if err != nil {
		return err
	}
	return c.expect(req, timeout, protocol.ReasonDirectoryCreated)
}

// RemoveFile removes the remote file at path, or the remote directory
// recursively.
func (c *Client) RemoveFile(path string, timeout time.Duration) error {
	req, err := protocol.NewRequest(protocol.RequestRemoveFile, &protocol.RemoveFilePayload{
		Path: path,
	})
	if err != nil {
		return err
	}
	return c.expect(req, timeout, protocol.ReasonTransferCompleted)
}

// expect performs a round trip and verifies the accepted reason.
func (c *Client) expect(req *protocol.Request, timeout time.Duration, reason protocol.Reason) error {
	resp, err := c.roundTrip(req, timeout)
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return err
	}
	if resp.Reason != reason {
		return &CorruptedResponseError{
			Detail: fmt.Sprintf("unexpected reason for %s: %s", req.Type, resp.Reason),
		}
	}
	return nil
}
