// Package client sends requests to a running termsfx daemon.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmylchreest/termsfx/internal/protocol"
)

// DefaultTimeout bounds dialing and reading the reply.
const DefaultTimeout = 2 * time.Second

// ErrDaemonUnavailable is returned when nothing is listening on the socket.
var ErrDaemonUnavailable = errors.New("daemon is not running")

// Client talks to the daemon over its unix socket. Each request uses a
// fresh connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// New creates a client for the socket at socketPath.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    DefaultTimeout,
	}
}

// SetTimeout overrides DefaultTimeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Play asks the daemon to play the sounds for command. There is no reply;
// a nil error only means the request was written.
func (c *Client) Play(ctx context.Context, command string) error {
	conn, err := c.send(ctx, protocol.Play(command))
	if err != nil {
		return err
	}
	return conn.Close()
}

// PrintConfig returns the daemon's live configuration as a JSON document.
func (c *Client) PrintConfig(ctx context.Context) ([]byte, error) {
	conn, err := c.send(ctx, protocol.PrintConfig())
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if uc, ok := conn.(*net.UnixConn); ok {
		// Signal the end of the request.
		_ = uc.CloseWrite()
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	reply, err := protocol.ReadReply(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	return reply, nil
}

func (c *Client) send(ctx context.Context, action protocol.Action) (net.Conn, error) {
	payload, err := protocol.Encode(action)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return conn, nil
}
