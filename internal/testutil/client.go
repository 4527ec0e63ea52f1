// Package testutil provides helpers for integration tests against a
// running hub server.
package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"gamehub/internal/protocol"
)

// Client is a control-protocol test client. It manages the connection
// and the framing so tests read like scripted client sessions.
type Client struct {
	t       testing.TB
	conn    net.Conn
	timeout time.Duration
}

// NewClient dials the hub server at addr. The connection is closed via
// t.Cleanup.
func NewClient(t testing.TB, addr string) (*Client, error) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial hub server: %w", err)
	}

	c := &Client{
		t:       t,
		conn:    conn,
		timeout: 5 * time.Second,
	}
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c, nil
}

// Send marshals v and writes it as one frame. Typed requests go through
// protocol.EncodeRequest so the action tag reaches the wire.
func (c *Client) Send(v any) error {
	c.t.Helper()

	var payload []byte
	var err error
	if req, ok := v.(protocol.Request); ok {
		payload, err = protocol.EncodeRequest(req)
	} else {
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// SendRaw writes one frame with the payload as-is. Used for malformed
// payload tests.
func (c *Client) SendRaw(payload []byte) error {
	c.t.Helper()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return protocol.WriteFrame(c.conn, payload)
}

// ReadFrame reads one raw frame payload.
func (c *Client) ReadFrame() ([]byte, error) {
	c.t.Helper()

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return payload, nil
}

// ReadReply reads one frame and decodes it as a direct reply.
func (c *Client) ReadReply() (protocol.Reply, error) {
	c.t.Helper()

	payload, err := c.ReadFrame()
	if err != nil {
		return protocol.Reply{}, err
	}
	var rep protocol.Reply
	if err := json.Unmarshal(payload, &rep); err != nil {
		return protocol.Reply{}, fmt.Errorf("unmarshal reply: %w", err)
	}
	return rep, nil
}

// ReadNotification reads one frame and decodes it as a pushed room
// event.
func (c *Client) ReadNotification() (protocol.Notification, error) {
	c.t.Helper()

	payload, err := c.ReadFrame()
	if err != nil {
		return protocol.Notification{}, err
	}
	var note protocol.Notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return protocol.Notification{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	return note, nil
}

// Do sends a request and reads the direct reply.
func (c *Client) Do(req any) (protocol.Reply, error) {
	c.t.Helper()

	if err := c.Send(req); err != nil {
		return protocol.Reply{}, err
	}
	return c.ReadReply()
}

// Register registers a user and fails the test on a non-ok reply.
func (c *Client) Register(username, password, role string) {
	c.t.Helper()

	rep, err := c.Do(protocol.RegisterRequest{Username: username, Password: password, Role: role})
	if err != nil {
		c.t.Fatalf("register %s: %v", username, err)
	}
	if rep.Status != protocol.StatusOK {
		c.t.Fatalf("register %s: %s", username, rep.Message)
	}
}

// Login logs a user in and fails the test on a non-ok reply.
func (c *Client) Login(username, password string) {
	c.t.Helper()

	rep, err := c.Do(protocol.LoginRequest{Username: username, Password: password})
	if err != nil {
		c.t.Fatalf("login %s: %v", username, err)
	}
	if rep.Status != protocol.StatusOK {
		c.t.Fatalf("login %s: %s", username, rep.Message)
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
