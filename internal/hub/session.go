package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gamehub/internal/protocol"
)

// SessionState is the per-connection lifecycle state.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateLoggedIn
	StateInRoom
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateLoggedIn:
		return "LOGGED_IN"
	case StateInRoom:
		return "IN_ROOM"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultSendQueueSize = 64
	writeTimeout         = 5 * time.Second
)

// Session is the server-side state of one control connection. Never
// persisted; created on accept, destroyed on disconnect.
type Session struct {
	conn net.Conn
	ip   string

	state atomic.Int32

	// mu protects the identity fields, mutated only on
	// login/logout/room transitions.
	mu       sync.Mutex
	username string
	role     string
	roomID   int

	// Per-session outbound queue. Broadcast enqueues are serialized by
	// the handler; delivery runs in writePump so one slow peer cannot
	// stall the rest of a room.
	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewSession creates the session state for a freshly accepted
// connection.
func NewSession(conn net.Conn, sendQueueSize int) *Session {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}

	s := &Session{
		conn:    conn,
		ip:      host,
		roomID:  -1,
		sendCh:  make(chan []byte, sendQueueSize),
		closeCh: make(chan struct{}),
	}
	s.state.Store(int32(StateConnected))
	return s
}

// IP returns the client's remote IP address.
func (s *Session) IP() string {
	return s.ip
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// SetState sets the session state.
func (s *Session) SetState(st SessionState) {
	s.state.Store(int32(st))
}

// Username returns the logged-in username, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Role returns the logged-in user's role.
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// RoomID returns the joined room id, or -1.
func (s *Session) RoomID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// SetIdentity records username and role after a successful login.
func (s *Session) SetIdentity(username, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.role = role
}

// ClearIdentity resets the session to its pre-login form.
func (s *Session) ClearIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = ""
	s.role = ""
	s.roomID = -1
}

// SetRoom records the joined room id (-1 for none).
func (s *Session) SetRoom(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = id
}

// Send marshals msg and queues the frame for async delivery.
// Non-blocking: a full queue means a peer that stopped reading, and
// the session is closed rather than letting it stall broadcasts.
func (s *Session) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	select {
	case s.sendCh <- payload:
		return nil
	case <-s.closeCh:
		return fmt.Errorf("session closed")
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", s.ip)
		s.CloseAsync()
		return fmt.Errorf("send queue full")
	}
}

// writePump is the dedicated writer goroutine for this session. It
// frames and writes queued payloads in order until the session closes.
// Any exit closes the session so the reader goroutine unblocks.
func (s *Session) writePump() {
	defer s.CloseAsync()
	for {
		select {
		case payload := <-s.sendCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				slog.Warn("set write deadline failed", "client", s.ip, "error", err)
				return
			}
			if err := protocol.WriteFrame(s.conn, payload); err != nil {
				// Peer loss: the reader will observe the failure and
				// run disconnect cleanup.
				slog.Warn("write failed", "client", s.ip, "error", err)
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// CloseAsync stops the writePump and closes the connection without
// blocking. Closing the socket is what unblocks the reader goroutine,
// whose read failure runs disconnect cleanup; dropping a slow client
// without it would leave the session and its username registered
// forever. Safe to call multiple times.
func (s *Session) CloseAsync() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		_ = s.conn.Close()
	})
}

// Close stops the writePump and closes the connection.
func (s *Session) Close() error {
	s.CloseAsync()
	return nil
}
