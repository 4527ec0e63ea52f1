// Package hub implements the control-plane server: a framed JSON
// request/response protocol over TCP, with room membership events
// pushed to peers over the same connection.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"gamehub/internal/catalog"
	"gamehub/internal/config"
	"gamehub/internal/metrics"
	"gamehub/internal/protocol"
	"gamehub/internal/room"
)

// Server accepts control connections and feeds decoded requests to the
// Handler.
type Server struct {
	cfg      config.Server
	sessions *SessionManager
	rooms    *room.Registry
	handler  *Handler
	metrics  *metrics.Registry

	listener net.Listener
	mu       sync.Mutex
}

// ServerOption customizes a Server at construction time.
type ServerOption func(*serverOptions)

type serverOptions struct {
	launcher Launcher
}

// WithLauncher overrides the game-process launcher. Tests use this to
// avoid spawning real subprocesses.
func WithLauncher(l Launcher) ServerOption {
	return func(o *serverOptions) {
		o.launcher = l
	}
}

// NewServer creates a hub server over the given catalog store.
func NewServer(cfg config.Server, store catalog.Store, opts ...ServerOption) *Server {
	options := serverOptions{
		launcher: NewProcessLauncher(cfg.GameInterpreter),
	}
	for _, opt := range opts {
		opt(&options)
	}

	sessions := NewSessionManager()
	rooms := room.NewRegistry()
	reg := metrics.NewRegistry()

	return &Server{
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
		handler:  NewHandler(cfg, store, rooms, sessions, options.launcher, reg),
		metrics:  reg,
	}
}

// Metrics returns the server's metrics registry for exposition.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

// Addr returns the address the server is listening on.
// Returns nil if the server hasn't started yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on cfg.BindAddress:cfg.Port and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from the given listener.
// Used for testing with custom listeners.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("hub server started", "address", ln.Addr())

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}

		// Enable TCP keepalive (detect dead connections)
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				slog.Warn("set keepalive failed", "error", err)
			}
			if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
				slog.Warn("set keepalive period failed", "error", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	wg.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sess := NewSession(conn, s.cfg.SendQueueSize)
	s.sessions.Add(sess)
	s.metrics.ActiveConnections.Inc()
	slog.Info("new client connection", "client", sess.IP())

	go sess.writePump()

	defer func() {
		s.handler.Disconnect(sess)
		sess.Close()
		s.metrics.ActiveConnections.Dec()
		slog.Info("client disconnected", "client", sess.IP(), "user", sess.Username())
	}()

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("read failed", "client", sess.IP(), "error", err)
			}
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			// Malformed or unknown requests are dropped without a
			// reply; the connection stays open.
			slog.Warn("dropping bad request", "client", sess.IP(), "error", err)
			continue
		}

		s.handler.Handle(ctx, sess, req)
	}
}
