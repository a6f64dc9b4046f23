package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/termsfx/internal/protocol"
)

const (
	// replyWriteTimeout bounds how long a reply may take to reach a client.
	replyWriteTimeout = 2 * time.Second

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ErrSocketInUse is returned by Listen when another daemon answers on the socket.
var ErrSocketInUse = errors.New("socket already in use by a running daemon")

// Server accepts client connections on a unix socket and hands each decoded
// request to the dispatcher. Every connection is served on its own goroutine.
type Server struct {
	mu     sync.Mutex
	logger *slog.Logger

	path       string
	dispatcher *Dispatcher
	listener   net.Listener

	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	closed bool
}

// NewServer creates a server for the socket at path.
func NewServer(path string, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:     logger,
		path:       path,
		dispatcher: dispatcher,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen binds the socket. A socket file left behind by a previous instance
// is removed first; one that still accepts connections is left alone.
func (s *Server) Listen() error {
	if conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, s.path)
	}

	if err := removeStaleSocket(s.path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("listening", "socket", s.path)
	return nil
}

// removeStaleSocket deletes path if it is a socket. Anything else at path is
// left untouched and reported.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect socket path: %w", err)
	}
	if info.Mode().Type() != os.ModeSocket {
		return fmt.Errorf("refusing to replace %s: not a socket (%s)", path, info.Mode().Type())
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
// Accept errors are logged and retried with backoff.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting, closes open connections, waits for handlers to
// return and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	ln := s.listener
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()

	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		s.logger.Warn("failed to remove socket", "socket", s.path, "error", rmErr)
	}

	s.logger.Debug("server closed", "socket", s.path)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConn serves a single request. Requests are small, so one read is
// enough; anything that does not decode is logged and dropped.
func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	logger := s.logger.With("request_id", ulid.Make().String())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling request", "panic", r)
		}
	}()

	buf := make([]byte, protocol.MaxRequestSize)
	n, err := conn.Read(buf)
	if n == 0 {
		logger.Debug("connection closed before request", "error", err)
		return
	}

	action, err := protocol.Decode(buf[:n])
	if err != nil {
		logger.Warn("failed to decode request", "bytes", n, "error", err)
		return
	}
	logger.Debug("received request", "action", action.String())

	reply, err := s.dispatcher.Dispatch(action, logger)
	if err != nil {
		logger.Warn("failed to dispatch request", "action", action.String(), "error", err)
		return
	}
	if reply == nil {
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(replyWriteTimeout))
	if err := protocol.WriteReply(conn, reply); err != nil {
		logger.Warn("failed to write reply", "error", err)
	}
}
