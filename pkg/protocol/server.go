package protocol

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/redcon"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Config configures the network listener
type Config struct {
	Addr string
	// IdleTimeout closes connections that send nothing for this long; zero
	// disables it.
	IdleTimeout time.Duration
	// MaxConnections bounds concurrent handlers; zero means unlimited.
	MaxConnections int
	// RequirePassHash is a bcrypt hash clients must AUTH against.
	RequirePassHash string
	// TLSConfig, when set, makes ListenAndServe accept TLS only.
	TLSConfig *tls.Config
}

// Server accepts client connections and serves each on its own goroutine
// against a shared engine.
type Server struct {
	config  Config
	handler *Handler
	logger  logging.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server for engine
func NewServer(engine Engine, config Config, logger logging.Logger, reg *metrics.Registry) *Server {
	logger = logging.OrNop(logger).With(logging.Component("protocol"))
	return &Server{
		config:  config,
		handler: NewHandler(engine, config.RequirePassHash, logger, reg),
		logger:  logger,
		metrics: reg,
		conns:   make(map[net.Conn]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// ListenAndServe listens on the configured address and serves until Close
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It always returns a non-nil
// error, ErrServerClosed after a clean stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	default:
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("protocol server listening", logging.String("addr", ln.Addr().String()))

	var sem chan struct{}
	if s.config.MaxConnections > 0 {
		sem = make(chan struct{}, s.config.MaxConnections)
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return ErrServerClosed
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept error, retrying",
					logging.Error(err),
					logging.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0

		if sem != nil {
			select {
			case sem <- struct{}{}:
			default:
				s.logger.Warn("connection rejected: at capacity",
					logging.Int("max_connections", s.config.MaxConnections))
				w := redcon.NewWriter(conn)
				w.WriteError("ERR max number of clients reached")
				_ = w.Flush()
				conn.Close()
				continue
			}
		}

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			s.serveConn(conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// serveConn runs the read-dispatch-write loop for one client
func (s *Server) serveConn(conn net.Conn) {
	sess := &Session{ID: uuid.NewString()}
	logger := s.logger.With(logging.ConnID(sess.ID))

	s.metrics.ConnectionOpened()
	logger.Debug("client connected", logging.String("remote", conn.RemoteAddr().String()))
	defer func() {
		s.untrack(conn)
		conn.Close()
		s.metrics.ConnectionClosed()
		logger.Debug("client disconnected")
	}()

	rd := redcon.NewReader(conn)
	wr := redcon.NewWriter(conn)

	for {
		if s.config.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
				return
			}
		}

		cmd, err := rd.ReadCommand()
		if err != nil {
			if isDisconnect(err) {
				return
			}
			// Framing is lost; report once and drop the connection.
			logger.Debug("malformed request", logging.Error(err))
			wr.WriteError("ERR " + singleLine(err.Error()))
			_ = wr.Flush()
			return
		}

		reply := s.handler.Dispatch(sess, cmd.Args)
		writeReply(wr, reply)
		if err := wr.Flush(); err != nil {
			logger.Debug("write failed", logging.Error(err))
			return
		}
		if reply.Close {
			return
		}
	}
}

func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func writeReply(w *redcon.Writer, r Reply) {
	switch r.Kind {
	case ReplyStatus:
		w.WriteString(r.Text)
	case ReplyBulk:
		w.WriteBulk(r.Bulk)
	case ReplyError:
		w.WriteError(r.Text)
	}
}

// Addr returns the listener address once Serve has started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes client connections and waits for their
// handlers until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("protocol server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}
