package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/logging"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
	"github.com/embedded-linux/monitoring-bridge/internal/tap"
)

// Server owns the TCP ingest listener. Protocol: the client writes one
// payload of up to frame.MaxPayload bytes and half-closes; the server frames
// and transmits it, then replies with a single status line:
//
//	OK <payload-bytes>\n
//	ERR <code> <message>\n
//
// and closes the connection. One payload per connection matches the
// one-write-one-frame semantics of the original endpoint.
type Server struct {
	mu   sync.RWMutex
	addr string
	pl   pipeline

	readDeadline time.Duration
	maxClients   int
	readyOnce    sync.Once
	readyCh      chan struct{}
	lastErrMu    sync.Mutex
	lastErr      error
	errCh        chan error
	listener     net.Listener
	wg           sync.WaitGroup
	logger       *slog.Logger
	nextConnID   uint64

	active           atomic.Int64
	totalAccepted    atomic.Uint64
	totalRejected    atomic.Uint64
	totalTransmitted atomic.Uint64
	totalErrors      atomic.Uint64
}

const defaultReadDeadline = 10 * time.Second

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readDeadline: defaultReadDeadline,
		readyCh:      make(chan struct{}),
		errCh:        make(chan error, 1),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithSend(fn SendFunc) ServerOption    { return func(s *Server) { s.pl.send = fn } }
func WithTap(t *tap.Tap) ServerOption      { return func(s *Server) { s.pl.tp = t } }
func WithTransportName(n string) ServerOption {
	return func(s *Server) { s.pl.transport = n }
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts submitters until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("ingest listen: %w", err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("ingest_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and spawns its handler.
// Returns nil on success; a wrapped error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("ingest accept: %w", err)
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if s.maxClients > 0 && s.active.Load() >= int64(s.maxClients) {
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		s.reply(conn, connLogger, "ERR EAGAIN too many clients")
		_ = conn.Close()
		return nil
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() { _ = conn.Close() }()
		s.handleConn(ctx, conn, connLogger)
	}()
	return nil
}

// handleConn reads one payload, pushes it through the pipeline and replies
// with the status line.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
	// One extra byte so an oversized payload is detected instead of
	// silently truncated at the limit.
	payload, err := io.ReadAll(io.LimitReader(conn, frame.MaxPayload+1))
	if err != nil {
		metrics.IncError(metrics.ErrIngestRead)
		s.totalErrors.Add(1)
		wrapped := fmt.Errorf("%w: %v", ErrPayloadRead, err)
		logger.Warn("payload_read_error", "error", err)
		s.reply(conn, logger, fmt.Sprintf("ERR %s %v", errCode(wrapped), err))
		return
	}
	if len(payload) > frame.MaxPayload {
		metrics.IncOversize()
		s.totalErrors.Add(1)
		logger.Warn("payload_oversized", "len", len(payload), "max", frame.MaxPayload)
		s.reply(conn, logger, fmt.Sprintf("ERR EINVAL payload exceeds %d bytes", frame.MaxPayload))
		return
	}
	n, err := s.pl.submit(ctx, payload)
	if err != nil {
		s.totalErrors.Add(1)
		logger.Warn("transmit_error", "error", err, "len", len(payload))
		s.reply(conn, logger, fmt.Sprintf("ERR %s %v", errCode(err), err))
		return
	}
	s.totalTransmitted.Add(1)
	metrics.IncIngestPayload()
	logger.Debug("payload_transmitted", "len", n)
	s.reply(conn, logger, fmt.Sprintf("OK %d", n))
}

func (s *Server) reply(conn net.Conn, logger *slog.Logger, line string) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		metrics.IncError(metrics.ErrIngestWrite)
		logger.Debug("reply_write_error", "error", err)
	}
}

// Shutdown closes the listener and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("ingest shutdown: %w", ctx.Err())
	case <-done:
		s.logger.Info("ingest_shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"transmitted", s.totalTransmitted.Load(),
			"errors", s.totalErrors.Load())
		return nil
	}
}
