package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/logging"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
	"github.com/embedded-linux/monitoring-bridge/internal/tap"
)

// FIFO ingests payloads from a named pipe, the closest userspace analogue of
// the original /proc write file: each read chunk is one payload, so writers
// must submit a payload in a single write(2) no larger than the pipe buffer.
type FIFO struct {
	path   string
	pl     pipeline
	logger *slog.Logger

	totalTransmitted uint64
	totalErrors      uint64
}

type FIFOOption func(*FIFO)

func WithFIFOSend(fn SendFunc) FIFOOption { return func(f *FIFO) { f.pl.send = fn } }
func WithFIFOTap(t *tap.Tap) FIFOOption   { return func(f *FIFO) { f.pl.tp = t } }
func WithFIFOTransportName(n string) FIFOOption {
	return func(f *FIFO) { f.pl.transport = n }
}

func WithFIFOLogger(l *slog.Logger) FIFOOption {
	return func(f *FIFO) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFIFO prepares a FIFO endpoint at path. The pipe is created lazily by
// Serve.
func NewFIFO(path string, opts ...FIFOOption) *FIFO {
	f := &FIFO{path: path, logger: logging.L()}
	for _, o := range opts {
		o(f)
	}
	return f
}

const (
	fifoBackoffMin = 20 * time.Millisecond
	fifoBackoffMax = 500 * time.Millisecond
)

// Serve creates the pipe if needed and consumes payloads until ctx is
// cancelled. Creation failure is a setup error and returned immediately.
func (f *FIFO) Serve(ctx context.Context) error {
	if err := unix.Mkfifo(f.path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("fifo mkfifo %s: %w", f.path, err)
	}
	// O_RDWR keeps a writer reference on the pipe so reads block between
	// submitters instead of spinning on EOF after each one departs.
	pipe, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("fifo open %s: %w", f.path, err)
	}
	f.logger.Info("fifo_listen", "path", f.path)
	go func() { <-ctx.Done(); _ = pipe.Close() }()
	defer func() {
		f.logger.Info("fifo_shutdown_summary",
			"transmitted", f.totalTransmitted,
			"errors", f.totalErrors)
	}()

	// One extra byte so an oversized single write is detected rather than
	// split into a truncated frame plus garbage.
	buf := make([]byte, frame.MaxPayload+1)
	backoff := fifoBackoffMin
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			f.handleChunk(ctx, buf[:n])
			backoff = fifoBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				continue
			}
			metrics.IncError(metrics.ErrFIFORead)
			f.logger.Warn("fifo_read_error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > fifoBackoffMax {
				backoff = fifoBackoffMax
			}
		}
	}
}

func (f *FIFO) handleChunk(ctx context.Context, chunk []byte) {
	if len(chunk) > frame.MaxPayload {
		metrics.IncOversize()
		f.totalErrors++
		f.logger.Warn("fifo_payload_oversized", "len", len(chunk), "max", frame.MaxPayload)
		return
	}
	payload := make([]byte, len(chunk))
	copy(payload, chunk) // chunk aliases the read buffer
	n, err := f.pl.submit(ctx, payload)
	if err != nil {
		f.totalErrors++
		f.logger.Warn("fifo_transmit_error", "error", err, "len", len(payload))
		return
	}
	f.totalTransmitted++
	metrics.IncFIFOPayload()
	f.logger.Debug("fifo_payload_transmitted", "len", n)
}
