// Package ingest exposes the endpoints that accept raw monitoring payloads
// from collectors: a TCP listener (one payload per connection) and a named
// FIFO, the userspace stand-in for the old procfs write file. Each accepted
// payload is framed and handed to the transmission gate; the submitter gets
// back the number of payload bytes consumed, trailer excluded.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/i2cbus"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
	"github.com/embedded-linux/monitoring-bridge/internal/tap"
	"github.com/embedded-linux/monitoring-bridge/internal/transport"
	"github.com/embedded-linux/monitoring-bridge/internal/uart"
)

// SendFunc delivers one frame through the transmission gate. Wired to
// (*transport.Gate).Send or SendNoWait depending on the busy policy.
type SendFunc func(ctx context.Context, f frame.Frame) (int, error)

// ErrPayloadRead is returned when the payload bytes could not be obtained
// from the submitter. No transmission is attempted.
var ErrPayloadRead = errors.New("ingest: payload read failed")

// pipeline is the shared frame-and-transmit path behind every endpoint.
type pipeline struct {
	send      SendFunc
	tp        *tap.Tap
	transport string
}

// submit frames payload, transmits it and returns the payload length
// consumed. Oversized payloads are rejected before any transmission begins.
func (p *pipeline) submit(ctx context.Context, payload []byte) (int, error) {
	f, err := frame.Build(payload)
	if err != nil {
		metrics.IncOversize()
		return 0, err
	}
	start := time.Now()
	if _, err := p.send(ctx, f); err != nil {
		return 0, err
	}
	if p.tp != nil {
		p.tp.Publish(tap.Record{
			Transport:  p.transport,
			PayloadLen: f.PayloadLen(),
			TotalLen:   f.TotalLen(),
			CRC:        f.CRC(),
			Duration:   time.Since(start),
			SentAt:     start,
		})
	}
	return f.PayloadLen(), nil
}

// errCode maps an error to the POSIX-style code reported to submitters.
func errCode(err error) string {
	switch {
	case errors.Is(err, frame.ErrOversizedPayload):
		return "EINVAL"
	case errors.Is(err, ErrPayloadRead):
		return "EFAULT"
	case errors.Is(err, transport.ErrBusy):
		return "EBUSY"
	case errors.Is(err, i2cbus.ErrNotReady), errors.Is(err, uart.ErrNotReady):
		return "ENODEV"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "EINTR"
	default:
		return "EIO"
	}
}
