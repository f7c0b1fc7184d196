package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

// ErrBusy is returned by SendNoWait when a transmission is already in flight.
var ErrBusy = errors.New("transport: transmission in flight")

// Gate serializes transmissions over a shared transport: exactly one frame is
// in flight at a time, and two submissions can never interleave on the lines.
//
// Policy: Send blocks until the in-flight transmission completes. A bit-bang
// frame already costs milliseconds of wall clock, so callers are built for
// blocking writes; pushing a busy error at them would just move retry policy
// into every client. SendNoWait is the rejecting alternative for callers that
// prefer failing fast.
type Gate struct {
	mu sync.Mutex
	tx Transmitter
}

// NewGate wraps tx in a transmission gate.
func NewGate(tx Transmitter) *Gate { return &Gate{tx: tx} }

// Send waits for any in-flight transmission, then delivers f.
func (g *Gate) Send(ctx context.Context, f frame.Frame) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tx.Send(ctx, f)
}

// SendNoWait delivers f if the gate is free, otherwise returns ErrBusy
// without touching the transport.
func (g *Gate) SendNoWait(ctx context.Context, f frame.Frame) (int, error) {
	if !g.mu.TryLock() {
		metrics.IncBusy()
		return 0, ErrBusy
	}
	defer g.mu.Unlock()
	return g.tx.Send(ctx, f)
}

var _ Transmitter = (*Gate)(nil)
