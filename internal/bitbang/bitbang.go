// Package bitbang drives the two-line synchronous serial link to the
// monitoring peripheral: one DATA line and one CLOCK line, toggled in
// software with fixed per-bit timing.
package bitbang

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

// Line is the output side of a GPIO line. gpio.PinIO satisfies it; tests
// substitute recorders.
type Line interface {
	Out(l gpio.Level) error
}

// Timing holds the three per-bit intervals. The receiver samples DATA on the
// rising CLOCK edge, so Settle must cover the data line's settling time.
type Timing struct {
	Settle   time.Duration // DATA stable before CLOCK rises
	Pulse    time.Duration // CLOCK held high
	Recovery time.Duration // CLOCK held low before the next bit
}

// DefaultTiming is the peripheral's reference timing.
func DefaultTiming() Timing {
	return Timing{
		Settle:   100 * time.Microsecond,
		Pulse:    200 * time.Microsecond,
		Recovery: 100 * time.Microsecond,
	}
}

// PerByte is the wall-clock cost of clocking out one byte.
func (t Timing) PerByte() time.Duration {
	return 8 * (t.Settle + t.Pulse + t.Recovery)
}

// Transmitter shifts frames out bit-by-bit, least-significant bit first
// within each byte, bytes in frame order. Send blocks for the full
// transmission; concurrent Sends are serialized internally so two frames can
// never interleave on the shared lines.
type Transmitter struct {
	mu     sync.Mutex
	data   Line
	clock  Line
	timing Timing
	sleep  func(time.Duration)
}

type Option func(*Transmitter)

// WithTiming overrides the reference timing.
func WithTiming(tm Timing) Option {
	return func(t *Transmitter) {
		if tm.Settle > 0 && tm.Pulse > 0 && tm.Recovery > 0 {
			t.timing = tm
		}
	}
}

// WithSleep replaces the delay function (tests compress timing with a stub).
func WithSleep(fn func(time.Duration)) Option {
	return func(t *Transmitter) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

// New creates a Transmitter over the given DATA and CLOCK lines. Both lines
// are expected to already be configured as outputs driven low.
func New(data, clock Line, opts ...Option) *Transmitter {
	t := &Transmitter{
		data:   data,
		clock:  clock,
		timing: DefaultTiming(),
		sleep:  time.Sleep,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Timing returns the transmitter's per-bit timing.
func (t *Transmitter) Timing() Timing { return t.timing }

// Send clocks the frame out and returns the number of bytes fully
// transmitted. It blocks for TotalLen * 8 * (settle+pulse+recovery); there is
// no completion notification beyond the return.
//
// Cancellation is checked only between bytes, never mid-pulse, so an abort
// can truncate a frame but cannot leave a pulse half-formed; on any exit both
// lines are restored to idle low. The peripheral's CRC check rejects the
// truncated frame.
func (t *Transmitter) Send(ctx context.Context, f frame.Frame) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wire := f.Bytes()
	for i, b := range wire {
		if err := ctx.Err(); err != nil {
			t.idle()
			return i, err
		}
		if err := t.sendByte(b); err != nil {
			t.idle()
			metrics.IncError(metrics.ErrGPIOWrite)
			return i, err
		}
		metrics.AddClockPulses(8)
	}
	if err := t.data.Out(gpio.Low); err != nil {
		return len(wire), fmt.Errorf("bitbang: idle data line: %w", err)
	}
	metrics.IncFrameTx(metrics.TransportGPIO, len(wire))
	return len(wire), nil
}

// sendByte emits exactly 8 clock pulses, bit j = (b>>j)&1 for j = 0..7.
func (t *Transmitter) sendByte(b byte) error {
	for j := 0; j < 8; j++ {
		if err := t.data.Out(gpio.Level(b>>j&1 == 1)); err != nil {
			return fmt.Errorf("bitbang: set data bit %d: %w", j, err)
		}
		t.sleep(t.timing.Settle)
		if err := t.clock.Out(gpio.High); err != nil {
			return fmt.Errorf("bitbang: raise clock: %w", err)
		}
		t.sleep(t.timing.Pulse)
		if err := t.clock.Out(gpio.Low); err != nil {
			return fmt.Errorf("bitbang: lower clock: %w", err)
		}
		t.sleep(t.timing.Recovery)
	}
	return nil
}

// idle forces both lines low. Used on abort paths; errors are ignored since
// there is nothing left to unwind.
func (t *Transmitter) idle() {
	_ = t.clock.Out(gpio.Low)
	_ = t.data.Out(gpio.Low)
}
