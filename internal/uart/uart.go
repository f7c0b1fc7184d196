// Package uart delivers frames to the monitoring peripheral in a single
// block write over a serial port, for installations where the device sits
// behind a USB-UART bridge instead of the native bus.
package uart

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarm/serial"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

// Port abstracts tarm/serial for testability. Only the write side is needed;
// the peripheral never talks back.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

var (
	// ErrNotReady is returned when Send is called before the port is opened.
	ErrNotReady = errors.New("uart: port not initialized")
	// ErrWriteFailed wraps tty-level I/O errors (including short writes).
	ErrWriteFailed = errors.New("uart: block write failed")
)

// Device is an opened serial connection to the peripheral.
type Device struct {
	port Port
	name string
}

// Open opens the tty at the given baud rate.
func Open(name string, baud int) (*Device, error) {
	p, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", name, err)
	}
	return &Device{port: p, name: name}, nil
}

// NewDevice binds an already-open port (tests inject fakes here).
func NewDevice(p Port) *Device { return &Device{port: p, name: "fake"} }

// Send writes the whole frame in one Write call and returns the bytes
// written. A short write is surfaced as ErrWriteFailed; nothing is retried.
func (d *Device) Send(ctx context.Context, f frame.Frame) (int, error) {
	if d == nil || d.port == nil {
		return 0, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := d.port.Write(f.Bytes())
	if err != nil {
		metrics.IncError(metrics.ErrUARTWrite)
		return n, fmt.Errorf("%w: %s: %v", ErrWriteFailed, d.name, err)
	}
	if n != f.TotalLen() {
		metrics.IncError(metrics.ErrUARTWrite)
		return n, fmt.Errorf("%w: short write %d of %d bytes", ErrWriteFailed, n, f.TotalLen())
	}
	metrics.IncFrameTx(metrics.TransportUART, n)
	return n, nil
}

// Close releases the port. Safe on a nil device.
func (d *Device) Close() error {
	if d == nil || d.port == nil {
		return nil
	}
	return d.port.Close()
}
