// Package i2cbus delivers frames to the monitoring peripheral as a single
// I2C block write, starting at offset 0 of the device's fixed address.
package i2cbus

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

// DefaultAddr is the peripheral's bus address.
const DefaultAddr uint16 = 0x10

var (
	// ErrNotReady is returned when Send is called before the bus is opened.
	ErrNotReady = errors.New("i2cbus: device not initialized")
	// ErrWriteFailed wraps bus-level I/O errors. The frame is not retried;
	// the caller must resubmit.
	ErrWriteFailed = errors.New("i2cbus: block write failed")
)

// Device is an opened connection to the peripheral.
type Device struct {
	bus  i2c.Bus
	addr uint16
	// close releases the underlying bus handle; nil for injected buses.
	close func() error
}

// Open initializes the host drivers, opens the named I2C bus ("" selects the
// first available one) and binds the peripheral address. A failure here is a
// setup error: the bridge cannot come online without the bus.
func Open(busName string, addr uint16) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2cbus: host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2cbus: open %q: %w", busName, err)
	}
	return &Device{bus: bus, addr: addr, close: bus.Close}, nil
}

// NewDevice binds an already-open bus (tests inject fakes here).
func NewDevice(bus i2c.Bus, addr uint16) *Device {
	return &Device{bus: bus, addr: addr}
}

// Send issues one block write of the whole frame. The byte layout on the bus
// is identical to the bit-bang wire: payload then 4 trailer bytes, no
// register-prefix byte, so the device sees exactly TotalLen bytes from
// offset 0. Returns the number of bytes written.
func (d *Device) Send(ctx context.Context, f frame.Frame) (int, error) {
	if d == nil || d.bus == nil {
		return 0, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.bus.Tx(d.addr, f.Bytes(), nil); err != nil {
		metrics.IncError(metrics.ErrI2CWrite)
		return 0, fmt.Errorf("%w: addr 0x%02X: %v", ErrWriteFailed, d.addr, err)
	}
	metrics.IncFrameTx(metrics.TransportI2C, f.TotalLen())
	return f.TotalLen(), nil
}

// Addr returns the bound device address.
func (d *Device) Addr() uint16 { return d.addr }

// Close releases the bus handle. Safe on a nil or injected device.
func (d *Device) Close() error {
	if d == nil || d.close == nil {
		return nil
	}
	return d.close()
}
