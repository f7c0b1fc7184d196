// Package transport defines the transmitter boundary between the framing
// core and the concrete delivery mechanisms, plus the gate that keeps a
// single transmission in flight.
package transport

import (
	"context"

	"github.com/embedded-linux/monitoring-bridge/internal/bitbang"
	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/i2cbus"
	"github.com/embedded-linux/monitoring-bridge/internal/uart"
)

// Transmitter moves one frame to the peripheral and blocks until delivery
// completes (or fails). It returns the number of frame bytes put on the wire:
// fully clocked bytes for the bit-bang link, bytes written for block paths.
type Transmitter interface {
	Send(ctx context.Context, f frame.Frame) (int, error)
}

// Compile-time assertions that every backend satisfies Transmitter, so any of
// them can be substituted without touching the framing core.
var (
	_ Transmitter = (*bitbang.Transmitter)(nil)
	_ Transmitter = (*i2cbus.Device)(nil)
	_ Transmitter = (*uart.Device)(nil)
)
