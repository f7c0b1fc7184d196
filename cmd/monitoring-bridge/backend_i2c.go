package main

import (
	"fmt"
	"log/slog"

	"github.com/embedded-linux/monitoring-bridge/internal/i2cbus"
	"github.com/embedded-linux/monitoring-bridge/internal/transport"
)

// openI2C is a hook for tests (overridden in unit tests).
var openI2C = i2cbus.Open

// initI2CBackend opens the bus and binds the peripheral address.
func initI2CBackend(cfg *appConfig, l *slog.Logger) (transport.Transmitter, func(), error) {
	dev, err := openI2C(cfg.i2cBus, uint16(cfg.i2cAddr))
	if err != nil {
		return nil, func() {}, fmt.Errorf("open i2c: %w", err)
	}
	l.Info("i2c_open", "bus", cfg.i2cBus, "addr", fmt.Sprintf("0x%02X", cfg.i2cAddr))
	return dev, func() { _ = dev.Close() }, nil
}
