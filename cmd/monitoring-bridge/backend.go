package main

import (
	"fmt"
	"log/slog"

	"github.com/embedded-linux/monitoring-bridge/internal/transport"
)

// initBackend opens the configured transport and returns the transmitter and
// a cleanup that restores/releases the hardware. It returns an error instead
// of exiting the process to allow graceful handling by the caller; a failure
// here is fatal to bringing the bridge online.
func initBackend(cfg *appConfig, l *slog.Logger) (transport.Transmitter, func(), error) {
	switch cfg.transport {
	case "gpio":
		return initGPIOBackend(cfg, l)
	case "i2c":
		return initI2CBackend(cfg, l)
	case "uart":
		return initUARTBackend(cfg, l)
	default:
		return nil, func() {}, fmt.Errorf("unknown transport %q (use gpio|i2c|uart)", cfg.transport)
	}
}
