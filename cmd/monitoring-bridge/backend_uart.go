package main

import (
	"fmt"
	"log/slog"

	"github.com/embedded-linux/monitoring-bridge/internal/transport"
	"github.com/embedded-linux/monitoring-bridge/internal/uart"
)

// openUART is a hook for tests (overridden in unit tests).
var openUART = uart.Open

// initUARTBackend opens the tty for installations where the peripheral sits
// behind a USB-UART bridge.
func initUARTBackend(cfg *appConfig, l *slog.Logger) (transport.Transmitter, func(), error) {
	dev, err := openUART(cfg.uartDev, cfg.baud)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open uart: %w", err)
	}
	l.Info("uart_open", "device", cfg.uartDev, "baud", cfg.baud)
	return dev, func() { _ = dev.Close() }, nil
}
