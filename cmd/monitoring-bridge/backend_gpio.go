package main

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/embedded-linux/monitoring-bridge/internal/bitbang"
	"github.com/embedded-linux/monitoring-bridge/internal/transport"
)

// hostInit and openLine are hooks for tests (overridden in unit tests).
var hostInit = func() error {
	_, err := host.Init()
	return err
}

var openLine = func(name string) (bitbang.Line, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO line %q", name)
	}
	// Output, driven to idle level, before any frame goes out.
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("drive %q low: %w", name, err)
	}
	return p, nil
}

// initGPIOBackend acquires the DATA and CLOCK lines and builds the bit-bang
// transmitter.
func initGPIOBackend(cfg *appConfig, l *slog.Logger) (transport.Transmitter, func(), error) {
	if err := hostInit(); err != nil {
		return nil, func() {}, fmt.Errorf("host init: %w", err)
	}
	data, err := openLine(cfg.dataPin)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open data line: %w", err)
	}
	clock, err := openLine(cfg.clockPin)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open clock line: %w", err)
	}
	tx := bitbang.New(data, clock, bitbang.WithTiming(bitbang.Timing{
		Settle:   cfg.settle,
		Pulse:    cfg.pulse,
		Recovery: cfg.recovery,
	}))
	l.Info("gpio_open", "data", cfg.dataPin, "clock", cfg.clockPin, "per_byte", tx.Timing().PerByte())
	cleanup := func() {
		_ = clock.Out(gpio.Low)
		_ = data.Out(gpio.Low)
	}
	return tx, cleanup, nil
}
