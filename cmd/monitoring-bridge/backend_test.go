package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/embedded-linux/monitoring-bridge/internal/bitbang"
	"github.com/embedded-linux/monitoring-bridge/internal/frame"
	"github.com/embedded-linux/monitoring-bridge/internal/i2cbus"
	"github.com/embedded-linux/monitoring-bridge/internal/uart"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustFrame(t *testing.T, payload []byte) frame.Frame {
	t.Helper()
	f, err := frame.Build(payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	return f
}

type fakeGPIOLine struct {
	mu     sync.Mutex
	levels []gpio.Level
}

func (f *fakeGPIOLine) Out(l gpio.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, l)
	return nil
}

func (f *fakeGPIOLine) last() gpio.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.levels) == 0 {
		return gpio.Low
	}
	return f.levels[len(f.levels)-1]
}

func TestInitBackendGPIO(t *testing.T) {
	oldHost, oldLine := hostInit, openLine
	defer func() { hostInit, openLine = oldHost, oldLine }()
	hostInit = func() error { return nil }
	lines := map[string]*fakeGPIOLine{}
	openLine = func(name string) (bitbang.Line, error) {
		l := &fakeGPIOLine{}
		lines[name] = l
		return l, nil
	}

	cfg := validConfig()
	tx, cleanup, err := initBackend(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initBackend: %v", err)
	}
	if _, ok := tx.(*bitbang.Transmitter); !ok {
		t.Fatalf("transmitter type = %T, want *bitbang.Transmitter", tx)
	}
	if lines[cfg.dataPin] == nil || lines[cfg.clockPin] == nil {
		t.Fatal("data/clock lines not opened")
	}
	lines[cfg.dataPin].Out(gpio.High)
	cleanup()
	if lines[cfg.dataPin].last() != gpio.Low || lines[cfg.clockPin].last() != gpio.Low {
		t.Fatal("cleanup must leave both lines low")
	}
}

func TestInitBackendGPIOErrors(t *testing.T) {
	oldHost, oldLine := hostInit, openLine
	defer func() { hostInit, openLine = oldHost, oldLine }()

	hostInit = func() error { return errors.New("no sysfs") }
	if _, _, err := initBackend(validConfig(), discardLogger()); err == nil {
		t.Fatal("expected host init error")
	}

	hostInit = func() error { return nil }
	openLine = func(name string) (bitbang.Line, error) { return nil, errors.New("line busy") }
	if _, _, err := initBackend(validConfig(), discardLogger()); err == nil {
		t.Fatal("expected open line error")
	}
}

type fakeI2CBus struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (b *fakeI2CBus) String() string { return "fake0" }

func (b *fakeI2CBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, append([]byte(nil), w...))
	return nil
}

func (b *fakeI2CBus) SetSpeed(f physic.Frequency) error { return nil }

var _ i2c.Bus = (*fakeI2CBus)(nil)

func TestInitBackendI2C(t *testing.T) {
	old := openI2C
	defer func() { openI2C = old }()
	bus := &fakeI2CBus{}
	openI2C = func(name string, addr uint16) (*i2cbus.Device, error) {
		return i2cbus.NewDevice(bus, addr), nil
	}

	cfg := validConfig()
	cfg.transport = "i2c"
	cfg.i2cAddr = 0x10
	tx, cleanup, err := initBackend(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initBackend: %v", err)
	}
	defer cleanup()
	dev, ok := tx.(*i2cbus.Device)
	if !ok {
		t.Fatalf("transmitter type = %T, want *i2cbus.Device", tx)
	}
	if dev.Addr() != 0x10 {
		t.Fatalf("addr = 0x%02X, want 0x10", dev.Addr())
	}
}

type fakeUARTPort struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (p *fakeUARTPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, b...)
	return len(b), nil
}

func (p *fakeUARTPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestInitBackendUART(t *testing.T) {
	old := openUART
	defer func() { openUART = old }()
	port := &fakeUARTPort{}
	openUART = func(name string, baud int) (*uart.Device, error) {
		return uart.NewDevice(port), nil
	}

	cfg := validConfig()
	cfg.transport = "uart"
	tx, cleanup, err := initBackend(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initBackend: %v", err)
	}
	if _, err := tx.Send(context.Background(), mustFrame(t, []byte{1, 2, 3})); err != nil {
		t.Fatalf("send: %v", err)
	}
	port.mu.Lock()
	written := len(port.data)
	port.mu.Unlock()
	if written != 7 {
		t.Fatalf("wrote %d bytes, want 7", written)
	}
	cleanup()
	port.mu.Lock()
	defer port.mu.Unlock()
	if !port.closed {
		t.Fatal("cleanup must close the port")
	}
}

func TestInitBackendUnknownTransport(t *testing.T) {
	cfg := validConfig()
	cfg.transport = "spi"
	if _, _, err := initBackend(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}
