package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
)

func TestFIFORoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path := filepath.Join(t.TempDir(), "monitoring-system")
	sink := &captureSend{}
	fifo := NewFIFO(path, WithFIFOSend(sink.send), WithFIFOTransportName("gpio"))
	go func() {
		if err := fifo.Serve(ctx); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()

	// Wait for the pipe to exist before writing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fifo never created")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open for write: %v", err)
	}
	payload := []byte{0x10, 0x01, 0x00, 0x2A}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()

	deadline = time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("payload never transmitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sink.mu.Lock()
	f := sink.frames[0]
	sink.mu.Unlock()
	if f.PayloadLen() != len(payload) || f.CRC() != frame.Checksum(payload) {
		t.Fatalf("unexpected frame: payload_len=%d crc=0x%08X", f.PayloadLen(), f.CRC())
	}
}

func TestFIFOMkfifoFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Parent directory does not exist: setup error returned immediately.
	fifo := NewFIFO(filepath.Join(t.TempDir(), "missing", "fifo"),
		WithFIFOSend((&captureSend{}).send))
	if err := fifo.Serve(ctx); err == nil {
		t.Fatal("expected setup error")
	}
}
