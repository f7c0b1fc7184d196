package main

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/embedded-linux/monitoring-bridge/internal/tap"
)

// initTap starts the transmission tap listener if configured. A tap failure
// is never fatal: the bridge works without observers.
func initTap(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) *tap.Tap {
	if cfg.tapListen == "" {
		return nil
	}
	t := tap.New()
	t.OutBufSize = cfg.tapBuffer
	switch cfg.tapPolicy {
	case "kick":
		t.Policy = tap.PolicyKick
	default:
		t.Policy = tap.PolicyDrop
	}
	ln, err := net.Listen("tcp", cfg.tapListen)
	if err != nil {
		l.Warn("tap_listen_failed", "error", err)
		return nil
	}
	l.Info("tap_listen", "addr", ln.Addr().String(), "policy", cfg.tapPolicy, "buffer", cfg.tapBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tap.ServeListener(ctx, t, ln, l); err != nil {
			l.Warn("tap_server_error", "error", err)
		}
	}()
	return t
}
