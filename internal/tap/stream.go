package tap

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

// ServeListener streams records to TCP subscribers as JSON lines, one
// subscription per connection. It returns when ctx is cancelled or the
// listener fails.
func ServeListener(ctx context.Context, t *Tap, ln net.Listener, l *slog.Logger) error {
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() { // transient
				time.Sleep(200 * time.Millisecond)
				continue
			}
			return err
		}
		sub := t.Subscribe()
		l.Debug("tap_subscriber_attached", "remote", conn.RemoteAddr().String(), "subscribers", t.Count())
		go streamRecords(ctx, t, sub, conn, l)
	}
}

func streamRecords(ctx context.Context, t *Tap, sub *Subscriber, conn net.Conn, l *slog.Logger) {
	defer func() {
		t.Remove(sub)
		_ = conn.Close()
	}()
	enc := json.NewEncoder(conn)
	for {
		select {
		case rec := <-sub.Out:
			if err := enc.Encode(rec); err != nil {
				metrics.IncError(metrics.ErrTapWrite)
				l.Debug("tap_subscriber_write_error", "error", err)
				return
			}
		case <-sub.Closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
