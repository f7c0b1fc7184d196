package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"gpio_tx", snap.GPIOTx,
					"i2c_tx", snap.I2CTx,
					"uart_tx", snap.UARTTx,
					"bytes_tx", snap.BytesTx,
					"clock_pulses", snap.ClockPulses,
					"ingest", snap.Ingest,
					"fifo", snap.FIFO,
					"oversize", snap.Oversize,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
