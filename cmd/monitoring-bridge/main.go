package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/ingest"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
	"github.com/embedded-linux/monitoring-bridge/internal/transport"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, backend*.go, tap_init.go, metrics_logger.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("monitoring-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	tx, cleanup, berr := initBackend(cfg, l)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}
	gate := transport.NewGate(tx)
	send := ingest.SendFunc(gate.Send)
	if cfg.busyPolicy == "reject" {
		send = gate.SendNoWait
	}

	tp := initTap(ctx, cfg, l, &wg)

	srv := ingest.NewServer(
		ingest.WithListenAddr(cfg.listenAddr),
		ingest.WithSend(send),
		ingest.WithTap(tp),
		ingest.WithTransportName(cfg.transport),
		ingest.WithLogger(l),
		ingest.WithMaxClients(cfg.maxClients),
		ingest.WithReadDeadline(cfg.readTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("ingest_server_error", "error", err)
			cancel()
		}
	}()

	if cfg.fifoPath != "" {
		fifo := ingest.NewFIFO(cfg.fifoPath,
			ingest.WithFIFOSend(send),
			ingest.WithFIFOTap(tp),
			ingest.WithFIFOTransportName(cfg.transport),
			ingest.WithFIFOLogger(l),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fifo.Serve(ctx); err != nil {
				l.Error("fifo_error", "error", err)
				cancel()
			}
		}()
	}

	// Start mDNS advertisement once the ingest listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the ingest listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		l.Warn("ingest_shutdown_error", "error", err)
	}
	cleanup()
	wg.Wait()
}
