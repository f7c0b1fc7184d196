package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/embedded-linux/monitoring-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	FramesTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_tx_total",
		Help: "Total frames transmitted to the peripheral, by transport.",
	}, []string{"transport"})
	BytesTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frame_bytes_tx_total",
		Help: "Total frame bytes (payload + trailer) transmitted, by transport.",
	}, []string{"transport"})
	ClockPulses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbang_clock_pulses_total",
		Help: "Total clock pulses emitted on the bit-bang link (8 per byte).",
	})
	IngestPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_payloads_total",
		Help: "Total payloads accepted from TCP ingest clients.",
	})
	FIFOPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_payloads_total",
		Help: "Total payloads accepted from the FIFO endpoint.",
	})
	OversizeRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oversize_rejects_total",
		Help: "Total payloads rejected for exceeding frame capacity.",
	})
	BusyRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "busy_rejects_total",
		Help: "Total submissions rejected because a transmission was in flight.",
	})
	TapDroppedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_dropped_records_total",
		Help: "Total tap records dropped due to slow subscribers.",
	})
	TapKickedSubs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_kicked_subscribers_total",
		Help: "Total tap subscribers disconnected by the kick policy.",
	})
	TapActiveSubs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tap_active_subscribers",
		Help: "Current number of attached tap subscribers.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrIngestRead  = "ingest_read"
	ErrIngestWrite = "ingest_write"
	ErrFIFORead    = "fifo_read"
	ErrGPIOWrite   = "gpio_write"
	ErrI2CWrite    = "i2c_write"
	ErrUARTWrite   = "uart_write"
	ErrTapWrite    = "tap_write"
)

// Transport label constants used with FramesTx/BytesTx.
const (
	TransportGPIO = "gpio"
	TransportI2C  = "i2c"
	TransportUART = "uart"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localGPIOTx   uint64
	localI2CTx    uint64
	localUARTTx   uint64
	localBytesTx  uint64
	localPulses   uint64
	localIngest   uint64
	localFIFO     uint64
	localOversize uint64
	localBusy     uint64
	localTapDrop  uint64
	localTapKick  uint64
	localTapSubs  uint64
	localErrors   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	GPIOTx      uint64
	I2CTx       uint64
	UARTTx      uint64
	BytesTx     uint64
	ClockPulses uint64
	Ingest      uint64
	FIFO        uint64
	Oversize    uint64
	Busy        uint64
	TapDrops    uint64
	TapKicks    uint64
	TapSubs     uint64
	Errors      uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		GPIOTx:      atomic.LoadUint64(&localGPIOTx),
		I2CTx:       atomic.LoadUint64(&localI2CTx),
		UARTTx:      atomic.LoadUint64(&localUARTTx),
		BytesTx:     atomic.LoadUint64(&localBytesTx),
		ClockPulses: atomic.LoadUint64(&localPulses),
		Ingest:      atomic.LoadUint64(&localIngest),
		FIFO:        atomic.LoadUint64(&localFIFO),
		Oversize:    atomic.LoadUint64(&localOversize),
		Busy:        atomic.LoadUint64(&localBusy),
		TapDrops:    atomic.LoadUint64(&localTapDrop),
		TapKicks:    atomic.LoadUint64(&localTapKick),
		TapSubs:     atomic.LoadUint64(&localTapSubs),
		Errors:      atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.

// IncFrameTx records one transmitted frame of n bytes on the given transport.
func IncFrameTx(transport string, n int) {
	FramesTx.WithLabelValues(transport).Inc()
	BytesTx.WithLabelValues(transport).Add(float64(n))
	atomic.AddUint64(&localBytesTx, uint64(n))
	switch transport {
	case TransportGPIO:
		atomic.AddUint64(&localGPIOTx, 1)
	case TransportI2C:
		atomic.AddUint64(&localI2CTx, 1)
	case TransportUART:
		atomic.AddUint64(&localUARTTx, 1)
	}
}

// AddClockPulses records n clock pulses emitted on the bit-bang link.
func AddClockPulses(n int) {
	ClockPulses.Add(float64(n))
	atomic.AddUint64(&localPulses, uint64(n))
}

func IncIngestPayload() {
	IngestPayloads.Inc()
	atomic.AddUint64(&localIngest, 1)
}

func IncFIFOPayload() {
	FIFOPayloads.Inc()
	atomic.AddUint64(&localFIFO, 1)
}

func IncOversize() {
	OversizeRejects.Inc()
	atomic.AddUint64(&localOversize, 1)
}

func IncBusy() {
	BusyRejects.Inc()
	atomic.AddUint64(&localBusy, 1)
}

func IncTapDrop() {
	TapDroppedRecords.Inc()
	atomic.AddUint64(&localTapDrop, 1)
}

func IncTapKick() {
	TapKickedSubs.Inc()
	atomic.AddUint64(&localTapKick, 1)
}

func SetTapSubs(n int) {
	TapActiveSubs.Set(float64(n))
	atomic.StoreUint64(&localTapSubs, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrIngestRead, ErrIngestWrite, ErrFIFORead,
		ErrGPIOWrite, ErrI2CWrite, ErrUARTWrite, ErrTapWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
