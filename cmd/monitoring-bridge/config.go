package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	transport       string
	dataPin         string
	clockPin        string
	settle          time.Duration
	pulse           time.Duration
	recovery        time.Duration
	i2cBus          string
	i2cAddr         uint
	uartDev         string
	baud            int
	listenAddr      string
	fifoPath        string
	busyPolicy      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	tapListen       string
	tapBuffer       int
	tapPolicy       string
	maxClients      int
	readTO          time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	transport := flag.String("transport", "gpio", "Peripheral transport: gpio|i2c|uart")
	dataPin := flag.String("data-pin", "GPIO17", "GPIO line name for DATA (when --transport=gpio)")
	clockPin := flag.String("clock-pin", "GPIO27", "GPIO line name for CLOCK (when --transport=gpio)")
	settle := flag.Duration("settle", 100*time.Microsecond, "DATA settle interval before the clock pulse")
	pulse := flag.Duration("pulse", 200*time.Microsecond, "Clock-high pulse width")
	recovery := flag.Duration("recovery", 100*time.Microsecond, "Clock-low recovery interval")
	i2cBus := flag.String("i2c-bus", "", "I2C bus name (empty selects the first available; when --transport=i2c)")
	i2cAddr := flag.Uint("i2c-addr", 0x10, "I2C device address")
	uartDev := flag.String("uart-dev", "/dev/ttyUSB0", "Serial device path (when --transport=uart)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	listen := flag.String("listen", ":20010", "TCP ingest listen address")
	fifoPath := flag.String("fifo", "", "FIFO ingest path (e.g., /run/monitoring-system); empty disables")
	busyPolicy := flag.String("busy-policy", "wait", "Concurrent submission policy: wait|reject")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	tapListen := flag.String("tap-listen", "", "Transmission tap listen address (JSON lines); empty disables")
	tapBuffer := flag.Int("tap-buffer", 64, "Per-subscriber tap buffer (records)")
	tapPolicy := flag.String("tap-policy", "drop", "Tap backpressure policy: drop|kick")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous ingest connections (0 = unlimited)")
	readTO := flag.Duration("read-timeout", 10*time.Second, "Per-connection payload read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the ingest endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default monitoring-bridge-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.transport = *transport
	cfg.dataPin = *dataPin
	cfg.clockPin = *clockPin
	cfg.settle = *settle
	cfg.pulse = *pulse
	cfg.recovery = *recovery
	cfg.i2cBus = *i2cBus
	cfg.i2cAddr = *i2cAddr
	cfg.uartDev = *uartDev
	cfg.baud = *baud
	cfg.listenAddr = *listen
	cfg.fifoPath = *fifoPath
	cfg.busyPolicy = *busyPolicy
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.tapListen = *tapListen
	cfg.tapBuffer = *tapBuffer
	cfg.tapPolicy = *tapPolicy
	cfg.maxClients = *maxClients
	cfg.readTO = *readTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values and ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.busyPolicy {
	case "wait", "reject":
	default:
		return fmt.Errorf("invalid busy-policy: %s", c.busyPolicy)
	}
	switch c.tapPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid tap-policy: %s", c.tapPolicy)
	}
	switch c.transport {
	case "gpio":
		if c.dataPin == "" || c.clockPin == "" {
			return errors.New("gpio transport requires data-pin and clock-pin")
		}
		if c.dataPin == c.clockPin {
			return fmt.Errorf("data-pin and clock-pin must differ (both %s)", c.dataPin)
		}
		if c.settle <= 0 || c.pulse <= 0 || c.recovery <= 0 {
			return errors.New("settle, pulse and recovery must be > 0")
		}
	case "i2c":
		if c.i2cAddr == 0 || c.i2cAddr > 0x7F {
			return fmt.Errorf("i2c-addr out of 7-bit range: 0x%X", c.i2cAddr)
		}
	case "uart":
		if c.uartDev == "" {
			return errors.New("uart transport requires uart-dev")
		}
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
	default:
		return fmt.Errorf("invalid transport: %s", c.transport)
	}
	if c.tapBuffer <= 0 {
		return fmt.Errorf("tap-buffer must be > 0 (got %d)", c.tapBuffer)
	}
	if c.readTO <= 0 {
		return errors.New("read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps MON_BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is lax:
// empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	// mapping: env var -> apply func
	// Only apply if NOT in set (flag wins).
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	stringVar := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	durVar := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	intVar := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	stringVar("transport", "MON_BRIDGE_TRANSPORT", &c.transport)
	stringVar("data-pin", "MON_BRIDGE_DATA_PIN", &c.dataPin)
	stringVar("clock-pin", "MON_BRIDGE_CLOCK_PIN", &c.clockPin)
	durVar("settle", "MON_BRIDGE_SETTLE", &c.settle)
	durVar("pulse", "MON_BRIDGE_PULSE", &c.pulse)
	durVar("recovery", "MON_BRIDGE_RECOVERY", &c.recovery)
	stringVar("i2c-bus", "MON_BRIDGE_I2C_BUS", &c.i2cBus)
	if _, ok := set["i2c-addr"]; !ok {
		if v, ok := get("MON_BRIDGE_I2C_ADDR"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 0, 8); err == nil {
				c.i2cAddr = uint(n)
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid MON_BRIDGE_I2C_ADDR: %w", err)
			}
		}
	}
	stringVar("uart-dev", "MON_BRIDGE_UART_DEV", &c.uartDev)
	intVar("baud", "MON_BRIDGE_BAUD", &c.baud, 1)
	stringVar("listen", "MON_BRIDGE_LISTEN", &c.listenAddr)
	if _, ok := set["fifo"]; !ok {
		if v, ok := get("MON_BRIDGE_FIFO"); ok {
			c.fifoPath = v
		}
	}
	stringVar("busy-policy", "MON_BRIDGE_BUSY_POLICY", &c.busyPolicy)
	stringVar("log-format", "MON_BRIDGE_LOG_FORMAT", &c.logFormat)
	stringVar("log-level", "MON_BRIDGE_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("MON_BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("MON_BRIDGE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MON_BRIDGE_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["tap-listen"]; !ok {
		if v, ok := get("MON_BRIDGE_TAP_LISTEN"); ok {
			c.tapListen = v
		}
	}
	intVar("tap-buffer", "MON_BRIDGE_TAP_BUFFER", &c.tapBuffer, 1)
	stringVar("tap-policy", "MON_BRIDGE_TAP_POLICY", &c.tapPolicy)
	intVar("max-clients", "MON_BRIDGE_MAX_CLIENTS", &c.maxClients, 0)
	durVar("read-timeout", "MON_BRIDGE_READ_TIMEOUT", &c.readTO)
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("MON_BRIDGE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	stringVar("mdns-name", "MON_BRIDGE_MDNS_NAME", &c.mdnsName)
	return firstErr
}
