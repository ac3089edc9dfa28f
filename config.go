package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	addr        string
	origin      string
	stopTimeout time.Duration
	killTimeout time.Duration
	metricsTick time.Duration
	logLevel    string
	logFormat   string

	roleChange     roleChangePolicy
	rateLimit      float64
	rateBurst      int
	maxMessageSize int64
	sendQueue      int
	pingPeriod     time.Duration
}

// loadConfig parses args on top of defaults taken from the environment.
// Variables in dotenv fill in for ones the environment does not set; a
// missing dotenv file is fine.
func loadConfig(args []string, dotenv string, output io.Writer) (*config, error) {
	env, err := readDotEnv(dotenv)
	if err != nil {
		return nil, err
	}
	getenv := func(key, fallback string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := env[key]; ok {
			return v
		}
		return fallback
	}

	cfg := &config{
		addr:           ":" + getenv("PORT", "3001"),
		origin:         getenv("RELAY_ORIGIN", ""),
		stopTimeout:    10 * time.Second,
		killTimeout:    1 * time.Second,
		metricsTick:    60 * time.Second,
		logLevel:       getenv("LOG_LEVEL", "info"),
		logFormat:      getenv("LOG_FORMAT", "json"),
		rateBurst:      100,
		maxMessageSize: defaultMaxMessageSize,
		sendQueue:      256,
		pingPeriod:     pingPeriod,
	}
	if err := cfg.roleChange.Set(getenv("ROLE_CHANGE", "reject")); err != nil {
		return nil, fmt.Errorf("ROLE_CHANGE: %w", err)
	}

	fset := flag.NewFlagSet("memerelay", flag.ContinueOnError)
	fset.SetOutput(output)
	fset.StringVar(&cfg.addr, "addr", cfg.addr, "http service address")
	fset.StringVar(&cfg.origin, "origin", cfg.origin, "websocket server checks Origin headers against this scheme://host[:port]")
	fset.DurationVar(&cfg.stopTimeout, "stop-timeout", cfg.stopTimeout, "stop timeout")
	fset.DurationVar(&cfg.killTimeout, "kill-timeout", cfg.killTimeout, "kill timeout")
	fset.DurationVar(&cfg.metricsTick, "metrics.tick", cfg.metricsTick, "metrics: duration between reports, 0 reports on exit only")
	fset.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "log level: debug, info, warn, error")
	fset.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "log format: json or console")
	fset.Var(&cfg.roleChange, "role-change", "when a connection declares a second role: reject or replace")
	fset.Float64Var(&cfg.rateLimit, "rate-limit", cfg.rateLimit, "inbound frames per second per connection, 0 disables")
	fset.IntVar(&cfg.rateBurst, "rate-burst", cfg.rateBurst, "inbound frame burst per connection")
	fset.Int64Var(&cfg.maxMessageSize, "max-message-size", cfg.maxMessageSize, "largest inbound frame in bytes")
	fset.IntVar(&cfg.sendQueue, "send-queue", cfg.sendQueue, "outbound frames buffered per connection")
	fset.DurationVar(&cfg.pingPeriod, "ping-period", cfg.pingPeriod, "interval between websocket pings")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *config) validate() error {
	switch {
	case cfg.sendQueue < 1:
		return fmt.Errorf("send-queue must be positive, got %d", cfg.sendQueue)
	case cfg.maxMessageSize < 1:
		return fmt.Errorf("max-message-size must be positive, got %d", cfg.maxMessageSize)
	case cfg.rateLimit < 0:
		return fmt.Errorf("rate-limit must not be negative, got %v", cfg.rateLimit)
	case cfg.rateLimit > 0 && cfg.rateBurst < 1:
		return fmt.Errorf("rate-burst must be positive when rate-limit is set, got %d", cfg.rateBurst)
	case cfg.pingPeriod <= 0 || cfg.pingPeriod >= pongWait:
		return fmt.Errorf("ping-period must be between 0 and %s, got %s", pongWait, cfg.pingPeriod)
	}
	return nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return env, nil
}
