package tracelight

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Default configuration values.
const (
	DefaultBatchSize      = 5
	DefaultFlushInterval  = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
)

// Config holds the shipper configuration.
type Config struct {
	// APIKey authenticates against the collector (required).
	APIKey string `env:"TRACELIGHT_API_KEY"`

	// BaseURL is the collector base URL (required, absolute,
	// e.g. "https://collector.example.com"). A trailing slash is stripped.
	BaseURL string `env:"TRACELIGHT_BASE_URL"`

	// BatchSize is the buffer size that triggers an immediate flush
	// (default: 5).
	BatchSize int `env:"TRACELIGHT_BATCH_SIZE"`

	// FlushInterval is the period of the timer-driven flush (default: 5s).
	FlushInterval time.Duration `env:"TRACELIGHT_FLUSH_INTERVAL"`

	// MaxRetries is the number of additional delivery attempts after a
	// transient failure (default: 3, i.e. 4 total attempts).
	MaxRetries int `env:"TRACELIGHT_MAX_RETRIES"`

	// RetryBaseDelay is the base of the linear backoff between attempts
	// (default: 1s; the n-th retry waits n times this).
	RetryBaseDelay time.Duration `env:"TRACELIGHT_RETRY_BASE_DELAY"`

	// Timeout bounds each HTTP delivery attempt (default: 10s).
	Timeout time.Duration `env:"TRACELIGHT_TIMEOUT"`

	// ShutdownGrace bounds how long Shutdown waits for the final flush
	// (default: 5s).
	ShutdownGrace time.Duration `env:"TRACELIGHT_SHUTDOWN_GRACE"`

	// Compression enables gzip encoding of delivery payloads.
	Compression bool `env:"TRACELIGHT_COMPRESSION"`

	// Debug enables per-record diagnostic logging. It affects only
	// verbosity, never behavior.
	Debug bool `env:"TRACELIGHT_DEBUG"`

	// Logger receives all diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `env:"-"`
}

// ConfigFromEnv builds a Config from TRACELIGHT_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks that required fields are set and values are sane.
func (c *Config) validate() error {
	if c.APIKey == "" {
		return errors.New("tracelight: APIKey is required")
	}
	if c.BaseURL == "" {
		return errors.New("tracelight: BaseURL is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.New("tracelight: BaseURL must be a valid absolute URL")
	}

	if c.BatchSize < 0 {
		return errors.New("tracelight: BatchSize must be non-negative")
	}
	if c.FlushInterval < 0 {
		return errors.New("tracelight: FlushInterval must be non-negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("tracelight: MaxRetries must be non-negative")
	}
	if c.RetryBaseDelay < 0 {
		return errors.New("tracelight: RetryBaseDelay must be non-negative")
	}
	if c.Timeout < 0 {
		return errors.New("tracelight: Timeout must be non-negative")
	}
	if c.ShutdownGrace < 0 {
		return errors.New("tracelight: ShutdownGrace must be non-negative")
	}

	return nil
}

// withDefaults returns a copy of the config with default values applied.
func (c Config) withDefaults() Config {
	cfg := c

	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}
