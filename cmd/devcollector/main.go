// Command devcollector runs a local collector for developing against the
// tracelight shipper. It accepts records on the shipper's wire endpoint,
// logs a one-line summary per record, and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	tracelight "github.com/tracelight/tracelight-go"
	"github.com/tracelight/tracelight-go/internal/metrics"
)

// Config holds the collector configuration.
type Config struct {
	// Addr is the HTTP bind address.
	Addr string `env:"DEVCOLLECTOR_ADDR" envDefault:":4180"`

	// APIKey is the bearer token the collector requires. Empty disables
	// authentication.
	APIKey string `env:"DEVCOLLECTOR_API_KEY"`

	// MaxBodySize bounds a single request body in bytes.
	MaxBodySize int64 `env:"DEVCOLLECTOR_MAX_BODY_SIZE" envDefault:"1048576"`

	// RatePerSecond throttles ingestion; exceeding it returns 429, which
	// exercises the shipper's transient-retry path. Zero disables.
	RatePerSecond float64 `env:"DEVCOLLECTOR_RATE_PER_SECOND"`

	// LogLevel is the log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	module, err := metrics.NewModule("devcollector")
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}

	collector, err := newCollector(cfg, logger, module.Meter())
	if err != nil {
		logger.Error("failed to create collector", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sdk/logs", collector.handleIngest)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", module.Handler())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	logger.Info("starting devcollector",
		"addr", cfg.Addr,
		"auth", cfg.APIKey != "",
		"rate_per_second", cfg.RatePerSecond,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := module.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown error", "error", err)
	}

	logger.Info("devcollector stopped")
}

// collector handles record ingestion.
type collector struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	recordsReceived  otelmetric.Int64Counter
	recordsThrottled otelmetric.Int64Counter
	recordsRejected  otelmetric.Int64Counter
}

func newCollector(cfg Config, logger *slog.Logger, meter otelmetric.Meter) (*collector, error) {
	c := &collector{
		cfg:    cfg,
		logger: logger,
	}

	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}

	var err error
	c.recordsReceived, err = meter.Int64Counter(
		"collector.records.received",
		otelmetric.WithDescription("Records accepted"),
	)
	if err != nil {
		return nil, err
	}
	c.recordsThrottled, err = meter.Int64Counter(
		"collector.records.throttled",
		otelmetric.WithDescription("Requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, err
	}
	c.recordsRejected, err = meter.Int64Counter(
		"collector.records.rejected",
		otelmetric.WithDescription("Requests rejected as unauthorized or malformed"),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *collector) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if c.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+c.cfg.APIKey {
		c.recordsRejected.Add(ctx, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.recordsThrottled.Add(ctx, 1)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body := http.MaxBytesReader(w, r.Body, c.cfg.MaxBodySize)
	defer body.Close()

	var reader io.Reader = body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(body)
		if err != nil {
			c.recordsRejected.Add(ctx, 1)
			http.Error(w, "invalid gzip body", http.StatusBadRequest)
			return
		}
		defer zr.Close()
		reader = zr
	}

	var rec tracelight.Record
	if err := json.NewDecoder(reader).Decode(&rec); err != nil {
		c.recordsRejected.Add(ctx, 1)
		http.Error(w, "invalid record", http.StatusBadRequest)
		return
	}

	c.recordsReceived.Add(ctx, 1)
	c.logger.Info("record received",
		"record_id", rec.ID,
		"method", rec.Method,
		"url", rec.URL,
		"status", rec.StatusCode,
		"execution_ms", float64(rec.ExecutionTimeMs),
		"error", rec.Error,
	)

	w.WriteHeader(http.StatusOK)
}

// setupLogger creates a logger based on configuration.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
