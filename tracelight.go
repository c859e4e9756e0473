// Package tracelight is a best-effort, non-blocking telemetry shipper.
// It accepts captured HTTP request/response records from a host
// application, buffers them in memory, and delivers them asynchronously to
// a remote collector. Delivery failures, network latency, and collector
// outages never reach the host's request path: enqueueing is always
// non-blocking and no error originating inside the shipper propagates to
// the caller.
package tracelight

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight/tracelight-go/internal/metrics"
)

// Client is the shipper's lifecycle owner. It wires the buffer, transport,
// and flush scheduler together and exposes the enqueue and shutdown surface
// to the host application.
type Client struct {
	config    Config
	logger    *slog.Logger
	buffer    *recordBuffer
	scheduler *flushScheduler
	module    *metrics.Module
	disabled  bool

	installOnce  sync.Once
	shutdownOnce sync.Once
	sigCh        chan os.Signal
	unsent       int
}

// Stats is a point-in-time snapshot of shipper health.
type Stats struct {
	// BufferSize is the number of records awaiting the next flush.
	BufferSize int `json:"buffer_size"`

	// InFlight is the number of records inside the current delivery attempt.
	InFlight int `json:"in_flight"`

	// ShuttingDown reports whether shutdown has begun.
	ShuttingDown bool `json:"shutting_down"`

	// Disabled reports whether the shipper self-disabled at construction.
	Disabled bool `json:"disabled"`
}

// New creates a shipper from the given configuration. On invalid
// configuration it returns the error together with a non-nil DISABLED
// client whose every operation is a safe no-op, so a host that ignores the
// error keeps working with telemetry off rather than faulting at startup.
//
// Call Install to start background flushing, and Shutdown (or let the
// installed signal handler do it) before process exit.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.validate(); err != nil {
		logger.Warn("tracelight: invalid configuration, shipper disabled", "error", err)
		return &Client{logger: logger, disabled: true}, err
	}

	cfg = cfg.withDefaults()

	module, err := metrics.NewModule("tracelight")
	var m *metrics.Metrics
	if err != nil {
		cfg.Logger.Warn("tracelight: metrics disabled", "error", err)
	} else if m, err = metrics.New(module.Meter()); err != nil {
		cfg.Logger.Warn("tracelight: metrics disabled", "error", err)
		m = nil
	}

	buffer := newRecordBuffer(cfg.BatchSize)
	transport := newHTTPTransport(cfg, m)
	scheduler := newFlushScheduler(buffer, transport, cfg, m)

	return &Client{
		config:    cfg,
		logger:    cfg.Logger,
		buffer:    buffer,
		scheduler: scheduler,
		module:    module,
	}, nil
}

// Install starts the flush scheduler and registers SIGINT/SIGTERM handlers
// that trigger Shutdown. Idempotent; a no-op on a disabled client.
func (c *Client) Install() {
	if c.disabled {
		return
	}

	c.installOnce.Do(func() {
		c.scheduler.start()

		c.sigCh = make(chan os.Signal, 1)
		signal.Notify(c.sigCh, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			sig, ok := <-c.sigCh
			if !ok {
				return
			}
			c.logger.Info("tracelight: received termination signal", "signal", sig.String())
			c.Shutdown()
		}()

		c.logger.Debug("tracelight: installed",
			"base_url", c.config.BaseURL,
			"batch_size", c.config.BatchSize,
			"flush_interval", c.config.FlushInterval,
		)
	})
}

// Enqueue hands one record to the shipper. It stamps the record ID and
// timestamp when absent, never blocks on I/O, and returns whether the
// record was accepted. Records are refused once shutdown has begun.
// Safe for concurrent use from any number of goroutines.
func (c *Client) Enqueue(rec Record) bool {
	if c == nil || c.disabled {
		return false
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if !c.buffer.enqueue(rec) {
		c.instruments().Refused(context.Background())
		return false
	}

	c.instruments().Enqueued(context.Background(), 1)
	if c.config.Debug {
		c.logger.Debug("tracelight: record enqueued",
			"record_id", rec.ID,
			"method", rec.Method,
			"url", rec.URL,
		)
	}

	if c.buffer.size() >= c.config.BatchSize {
		c.scheduler.kick()
	}

	return true
}

// Shutdown stops scheduling, refuses further records, and races one final
// flush against the configured grace period. The flush is abandoned, not
// cancelled, when the grace period wins: an in-flight HTTP attempt may
// complete in the background but is no longer awaited. Returns the number
// of records known not to have been delivered; informational only.
// Idempotent: concurrent and repeated calls yield the first call's count.
func (c *Client) Shutdown() int {
	if c == nil || c.disabled {
		return 0
	}

	c.shutdownOnce.Do(func() {
		c.unsent = c.shutdown()
	})
	return c.unsent
}

func (c *Client) shutdown() int {
	c.buffer.beginShutdown()
	c.scheduler.stop()

	if c.sigCh != nil {
		signal.Stop(c.sigCh)
		close(c.sigCh)
	}

	done := make(chan struct{})
	go func() {
		c.scheduler.flushNow(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.config.ShutdownGrace):
		c.logger.Warn("tracelight: grace period elapsed before final flush completed",
			"grace", c.config.ShutdownGrace,
		)
	}

	if c.module != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.module.Shutdown(ctx)
		cancel()
	}

	remaining := c.buffer.size() + c.scheduler.inFlightCount()
	if remaining > 0 {
		c.logger.Warn("tracelight: shut down with undelivered records", "count", remaining)
	} else {
		c.logger.Debug("tracelight: shut down cleanly")
	}
	return remaining
}

// Size returns the number of records awaiting the next flush.
func (c *Client) Size() int {
	if c == nil || c.disabled {
		return 0
	}
	return c.buffer.size()
}

// Stats returns a snapshot of shipper health for monitoring.
func (c *Client) Stats() Stats {
	if c == nil || c.disabled {
		return Stats{Disabled: true}
	}
	return Stats{
		BufferSize:   c.buffer.size(),
		InFlight:     c.scheduler.inFlightCount(),
		ShuttingDown: c.buffer.isShuttingDown(),
	}
}

// MetricsHandler returns an http.Handler serving the shipper's Prometheus
// metrics, for hosts that want to mount it alongside their own endpoints.
func (c *Client) MetricsHandler() http.Handler {
	if c == nil || c.disabled || c.module == nil {
		return http.NotFoundHandler()
	}
	return c.module.Handler()
}

func (c *Client) instruments() *metrics.Metrics {
	if c.scheduler == nil {
		return nil
	}
	return c.scheduler.metrics
}
