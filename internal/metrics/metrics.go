// Package metrics provides OpenTelemetry-based instrumentation for the
// shipper, exported in Prometheus exposition format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Module holds the OTel MeterProvider backed by a Prometheus exporter.
// It is the entry point for the shipper's observability setup.
type Module struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	meter    otelmetric.Meter
}

// NewModule creates a Module with a dedicated Prometheus registry so that
// embedding the shipper never collides with the host application's default
// registry. The scopeName is used as the meter scope.
func NewModule(scopeName string) (*Module, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	return &Module{
		provider: provider,
		registry: registry,
		meter:    provider.Meter(scopeName),
	}, nil
}

// Shutdown flushes and stops the MeterProvider.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// Handler returns an http.Handler serving the shipper's metrics in
// Prometheus exposition format.
func (m *Module) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Meter returns the OTel Meter for creating metric instruments.
func (m *Module) Meter() otelmetric.Meter {
	return m.meter
}

// Metrics holds the shipper's metric instruments. All recording methods are
// safe to call on a nil receiver, so a shipper running without observability
// pays no conditional logic at call sites.
type Metrics struct {
	recordsEnqueued  otelmetric.Int64Counter
	recordsRefused   otelmetric.Int64Counter
	recordsDelivered otelmetric.Int64Counter
	recordsRejected  otelmetric.Int64Counter
	recordsFailed    otelmetric.Int64Counter
	recordsDropped   otelmetric.Int64Counter
	flushBatchSize   otelmetric.Int64Histogram
	flushLatency     otelmetric.Float64Histogram
	bufferSize       otelmetric.Int64UpDownCounter
}

// New creates all metric instruments from the given Meter.
func New(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	m.recordsEnqueued, err = meter.Int64Counter(
		"shipper.records.enqueued",
		otelmetric.WithDescription("Records accepted by the buffer"),
	)
	if err != nil {
		return nil, err
	}

	m.recordsRefused, err = meter.Int64Counter(
		"shipper.records.refused",
		otelmetric.WithDescription("Records refused because shutdown had begun"),
	)
	if err != nil {
		return nil, err
	}

	m.recordsDelivered, err = meter.Int64Counter(
		"shipper.records.delivered",
		otelmetric.WithDescription("Records accepted by the collector"),
	)
	if err != nil {
		return nil, err
	}

	m.recordsRejected, err = meter.Int64Counter(
		"shipper.records.rejected",
		otelmetric.WithDescription("Records permanently rejected by the collector (4xx)"),
	)
	if err != nil {
		return nil, err
	}

	m.recordsFailed, err = meter.Int64Counter(
		"shipper.records.failed",
		otelmetric.WithDescription("Records failed after the retry budget was exhausted"),
	)
	if err != nil {
		return nil, err
	}

	m.recordsDropped, err = meter.Int64Counter(
		"shipper.records.dropped",
		otelmetric.WithDescription("Records dropped before delivery (serialization failure)"),
	)
	if err != nil {
		return nil, err
	}

	m.flushBatchSize, err = meter.Int64Histogram(
		"shipper.flush.batch.size",
		otelmetric.WithDescription("Records per flushed batch"),
	)
	if err != nil {
		return nil, err
	}

	m.flushLatency, err = meter.Float64Histogram(
		"shipper.flush.latency",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Flush latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.bufferSize, err = meter.Int64UpDownCounter(
		"shipper.buffer.size",
		otelmetric.WithDescription("Records currently buffered"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Enqueued records n accepted records.
func (m *Metrics) Enqueued(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.recordsEnqueued.Add(ctx, n)
	m.bufferSize.Add(ctx, n)
}

// Refused records an enqueue refused during shutdown.
func (m *Metrics) Refused(ctx context.Context) {
	if m == nil {
		return
	}
	m.recordsRefused.Add(ctx, 1)
}

// Drained records n records leaving the buffer for a delivery attempt.
func (m *Metrics) Drained(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.bufferSize.Add(ctx, -n)
	m.flushBatchSize.Record(ctx, n)
}

// Delivered records a record accepted by the collector.
func (m *Metrics) Delivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.recordsDelivered.Add(ctx, 1)
}

// Rejected records a permanent (4xx) rejection.
func (m *Metrics) Rejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.recordsRejected.Add(ctx, 1)
}

// Failed records a record whose retry budget was exhausted.
func (m *Metrics) Failed(ctx context.Context) {
	if m == nil {
		return
	}
	m.recordsFailed.Add(ctx, 1)
}

// Dropped records a record dropped before any delivery attempt.
func (m *Metrics) Dropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.recordsDropped.Add(ctx, 1)
}

// FlushObserved records the latency of one completed flush.
func (m *Metrics) FlushObserved(ctx context.Context, elapsedMs float64) {
	if m == nil {
		return
	}
	m.flushLatency.Record(ctx, elapsedMs)
}
