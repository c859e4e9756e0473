package tracelight

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tracelight/tracelight-go/internal/metrics"
)

// flushScheduler owns the flush timing policy: a periodic ticker plus a
// threshold signal from the enqueue path, both funneled into one flush
// action guarded against overlap. The guard mutex is the only path that
// drains the buffer, so there is never more than one in-flight drain.
type flushScheduler struct {
	buffer    *recordBuffer
	transport *httpTransport
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// flushMu is the single-flight guard shared by the ticker, the
	// threshold trigger, and the shutdown path.
	flushMu  sync.Mutex
	inFlight atomic.Int64

	mu      sync.Mutex
	running bool
	kickCh  chan struct{}
	stopCh  chan struct{}
}

func newFlushScheduler(buffer *recordBuffer, transport *httpTransport, cfg Config, m *metrics.Metrics) *flushScheduler {
	return &flushScheduler{
		buffer:    buffer,
		transport: transport,
		interval:  cfg.FlushInterval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		metrics:   m,
		kickCh:    make(chan struct{}, 1),
	}
}

// start transitions the scheduler to Running and launches the flush loop.
// Idempotent.
func (s *flushScheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	go s.run(s.stopCh)
}

// stop transitions the scheduler to Stopped and cancels the periodic timer.
// It does not wait for an in-progress delivery; the flush guard already
// prevents any overlap with a later flushNow. Idempotent.
func (s *flushScheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// kick signals the threshold trigger without blocking. A signal already
// pending means a size check is coming anyway, so the send is dropped.
func (s *flushScheduler) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *flushScheduler) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Timer trigger: ship whatever has accumulated.
			s.tryFlush(context.Background())
		case <-s.kickCh:
			// Threshold trigger from the enqueue path.
			if s.buffer.size() >= s.batchSize {
				s.tryFlush(context.Background())
			}
		case <-stopCh:
			return
		}
	}
}

// tryFlush runs the flush action unless one is already in progress, in
// which case the trigger is a no-op: the holder's drain covers everything
// present at the start of its critical section.
func (s *flushScheduler) tryFlush(ctx context.Context) {
	if !s.flushMu.TryLock() {
		return
	}
	defer s.flushMu.Unlock()

	s.flush(ctx)
}

// flushNow runs the flush action for the shutdown path. Unlike the
// triggered paths it waits for an in-progress flush to finish, then drains
// whatever remains, so shutdown never skips records on the strength of a
// flush that began before shutdown was requested.
func (s *flushScheduler) flushNow(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.flush(ctx)
}

// flush drains the buffer and hands the batch to the transport. The caller
// must hold flushMu. Drained records are never re-queued: delivery is
// best-effort by design.
func (s *flushScheduler) flush(ctx context.Context) {
	batch := s.buffer.drain()
	if len(batch) == 0 {
		return
	}

	batchID := uuid.NewString()
	s.metrics.Drained(ctx, int64(len(batch)))
	s.inFlight.Store(int64(len(batch)))
	start := time.Now()

	report := s.transport.sendBatch(ctx, batch, func(deliveryOutcome) {
		s.inFlight.Add(-1)
	})

	s.inFlight.Store(0)
	elapsed := time.Since(start)
	s.metrics.FlushObserved(ctx, float64(elapsed)/float64(time.Millisecond))

	if report.Failed > 0 || report.Dropped > 0 {
		s.logger.Warn("tracelight: flush completed with losses",
			"batch_id", batchID,
			"batch_size", len(batch),
			"delivered", report.Delivered,
			"rejected", report.Rejected,
			"failed", report.Failed,
			"dropped", report.Dropped,
			"elapsed", elapsed,
		)
		return
	}

	s.logger.Debug("tracelight: flush completed",
		"batch_id", batchID,
		"batch_size", len(batch),
		"delivered", report.Delivered,
		"rejected", report.Rejected,
		"elapsed", elapsed,
	)
}

// inFlightCount reports how many drained records are currently inside a
// delivery attempt. Used by shutdown to account for an abandoned flush.
func (s *flushScheduler) inFlightCount() int {
	return int(s.inFlight.Load())
}
