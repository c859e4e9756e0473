package tracelight

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/tracelight/tracelight-go/internal/metrics"
)

// deliveryOutcome classifies the result of one record's delivery attempt(s).
type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeRejected  // client error, not retried
	outcomeFailed    // retry budget exhausted
	outcomeDropped   // never attempted (serialization failure)
)

// DeliveryReport summarizes one batch delivery.
type DeliveryReport struct {
	// Delivered is the number of records accepted by the collector.
	Delivered int

	// Rejected is the number of records permanently rejected (4xx).
	Rejected int

	// Failed is the number of records that exhausted the retry budget.
	Failed int

	// Dropped is the number of records dropped without a delivery attempt.
	Dropped int
}

// httpTransport delivers records to the collector over HTTP. It classifies
// outcomes and retries transient failures with linear backoff. None of its
// methods ever return an error: every failure mode becomes a diagnostic and
// a counter.
type httpTransport struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	maxRetries int
	baseDelay  time.Duration
	compress   bool
	debug      bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func newHTTPTransport(cfg Config, m *metrics.Metrics) *httpTransport {
	return &httpTransport{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		endpoint:   cfg.BaseURL + "/api/sdk/logs",
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		compress:   cfg.Compression,
		debug:      cfg.Debug,
		logger:     cfg.Logger,
		metrics:    m,
	}
}

// sendBatch delivers records sequentially, in batch order, and returns the
// per-outcome counts. Sequential delivery bounds concurrent load on the
// collector and keeps backoff timing predictable. onSettled, when non-nil,
// is invoked after each record's outcome is decided, so a caller abandoning
// the batch mid-flight can tell settled records from pending ones.
func (t *httpTransport) sendBatch(ctx context.Context, batch []Record, onSettled func(deliveryOutcome)) DeliveryReport {
	var report DeliveryReport

	for i := range batch {
		outcome := t.sendOne(ctx, &batch[i])
		switch outcome {
		case outcomeDelivered:
			report.Delivered++
			t.metrics.Delivered(ctx)
		case outcomeRejected:
			report.Rejected++
			t.metrics.Rejected(ctx)
		case outcomeFailed:
			report.Failed++
			t.metrics.Failed(ctx)
		case outcomeDropped:
			report.Dropped++
			t.metrics.Dropped(ctx)
		}
		if onSettled != nil {
			onSettled(outcome)
		}
	}

	return report
}

// sendOne delivers a single record. 2xx is success, 4xx is a permanent
// rejection, and 5xx, timeouts, and connection errors are transient: retried
// up to maxRetries additional attempts, waiting baseDelay times the attempt
// number between attempts.
func (t *httpTransport) sendOne(ctx context.Context, rec *Record) deliveryOutcome {
	payload, err := json.Marshal(rec)
	if err != nil {
		t.logger.Warn("tracelight: dropping unserializable record",
			"record_id", rec.ID,
			"error", err,
		)
		return outcomeDropped
	}

	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= t.maxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return outcomeFailed
			case <-time.After(t.baseDelay * time.Duration(attempt-1)):
			}
		}

		status, err := t.post(ctx, payload)
		if err != nil {
			// Connection error or timeout: transient.
			lastErr = err
			lastStatus = 0
			continue
		}

		if status >= 200 && status < 300 {
			if t.debug {
				t.logger.Debug("tracelight: record delivered",
					"record_id", rec.ID,
					"status", status,
					"attempts", attempt,
				)
			}
			return outcomeDelivered
		}

		if status >= 400 && status < 500 {
			t.logger.Warn("tracelight: record rejected by collector",
				"record_id", rec.ID,
				"status", status,
			)
			return outcomeRejected
		}

		// 5xx: transient.
		lastErr = nil
		lastStatus = status
	}

	t.logger.Warn("tracelight: record delivery failed, retries exhausted",
		"record_id", rec.ID,
		"attempts", t.maxRetries+1,
		"last_status", lastStatus,
		"error", lastErr,
	)
	return outcomeFailed
}

// post issues one delivery attempt and returns the response status code.
func (t *httpTransport) post(ctx context.Context, payload []byte) (int, error) {
	body, encoding, err := t.encodeBody(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}

	// Read and discard the body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode, nil
}

// encodeBody wraps the payload in a reader, gzip-compressed when enabled.
func (t *httpTransport) encodeBody(payload []byte) (io.Reader, string, error) {
	if !t.compress {
		return bytes.NewReader(payload), "", nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}

	return &buf, "gzip", nil
}
