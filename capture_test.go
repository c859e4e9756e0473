// Package tracelight tests the event-source adapters.
package tracelight

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// captureClient returns a client whose buffer the test can inspect
// directly; the batch size keeps records buffered instead of flushed.
func captureClient(t *testing.T) *Client {
	t.Helper()

	c, err := New(Config{
		APIKey:        "test-api-key",
		BaseURL:       "https://collector.example.com",
		BatchSize:     1000,
		FlushInterval: time.Hour,
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return c
}

// TestMiddleware_CapturesInboundRequest verifies inbound capture fields,
// header redaction, and that the handler still sees the request body.
func TestMiddleware_CapturesInboundRequest(t *testing.T) {
	c := captureClient(t)

	var handlerBody string
	handler := Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		handlerBody = string(b)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/orders?page=2", strings.NewReader(`{"amount":10}`))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	rw := httptest.NewRecorder()

	handler.ServeHTTP(rw, req)

	if handlerBody != `{"amount":10}` {
		t.Errorf("handler saw body %q, want the original request body", handlerBody)
	}
	if rw.Code != http.StatusTeapot {
		t.Errorf("response status = %d, want %d", rw.Code, http.StatusTeapot)
	}

	batch := c.buffer.drain()
	if len(batch) != 1 {
		t.Fatalf("captured %d records, want 1", len(batch))
	}
	rec := batch[0]

	if rec.Method != http.MethodPost || rec.URL != "/v1/orders" {
		t.Errorf("captured %s %s, want POST /v1/orders", rec.Method, rec.URL)
	}
	if rec.Query["page"] != "2" {
		t.Errorf("Query = %v, want page=2", rec.Query)
	}
	if rec.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode = %d, want %d", rec.StatusCode, http.StatusTeapot)
	}
	if rec.RequestHeaders["Authorization"] != redactedValue {
		t.Errorf("Authorization = %q, want redacted", rec.RequestHeaders["Authorization"])
	}
	if rec.RequestHeaders["Accept"] != "application/json" {
		t.Errorf("Accept = %q, want preserved", rec.RequestHeaders["Accept"])
	}
	body, ok := rec.RequestBody.(map[string]any)
	if !ok || body["amount"] != float64(10) {
		t.Errorf("RequestBody = %v, want decoded JSON object", rec.RequestBody)
	}
	if rec.ExecutionTimeMs < 0 {
		t.Errorf("ExecutionTimeMs = %v, want non-negative", rec.ExecutionTimeMs)
	}
}

// TestCaptureTransport_CapturesOutboundCall verifies outbound capture and
// that the caller still receives the full response body.
func TestCaptureTransport_CapturesOutboundCall(t *testing.T) {
	c := captureClient(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer server.Close()

	httpClient := &http.Client{Transport: CaptureTransport(nil, c)}

	resp, err := httpClient.Post(server.URL+"/v1/charge", "application/json", strings.NewReader(`{"amount":10}`))
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(respBody) != `{"result":"ok"}` {
		t.Errorf("caller saw response body %q, want the original", respBody)
	}

	batch := c.buffer.drain()
	if len(batch) != 1 {
		t.Fatalf("captured %d records, want 1", len(batch))
	}
	rec := batch[0]

	if rec.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", rec.Method)
	}
	if !strings.HasSuffix(rec.URL, "/v1/charge") {
		t.Errorf("URL = %q, want the request URL", rec.URL)
	}
	if rec.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", rec.StatusCode)
	}
	reqBody, ok := rec.RequestBody.(map[string]any)
	if !ok || reqBody["amount"] != float64(10) {
		t.Errorf("RequestBody = %v, want decoded JSON object", rec.RequestBody)
	}
	respCaptured, ok := rec.ResponseBody.(map[string]any)
	if !ok || respCaptured["result"] != "ok" {
		t.Errorf("ResponseBody = %v, want decoded JSON object", rec.ResponseBody)
	}
}

// TestCaptureTransport_RecordsFailure verifies that a connection error is
// captured with an error description and no status code.
func TestCaptureTransport_RecordsFailure(t *testing.T) {
	c := captureClient(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	httpClient := &http.Client{Transport: CaptureTransport(nil, c)}

	if _, err := httpClient.Get(server.URL + "/down"); err == nil {
		t.Fatal("Get against closed server returned nil error")
	}

	batch := c.buffer.drain()
	if len(batch) != 1 {
		t.Fatalf("captured %d records, want 1", len(batch))
	}
	rec := batch[0]

	if rec.Error == "" {
		t.Error("Error = empty, want the transport failure description")
	}
	if rec.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want unset on failure", rec.StatusCode)
	}
}

// TestSanitizeHeaders verifies redaction is case-insensitive.
func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Cookie", "session=abc")
	h.Set("X-Api-Key", "k")
	h.Set("Accept", "text/plain")

	out := sanitizeHeaders(h)
	if out["Cookie"] != redactedValue || out["X-Api-Key"] != redactedValue {
		t.Errorf("sanitizeHeaders = %v, want sensitive headers redacted", out)
	}
	if out["Accept"] != "text/plain" {
		t.Errorf("Accept = %q, want preserved", out["Accept"])
	}
}
