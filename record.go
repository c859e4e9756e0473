package tracelight

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Millis is a duration in fractional milliseconds. It serializes with
// two-decimal precision on the wire.
type Millis float64

// DurationMillis converts a time.Duration to Millis.
func DurationMillis(d time.Duration) Millis {
	return Millis(float64(d) / float64(time.Millisecond))
}

// MarshalJSON implements json.Marshaler.
func (m Millis) MarshalJSON() ([]byte, error) {
	f := float64(m)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("tracelight: non-finite duration %v", f)
	}
	v := math.Round(f*100) / 100
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

// Record is one captured HTTP request/response interaction awaiting delivery.
// A Record handed to the shipper must be fully self-contained: the shipper
// never mutates it after enqueue, only reads it for serialization.
type Record struct {
	// ID uniquely identifies the record. Set on enqueue when empty.
	ID string `json:"id,omitempty"`

	// Timestamp is when the interaction started (ISO-8601 on the wire).
	// Set on enqueue when zero.
	Timestamp time.Time `json:"timestamp"`

	// Method is the HTTP method of the captured request.
	Method string `json:"method"`

	// URL is the request URL or path.
	URL string `json:"url"`

	// Query holds the request's query parameters.
	Query map[string]string `json:"query"`

	// RequestHeaders holds the (already sanitized) request headers.
	RequestHeaders map[string]string `json:"requestHeaders"`

	// RequestBody is the captured request body, already size-bounded and
	// redacted by the event source.
	RequestBody any `json:"requestBody,omitempty"`

	// StatusCode is the response status; absent until a response is captured.
	StatusCode int `json:"statusCode,omitempty"`

	// ResponseBody is the captured response body, if any.
	ResponseBody any `json:"responseBody,omitempty"`

	// ExecutionTimeMs is the request's execution time in fractional
	// milliseconds.
	ExecutionTimeMs Millis `json:"executionTimeMs,omitempty"`

	// Error describes a transport-level failure observed by the event
	// source, present only on failure capture.
	Error string `json:"error,omitempty"`
}
