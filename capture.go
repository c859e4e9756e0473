package tracelight

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// maxCapturedBody bounds how much of a request or response body the
// adapter keeps, so the core only ever receives size-bounded records.
const maxCapturedBody = 64 << 10

// redactedHeaders are never forwarded with their real values.
var redactedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"x-api-key":     {},
}

const redactedValue = "[REDACTED]"

// CaptureTransport wraps an http.RoundTripper so that every outbound
// request/response pair is summarized into a Record and enqueued on c.
// The wrapped transport's behavior is unchanged; capture failures never
// affect the request. Pass nil to wrap http.DefaultTransport.
func CaptureTransport(base http.RoundTripper, c *Client) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &captureTransport{base: base, client: c}
}

type captureTransport struct {
	base   http.RoundTripper
	client *Client
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := Record{
		Timestamp:      time.Now().UTC(),
		Method:         req.Method,
		URL:            req.URL.Scheme + "://" + req.URL.Host + req.URL.Path,
		Query:          flattenQuery(req.URL.Query()),
		RequestHeaders: sanitizeHeaders(req.Header),
		RequestBody:    captureRequestBody(req),
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	rec.ExecutionTimeMs = DurationMillis(time.Since(start))

	if err != nil {
		rec.Error = err.Error()
		t.client.Enqueue(rec)
		return resp, err
	}

	rec.StatusCode = resp.StatusCode
	rec.ResponseBody = captureResponseBody(resp)
	t.client.Enqueue(rec)

	return resp, nil
}

// Middleware returns an http.Handler middleware that captures inbound
// requests into Records enqueued on c. No framework types reach the core:
// the middleware binds to the shipper purely through Enqueue.
func Middleware(c *Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := Record{
				Timestamp:      time.Now().UTC(),
				Method:         r.Method,
				URL:            r.URL.Path,
				Query:          flattenQuery(r.URL.Query()),
				RequestHeaders: sanitizeHeaders(r.Header),
			}

			if r.Body != nil && r.Body != http.NoBody {
				peek, rest := peekBody(r.Body)
				r.Body = rest
				rec.RequestBody = decodeBody(peek)
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			rec.ExecutionTimeMs = DurationMillis(time.Since(start))
			rec.StatusCode = sw.status

			c.Enqueue(rec)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// sanitizeHeaders flattens headers to single values and redacts
// sensitive ones.
func sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		if _, sensitive := redactedHeaders[strings.ToLower(name)]; sensitive {
			out[name] = redactedValue
			continue
		}
		out[name] = values[0]
	}
	return out
}

func flattenQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for name, values := range q {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

// captureRequestBody reads an outbound request's body via GetBody so the
// original reader is left untouched. Bodies without GetBody are skipped
// rather than consumed.
func captureRequestBody(req *http.Request) any {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, maxCapturedBody))
	if err != nil {
		return nil
	}
	return decodeBody(b)
}

// captureResponseBody reads up to maxCapturedBody bytes of the response and
// splices them back so the caller still observes the full body.
func captureResponseBody(resp *http.Response) any {
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	peek, rest := peekBody(resp.Body)
	resp.Body = rest
	return decodeBody(peek)
}

// peekBody reads up to maxCapturedBody bytes from rc and returns them along
// with a ReadCloser that replays the peeked bytes before the remainder.
func peekBody(rc io.ReadCloser) ([]byte, io.ReadCloser) {
	peek, err := io.ReadAll(io.LimitReader(rc, maxCapturedBody))
	if err != nil {
		return nil, rc
	}
	return peek, &replayReadCloser{
		Reader: io.MultiReader(bytes.NewReader(peek), rc),
		closer: rc,
	}
}

type replayReadCloser struct {
	io.Reader
	closer io.Closer
}

func (r *replayReadCloser) Close() error {
	return r.closer.Close()
}

// decodeBody keeps JSON bodies structured and falls back to a string.
func decodeBody(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		return v
	}
	return string(b)
}
