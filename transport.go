package netpro

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
)

// ============================================================================
// Transport Stack
// ============================================================================

// RetryPolicy controls stateless retries for one-shot requests. Retries
// apply to connection errors, 429s, and 5xx responses, with exponential
// backoff between attempts.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// MinWait is the delay before the first retry.
	MinWait time.Duration
	// MaxWait caps the delay between retries.
	MaxWait time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.MinWait <= 0 {
		p.MinWait = 1 * time.Second
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 30 * time.Second
	}
	return p
}

// buildTransport assembles the client's transport stack bottom-up:
// base, then compression, then retries. Retries sit on top so each
// attempt re-enters the compression layer with the original body.
func (c *Client) buildTransport() http.RoundTripper {
	rt := c.transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	if c.compress {
		rt = newGzipTransport(rt)
	}
	if c.retry != nil {
		rt = newRetryTransport(*c.retry, rt)
	}
	return rt
}

// newRetryTransport wraps base in a retrying round tripper.
func newRetryTransport(p RetryPolicy, base http.RoundTripper) http.RoundTripper {
	rc := retryablehttp.NewClient()
	rc.RetryMax = p.MaxRetries
	rc.RetryWaitMin = p.MinWait
	rc.RetryWaitMax = p.MaxWait
	rc.Logger = nil
	rc.HTTPClient.Transport = base
	return &retryablehttp.RoundTripper{Client: rc}
}

// ── Request Compression ─────────────────────────────────────────────

// gzipTransport compresses outgoing request bodies. Requests that
// already carry a Content-Encoding pass through untouched.
type gzipTransport struct {
	base http.RoundTripper
	pool sync.Pool
}

func newGzipTransport(base http.RoundTripper) *gzipTransport {
	return &gzipTransport{
		base: base,
		pool: sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }},
	}
}

func (t *gzipTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Header.Get("Content-Encoding") != "" {
		return t.base.RoundTrip(req)
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		out := req.Clone(req.Context())
		out.Body = http.NoBody
		return t.base.RoundTrip(out)
	}

	var buf bytes.Buffer
	zw := t.pool.Get().(*gzip.Writer)
	zw.Reset(&buf)
	if _, err := zw.Write(data); err != nil {
		t.pool.Put(zw)
		return nil, err
	}
	if err := zw.Close(); err != nil {
		t.pool.Put(zw)
		return nil, err
	}
	t.pool.Put(zw)

	compressed := buf.Bytes()
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(compressed))
	out.ContentLength = int64(len(compressed))
	out.Header.Set("Content-Encoding", "gzip")
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(compressed)), nil
	}
	return t.base.RoundTrip(out)
}
