// Package netpro is a client-side networking toolkit: HTTP convenience
// methods on a rate-limited, retrying client, a GraphQL client with a
// query cache, multipart form encoding, and two resilient streaming
// transports (WebSocket and Server-Sent Events) with state tracking,
// keepalive, and automatic reconnection.
//
// Example:
//
//	client := netpro.NewClient(
//		netpro.WithBaseURL("https://api.example.com"),
//		netpro.WithRetry(netpro.RetryPolicy{MaxRetries: 3}),
//	)
//
//	// One-shot HTTP
//	var user User
//	_ = client.GetJSON(ctx, "/users/42", &user)
//
//	// Streaming
//	ws := netpro.NewWebSocket("wss://api.example.com/feed", &netpro.WebSocketConfig{
//		AutoReconnect: true,
//	})
//	ws.OnMessage(func(m netpro.Message) { fmt.Println(m.Text()) })
//	_ = ws.Connect(ctx)
package netpro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// Client
// ============================================================================

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "netpro/1.0"
)

// Client is the one-shot HTTP convenience client. Requests pass a
// client-side rate limiter, the interceptor chain, and a transport stack
// that handles stateless retries and optional request compression.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	retry     *RetryPolicy
	compress  bool
	requestID bool
	transport http.RoundTripper
}

// ClientOption customizes a Client at construction time.
type ClientOption func(*Client)

// WithBaseURL sets the URL all request paths are resolved against.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.resty.SetBaseURL(url) }
}

// WithTimeout bounds every request end to end.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.resty.SetTimeout(d) }
}

// WithHeader adds a default header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.resty.SetHeader(key, value) }
}

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.resty.SetHeader("User-Agent", ua) }
}

// WithBearerToken sends the token on every request.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.resty.SetAuthToken(token) }
}

// WithBasicAuth sends basic credentials on every request.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) { c.resty.SetBasicAuth(username, password) }
}

// WithRetry enables stateless per-request retries. Distinct from the
// streaming clients' reconnect machinery, which handles long-lived
// connections.
func WithRetry(p RetryPolicy) ClientOption {
	return func(c *Client) {
		p = p.withDefaults()
		c.retry = &p
	}
}

// WithRateLimit caps the request rate on the client side. rps is the
// sustained rate, burst the momentary allowance.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithRequestID stamps every request with a fresh X-Request-ID.
func WithRequestID() ClientOption {
	return func(c *Client) { c.requestID = true }
}

// WithCompression gzips non-empty request bodies and marks them with
// Content-Encoding: gzip.
func WithCompression() ClientOption {
	return func(c *Client) { c.compress = true }
}

// WithTransport replaces the bottom of the transport stack; retry and
// compression layers still wrap it.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

// WithLogger attaches a logger; request completion is logged at debug.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a Client. Without options it talks plain HTTP with a
// 30-second timeout, no retries, and no rate limit.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		resty:   resty.New().SetTimeout(defaultTimeout).SetHeader("User-Agent", defaultUserAgent),
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.resty.SetTransport(c.buildTransport())

	if c.requestID {
		c.resty.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if r.Header.Get("X-Request-ID") == "" {
				r.SetHeader("X-Request-ID", uuid.NewString())
			}
			return nil
		})
	}
	c.resty.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		c.logger.Debug("http request",
			zap.String("method", r.Request.Method),
			zap.String("url", r.Request.URL),
			zap.Int("status", r.StatusCode()),
			zap.Duration("duration", r.Time()))
		return nil
	})
	return c
}

// Resty exposes the underlying resty client for needs the convenience
// surface does not cover.
func (c *Client) Resty() *resty.Client { return c.resty }

// OnRequest registers an interceptor that runs before every request.
func (c *Client) OnRequest(fn func(*resty.Request) error) {
	c.resty.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return fn(r)
	})
}

// OnResponse registers an interceptor that runs after every response.
func (c *Client) OnResponse(fn func(*resty.Response) error) {
	c.resty.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		return fn(r)
	})
}

// ============================================================================
// Requests
// ============================================================================

// RequestOption customizes a single request.
type RequestOption func(*resty.Request)

// Query adds one query parameter.
func Query(key, value string) RequestOption {
	return func(r *resty.Request) { r.SetQueryParam(key, value) }
}

// QueryMap adds a set of query parameters.
func QueryMap(params map[string]string) RequestOption {
	return func(r *resty.Request) { r.SetQueryParams(params) }
}

// Header adds one request header.
func Header(key, value string) RequestOption {
	return func(r *resty.Request) { r.SetHeader(key, value) }
}

// Body sets a raw request body: string, []byte, or io.Reader.
func Body(body any) RequestOption {
	return func(r *resty.Request) { r.SetBody(body) }
}

// JSON marshals v as the JSON request body.
func JSON(v any) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(v)
	}
}

// FormData sets URL-encoded form fields as the body.
func FormData(fields map[string]string) RequestOption {
	return func(r *resty.Request) { r.SetFormData(fields) }
}

// ============================================================================
// Responses
// ============================================================================

// Response is the outcome of a one-shot request with the body fully read.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

func fromResty(r *resty.Response) *Response {
	return &Response{
		StatusCode: r.StatusCode(),
		Status:     r.Status(),
		Headers:    r.Header(),
		Body:       r.Body(),
		Duration:   r.Time(),
	}
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Err returns nil for success statuses and an *APIError otherwise.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, Status: r.Status, Body: r.Body}
}

// ============================================================================
// Verbs
// ============================================================================

// Do performs one request. path is resolved against the base URL when one
// is set.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		opt(req)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return fromResty(resp), nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, opts...)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, opts...)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, opts...)
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, opts...)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, opts...)
}

// Head performs a HEAD request.
func (c *Client) Head(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodHead, path, opts...)
}

// Options performs an OPTIONS request.
func (c *Client) Options(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodOptions, path, opts...)
}

// GetJSON performs a GET and decodes a successful response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	resp, err := c.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	return resp.JSON(out)
}

// PostJSON performs a POST with a JSON body and decodes a successful
// response into out. A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	resp, err := c.Post(ctx, path, append([]RequestOption{JSON(body)}, opts...)...)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// PostMultipart performs a POST with a multipart/form-data body built by
// form.
func (c *Client) PostMultipart(ctx context.Context, path string, form *Form, opts ...RequestOption) (*Response, error) {
	body, contentType, err := form.Build()
	if err != nil {
		return nil, err
	}
	multipartOpt := func(r *resty.Request) {
		r.SetHeader("Content-Type", contentType)
		r.SetBody(body)
	}
	return c.Do(ctx, http.MethodPost, path, append([]RequestOption{multipartOpt}, opts...)...)
}
