package netpro

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// ============================================================================
// Requests
// ============================================================================

func TestClientRequests(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves paths against the base URL", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/users/42", r.URL.Path)
			io.WriteString(w, "hello")
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		resp, err := c.Get(ctx, "/users/42")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, resp.IsSuccess())
		assert.Equal(t, "hello", string(resp.Body))
		assert.Greater(t, resp.Duration, time.Duration(0))
	})

	t.Run("query parameters and per-request headers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		_, err := c.Get(ctx, "/",
			Query("page", "2"),
			QueryMap(map[string]string{"limit": "10"}),
			Header("X-Trace", "abc"))
		require.NoError(t, err)
	})

	t.Run("verbs use their methods", func(t *testing.T) {
		var mu sync.Mutex
		var methods []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			methods = append(methods, r.Method)
			mu.Unlock()
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		for _, do := range []func(context.Context, string, ...RequestOption) (*Response, error){
			c.Post, c.Put, c.Patch, c.Delete, c.Head, c.Options,
		} {
			_, err := do(ctx, "/")
			require.NoError(t, err)
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}, methods)
	})

	t.Run("default headers and auth", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "netpro-tests/1.0", r.Header.Get("User-Agent"))
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			assert.Equal(t, "on", r.Header.Get("X-Feature"))
		}))
		defer srv.Close()

		c := NewClient(
			WithBaseURL(srv.URL),
			WithUserAgent("netpro-tests/1.0"),
			WithBearerToken("tok-123"),
			WithHeader("X-Feature", "on"))
		_, err := c.Get(ctx, "/")
		require.NoError(t, err)
	})

	t.Run("basic auth", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "gopher", user)
			assert.Equal(t, "hunter2", pass)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL), WithBasicAuth("gopher", "hunter2"))
		_, err := c.Get(ctx, "/")
		require.NoError(t, err)
	})

	t.Run("form data body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "gopher", r.PostFormValue("name"))
			assert.Equal(t, "go", r.PostFormValue("lang"))
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		_, err := c.Post(ctx, "/", FormData(map[string]string{"name": "gopher", "lang": "go"}))
		require.NoError(t, err)
	})

	t.Run("raw body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, "raw payload", string(b))
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		_, err := c.Post(ctx, "/", Body("raw payload"))
		require.NoError(t, err)
	})

	t.Run("custom transport sits under the stack", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		var calls atomic.Int32
		rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			return http.DefaultTransport.RoundTrip(r)
		})
		c := NewClient(WithBaseURL(srv.URL), WithTransport(rt))
		_, err := c.Get(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

// ============================================================================
// JSON Helpers
// ============================================================================

func TestClientJSON(t *testing.T) {
	ctx := context.Background()

	type user struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}

	t.Run("GetJSON decodes a success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"name":"gopher","id":7}`)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		var u user
		require.NoError(t, c.GetJSON(ctx, "/users/7", &u))
		assert.Equal(t, user{Name: "gopher", ID: 7}, u)
	})

	t.Run("GetJSON surfaces an APIError on failure statuses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "short and stout", http.StatusTeapot)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		var u user
		err := c.GetJSON(ctx, "/users/7", &u)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
		assert.Contains(t, apiErr.Error(), "short and stout")
	})

	t.Run("PostJSON round-trips", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "gopher", in["name"])
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":99}`)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		var out struct {
			ID int `json:"id"`
		}
		require.NoError(t, c.PostJSON(ctx, "/users", map[string]string{"name": "gopher"}, &out))
		assert.Equal(t, 99, out.ID)
	})

	t.Run("PostJSON with nil out discards the body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json at all")
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		assert.NoError(t, c.PostJSON(ctx, "/fire-and-forget", map[string]string{"a": "b"}, nil))
	})

	t.Run("JSON decode errors are wrapped", func(t *testing.T) {
		resp := &Response{StatusCode: 200, Body: []byte("not json")}
		var v map[string]any
		assert.ErrorContains(t, resp.JSON(&v), "decode response")
	})
}

// ============================================================================
// Retries
// ============================================================================

func TestClientRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries server errors until success", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				http.Error(w, "busy", http.StatusInternalServerError)
				return
			}
			io.WriteString(w, "ok")
		}))
		defer srv.Close()

		c := NewClient(
			WithBaseURL(srv.URL),
			WithRetry(RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}))
		resp, err := c.Get(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(resp.Body))
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("no retries without the option", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "busy", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		resp, err := c.Get(ctx, "/")
		require.NoError(t, err)
		assert.Error(t, resp.Err())
		assert.Equal(t, int32(1), hits.Load())
	})
}

// ============================================================================
// Request IDs
// ============================================================================

func TestClientRequestID(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-ID"))
		mu.Unlock()
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRequestID())
	ctx := context.Background()
	_, err := c.Get(ctx, "/")
	require.NoError(t, err)
	_, err = c.Get(ctx, "/")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 2)
	for _, id := range ids {
		_, perr := uuid.Parse(id)
		assert.NoError(t, perr, "id %q should be a uuid", id)
	}
	assert.NotEqual(t, ids[0], ids[1])
}

// ============================================================================
// Compression
// ============================================================================

func TestClientCompression(t *testing.T) {
	ctx := context.Background()
	payload := strings.Repeat("observability,", 200)

	t.Run("request bodies are gzipped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
			zr, err := gzip.NewReader(r.Body)
			if !assert.NoError(t, err) {
				return
			}
			b, err := io.ReadAll(zr)
			assert.NoError(t, err)
			assert.Equal(t, payload, string(b))
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL), WithCompression())
		_, err := c.Post(ctx, "/ingest", Body(payload))
		require.NoError(t, err)
	})

	t.Run("bodyless requests pass through unmarked", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Content-Encoding"))
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL), WithCompression())
		_, err := c.Get(ctx, "/")
		require.NoError(t, err)
	})

	t.Run("each retry attempt is compressed", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				http.Error(w, "busy", http.StatusInternalServerError)
				return
			}
			assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
			zr, err := gzip.NewReader(r.Body)
			if !assert.NoError(t, err) {
				return
			}
			b, err := io.ReadAll(zr)
			assert.NoError(t, err)
			assert.Equal(t, payload, string(b))
		}))
		defer srv.Close()

		c := NewClient(
			WithBaseURL(srv.URL),
			WithCompression(),
			WithRetry(RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}))
		resp, err := c.Post(ctx, "/ingest", Body(payload))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(2), hits.Load())
	})
}

// ============================================================================
// Rate Limiting
// ============================================================================

func TestClientRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("spaces requests at the configured rate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		// 20 rps with burst 1: the second and third request each wait ~50ms.
		c := NewClient(WithBaseURL(srv.URL), WithRateLimit(20, 1))
		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := c.Get(ctx, "/")
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	})

	t.Run("cancelled context aborts the wait", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1, 1))
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Get(cancelled, "/")
		assert.ErrorContains(t, err, "rate limit")
	})
}

// ============================================================================
// Interceptors
// ============================================================================

func TestClientInterceptors(t *testing.T) {
	ctx := context.Background()

	t.Run("request and response interceptors fire", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "yes", r.Header.Get("X-From-Interceptor"))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		var statuses []int
		c.OnRequest(func(r *resty.Request) error {
			r.SetHeader("X-From-Interceptor", "yes")
			return nil
		})
		c.OnResponse(func(r *resty.Response) error {
			statuses = append(statuses, r.StatusCode())
			return nil
		})

		_, err := c.Get(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, []int{http.StatusAccepted}, statuses)
	})

	t.Run("request interceptor errors abort the request", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		}))
		defer srv.Close()

		c := NewClient(WithBaseURL(srv.URL))
		c.OnRequest(func(*resty.Request) error { return errors.New("blocked by policy") })

		_, err := c.Get(ctx, "/")
		assert.ErrorContains(t, err, "blocked by policy")
		assert.Zero(t, hits.Load())
	})
}
