package netpro

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// GraphQL Client
// ============================================================================

// GraphQLClient executes operations against a single GraphQL endpoint
// over the HTTP client. Query results can be cached for a TTL; mutations
// always hit the wire.
type GraphQLClient struct {
	client   *Client
	endpoint string
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[uint64]gqlCacheEntry
}

type gqlCacheEntry struct {
	data    json.RawMessage
	expires time.Time
}

// GraphQLOption customizes a GraphQLClient.
type GraphQLOption func(*GraphQLClient)

// WithCacheTTL caches query results for d. Zero or negative disables
// caching, which is the default.
func WithCacheTTL(d time.Duration) GraphQLOption {
	return func(g *GraphQLClient) { g.ttl = d }
}

// NewGraphQL builds a client for the given endpoint URL. A nil HTTP
// client gets a default NewClient().
func NewGraphQL(endpoint string, client *Client, opts ...GraphQLOption) *GraphQLClient {
	if client == nil {
		client = NewClient()
	}
	g := &GraphQLClient{
		client:   client,
		endpoint: endpoint,
		cache:    make(map[uint64]gqlCacheEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ── Wire Types ──────────────────────────────────────────────────────

// GraphQLRequest is the wire form of one operation.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQLResponse is the wire form of a server reply.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors,omitempty"`
}

// GraphQLLocation points into the query document.
type GraphQLLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a single server-reported execution error.
type GraphQLError struct {
	Message   string            `json:"message"`
	Path      []any             `json:"path,omitempty"`
	Locations []GraphQLLocation `json:"locations,omitempty"`
}

func (e *GraphQLError) Error() string {
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, p := range e.Path {
			parts[i] = fmt.Sprint(p)
		}
		return fmt.Sprintf("graphql: %s (path %s)", e.Message, strings.Join(parts, "."))
	}
	return "graphql: " + e.Message
}

// GraphQLErrors is the full error list of a reply.
type GraphQLErrors []*GraphQLError

func (es GraphQLErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ── Operations ──────────────────────────────────────────────────────

// Query executes a query and decodes the data payload into out. While a
// cache TTL is set, fresh results are served from cache.
func (g *GraphQLClient) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	if g.ttl > 0 {
		if data, ok := g.cached(query, vars); ok {
			return decodeGQLData(data, out)
		}
	}
	data, err := g.Execute(ctx, GraphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	if g.ttl > 0 {
		g.store(query, vars, data)
	}
	return decodeGQLData(data, out)
}

// Mutate executes a mutation and decodes the data payload into out.
// Mutations are never cached.
func (g *GraphQLClient) Mutate(ctx context.Context, mutation string, vars map[string]any, out any) error {
	data, err := g.Execute(ctx, GraphQLRequest{Query: mutation, Variables: vars})
	if err != nil {
		return err
	}
	return decodeGQLData(data, out)
}

// Execute sends one raw operation, bypassing the cache, and returns the
// undecoded data payload. Server-reported errors come back as
// GraphQLErrors.
func (g *GraphQLClient) Execute(ctx context.Context, req GraphQLRequest) (json.RawMessage, error) {
	resp, err := g.client.Post(ctx, g.endpoint, JSON(req))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var wire GraphQLResponse
	if err := resp.JSON(&wire); err != nil {
		return nil, err
	}
	if len(wire.Errors) > 0 {
		return nil, wire.Errors
	}
	return wire.Data, nil
}

// ClearCache drops every cached query result.
func (g *GraphQLClient) ClearCache() {
	g.mu.Lock()
	g.cache = make(map[uint64]gqlCacheEntry)
	g.mu.Unlock()
}

// ── Cache ───────────────────────────────────────────────────────────

// cacheKey hashes the query plus its variables. json.Marshal sorts map
// keys, so the same variables always hash the same.
func cacheKey(query string, vars map[string]any) uint64 {
	h := fnv.New64a()
	io.WriteString(h, query)
	h.Write([]byte{0})
	if len(vars) > 0 {
		b, _ := json.Marshal(vars)
		h.Write(b)
	}
	return h.Sum64()
}

func (g *GraphQLClient) cached(query string, vars map[string]any) (json.RawMessage, bool) {
	g.mu.RLock()
	entry, ok := g.cache[cacheKey(query, vars)]
	g.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.data, true
}

func (g *GraphQLClient) store(query string, vars map[string]any, data json.RawMessage) {
	g.mu.Lock()
	g.cache[cacheKey(query, vars)] = gqlCacheEntry{data: data, expires: time.Now().Add(g.ttl)}
	g.mu.Unlock()
}

func decodeGQLData(data json.RawMessage, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}
