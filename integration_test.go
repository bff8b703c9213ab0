//go:build integration

package netpro_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	netpro "github.com/jamespap1/SwiftNetworkPro-sub002"
)

// These tests run against live endpoints and are opt-in:
//
//	NETPRO_TEST_HTTP_URL     any URL answering GET with a 2xx
//	NETPRO_TEST_GRAPHQL_URL  any GraphQL endpoint
//	NETPRO_TEST_WS_URL       a WebSocket echo endpoint
//	NETPRO_TEST_SSE_URL      an event stream that emits within 30s
//
// Unset variables skip their tests.

func envURL(t *testing.T, name string) string {
	t.Helper()
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}
	return v
}

// =======================================================================
// Group 1: HTTP
// =======================================================================

func TestIntegration_HTTP_Get(t *testing.T) {
	url := envURL(t, "NETPRO_TEST_HTTP_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := netpro.NewClient(
		netpro.WithTimeout(25*time.Second),
		netpro.WithRetry(netpro.RetryPolicy{MaxRetries: 2}),
		netpro.WithRequestID())
	resp, err := c.Get(ctx, url)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess(), "status %s", resp.Status)
	assert.NotZero(t, resp.Duration)
}

// =======================================================================
// Group 2: GraphQL
// =======================================================================

func TestIntegration_GraphQL_Typename(t *testing.T) {
	url := envURL(t, "NETPRO_TEST_GRAPHQL_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g := netpro.NewGraphQL(url, nil)
	var out struct {
		Typename string `json:"__typename"`
	}
	require.NoError(t, g.Query(ctx, `{ __typename }`, nil, &out))
	assert.NotEmpty(t, out.Typename)
}

// =======================================================================
// Group 3: WebSocket
// =======================================================================

func TestIntegration_WS_EchoRoundTrip(t *testing.T) {
	url := envURL(t, "NETPRO_TEST_WS_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := netpro.NewWebSocket(url, &netpro.WebSocketConfig{})
	received := make(chan netpro.Message, 4)
	c.OnMessage(func(m netpro.Message) { received <- m })

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect(netpro.CloseNormalClosure, "integration test done")

	require.NoError(t, c.SendText(ctx, "netpro integration ping"))
	select {
	case msg := <-received:
		assert.Equal(t, "netpro integration ping", msg.Text())
	case <-ctx.Done():
		t.Fatal("no echo before the deadline")
	}

	stats := c.Stats()
	assert.Equal(t, netpro.StateConnected, stats.State)
	assert.GreaterOrEqual(t, stats.MessagesSent, uint64(1))
}

// =======================================================================
// Group 4: Server-Sent Events
// =======================================================================

func TestIntegration_SSE_ReceivesEvents(t *testing.T) {
	url := envURL(t, "NETPRO_TEST_SSE_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := netpro.NewSSE(url, &netpro.SSEConfig{AutoReconnect: true})
	events := make(chan netpro.Event, 16)
	c.OnEvent(func(ev netpro.Event) { events <- ev })

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	select {
	case ev := <-events:
		assert.NotEmpty(t, ev.Type)
	case <-ctx.Done():
		t.Fatal("no event before the deadline")
	}
	assert.GreaterOrEqual(t, c.Stats().EventsReceived, uint64(1))
}
