// ABOUTME: Tests for the connection registry and the outbound write path
// ABOUTME: Uses a real WebSocket pair to verify registered sends reach the client

package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsPair establishes a server/client WebSocket pair over httptest.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	server = <-serverConns
	t.Cleanup(func() { server.Close(websocket.StatusNormalClosure, "") })
	return server, client
}

func TestRegisterSendRoundTrip(t *testing.T) {
	serverConn, clientConn := wsPair(t)

	registry := NewRegistry(testLogger())
	conn := NewConnection(context.Background(), "client-1", serverConn, testLogger())
	defer conn.Close()

	registry.Register(conn)
	assert.Equal(t, 1, registry.Count())

	require.NoError(t, registry.Send("client-1", map[string]string{"hello": "world"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got map[string]string
	require.NoError(t, wsjson.Read(ctx, clientConn, &got))
	assert.Equal(t, map[string]string{"hello": "world"}, got)
}

func TestSendPreservesOrder(t *testing.T) {
	serverConn, clientConn := wsPair(t)

	registry := NewRegistry(testLogger())
	conn := NewConnection(context.Background(), "client-1", serverConn, testLogger())
	defer conn.Close()
	registry.Register(conn)

	for _, payload := range []string{"one", "two", "three"} {
		require.NoError(t, registry.Send("client-1", map[string]string{"n": payload}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, want := range []string{"one", "two", "three"} {
		var got map[string]string
		require.NoError(t, wsjson.Read(ctx, clientConn, &got))
		assert.Equal(t, want, got["n"])
	}
}

func TestSendToUnknownClient(t *testing.T) {
	registry := NewRegistry(testLogger())

	err := registry.Send("nobody", map[string]string{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSendToClosedConnection(t *testing.T) {
	serverConn, _ := wsPair(t)

	registry := NewRegistry(testLogger())
	conn := NewConnection(context.Background(), "client-1", serverConn, testLogger())
	registry.Register(conn)

	conn.Close()
	<-conn.Done()

	err := registry.Send("client-1", map[string]string{})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestUnregister(t *testing.T) {
	serverConn, _ := wsPair(t)

	registry := NewRegistry(testLogger())
	conn := NewConnection(context.Background(), "client-1", serverConn, testLogger())
	defer conn.Close()

	registry.Register(conn)
	registry.Unregister(conn)
	assert.Equal(t, 0, registry.Count())
	assert.ErrorIs(t, registry.Send("client-1", nil), ErrConnectionNotFound)

	// Unregistering an absent connection is a no-op
	registry.Unregister(conn)
}

func TestRegisterReplacesExisting(t *testing.T) {
	serverA, _ := wsPair(t)
	serverB, clientB := wsPair(t)

	registry := NewRegistry(testLogger())
	connA := NewConnection(context.Background(), "client-1", serverA, testLogger())
	defer connA.Close()
	connB := NewConnection(context.Background(), "client-1", serverB, testLogger())
	defer connB.Close()

	registry.Register(connA)
	registry.Register(connB)
	assert.Equal(t, 1, registry.Count())

	require.NoError(t, registry.Send("client-1", map[string]string{"to": "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got map[string]string
	require.NoError(t, wsjson.Read(ctx, clientB, &got))
	assert.Equal(t, "b", got["to"])
}

func TestUnregisterStaleConnectionKeepsReplacement(t *testing.T) {
	serverA, _ := wsPair(t)
	serverB, clientB := wsPair(t)

	registry := NewRegistry(testLogger())
	connA := NewConnection(context.Background(), "client-1", serverA, testLogger())
	defer connA.Close()
	connB := NewConnection(context.Background(), "client-1", serverB, testLogger())
	defer connB.Close()

	registry.Register(connA)
	registry.Register(connB)

	// The replaced connection's handler winds down after the reconnect; its
	// exit must not evict the live entry.
	registry.Unregister(connA)
	assert.Equal(t, 1, registry.Count())

	require.NoError(t, registry.Send("client-1", map[string]string{"to": "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got map[string]string
	require.NoError(t, wsjson.Read(ctx, clientB, &got))
	assert.Equal(t, "b", got["to"])
}

func TestEnqueueNeverBlocksWhenFull(t *testing.T) {
	serverConn, _ := wsPair(t)

	// No reader on the client side; fill well past the queue size and
	// verify Enqueue keeps returning without blocking.
	conn := NewConnection(context.Background(), "client-1", serverConn, testLogger())
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < outboundBufferSize*4; i++ {
			_ = conn.Enqueue(map[string]int{"i": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestEnqueueReservesFinalHeadroom(t *testing.T) {
	// No writer goroutine, so the queue fills and stays full.
	conn := &Connection{
		ID:       "client-1",
		outbound: make(chan any, 8),
		logger:   testLogger(),
		done:     make(chan struct{}),
	}

	// Best-effort enqueues stop short of capacity.
	for i := 0; i < 8; i++ {
		require.NoError(t, conn.Enqueue(i))
	}
	assert.Equal(t, 8-finalFrameHeadroom, len(conn.outbound))

	// End-of-cycle frames still fit in the reserved slots.
	require.NoError(t, conn.EnqueueFinal("message"))
	require.NoError(t, conn.EnqueueFinal("summary"))
	assert.Equal(t, 8-finalFrameHeadroom+2, len(conn.outbound))
}
