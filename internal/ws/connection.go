// ABOUTME: Represents a single connected chat client and owns its WebSocket writes
// ABOUTME: Serializes outbound frames through a FIFO queue drained by one writer goroutine

package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrConnectionClosed indicates the underlying transport is already closed.
var ErrConnectionClosed = errors.New("connection closed")

const (
	// outboundBufferSize bounds the per-connection frame queue. Streaming
	// producers never block on it; overflow frames are dropped with a warning.
	outboundBufferSize = 256

	// finalFrameHeadroom slots are off limits to best-effort Enqueue. A
	// backlog of streaming deltas cannot crowd out the completed message or
	// the transcript summary at the end of a cycle.
	finalFrameHeadroom = 4

	// writeTimeout bounds a single frame write to a slow or stuck peer.
	writeTimeout = 10 * time.Second
)

// Connection wraps one client WebSocket. All outbound frames pass through
// Enqueue and are written in FIFO order by a single goroutine, so writes are
// never interleaved and producers on other goroutines never block on I/O.
type Connection struct {
	ID string

	conn     *websocket.Conn
	outbound chan any
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool

	done chan struct{}
}

// NewConnection creates a Connection for an accepted WebSocket and starts its
// writer goroutine. The goroutine exits when Close is called or a write fails.
func NewConnection(ctx context.Context, id string, conn *websocket.Conn, logger *slog.Logger) *Connection {
	c := &Connection{
		ID:       id,
		conn:     conn,
		outbound: make(chan any, outboundBufferSize),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go c.writeLoop(ctx)
	return c
}

// Enqueue schedules a frame for delivery. It never blocks: if the connection
// is closed it returns ErrConnectionClosed, and if the queue is near capacity
// the frame is dropped with a warning (the peer is too slow to matter).
func (c *Connection) Enqueue(msg any) error {
	return c.enqueue(msg, false)
}

// EnqueueFinal schedules a must-deliver frame. It may use the headroom slots
// that Enqueue leaves free, so end-of-cycle frames survive a delta backlog.
func (c *Connection) EnqueueFinal(msg any) error {
	return c.enqueue(msg, true)
}

func (c *Connection) enqueue(msg any, final bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if !final && len(c.outbound) >= cap(c.outbound)-finalFrameHeadroom {
		c.logger.Warn("outbound queue full, dropping frame", "client_id", c.ID)
		return nil
	}

	select {
	case c.outbound <- msg:
		return nil
	default:
		c.logger.Warn("outbound queue full, dropping final frame", "client_id", c.ID)
		return nil
	}
}

// Close stops the writer goroutine and marks the connection closed.
// It does not close the underlying WebSocket; the accept handler owns that.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.outbound)
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// writeLoop drains the outbound queue in order. A failed write closes the
// connection for further enqueues; remaining queued frames are discarded.
func (c *Connection) writeLoop(ctx context.Context) {
	defer close(c.done)

	for msg := range c.outbound {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, c.conn, msg)
		cancel()

		if err != nil {
			c.logger.Debug("write failed, closing connection",
				"client_id", c.ID,
				"error", err,
			)
			c.Close()
			for range c.outbound {
			}
			return
		}
	}
}
