// Package ws manages client WebSocket connections.
//
// # Registry
//
// The Registry maps opaque client identifiers to live connections:
//
//	reg := ws.NewRegistry(logger)
//	reg.Register(conn)
//	err := reg.Send(clientID, frame)
//	reg.Unregister(conn)
//
// At most one connection is registered per identifier; a later registration
// for the same identifier replaces the previous entry without closing it.
// Unregister compares identity, so the replaced connection's handler cannot
// evict its replacement on the way out.
//
// # Connection
//
// Connection serializes all writes to one WebSocket through a buffered FIFO
// queue drained by a single writer goroutine. Producers on any goroutine call
// Enqueue, which never blocks: it fails fast with ErrConnectionClosed once the
// transport is gone, and drops frames (with a warning) if the peer cannot keep
// up. A few queue slots are reserved for EnqueueFinal so the end-of-cycle
// frames still deliver under a streaming backlog. Frames enqueued by one
// producer are written in enqueue order.
//
// This is the handoff point between worker goroutines running blocking
// completion calls and the connection's writer: ordering within a completion
// is preserved because the relay is the only producer for its cycle and the
// queue is FIFO.
package ws
