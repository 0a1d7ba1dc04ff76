// Package relay bridges a blocking completion call to a client connection.
//
// The completion call runs on its own goroutine and fires notification
// callbacks as the upstream stream arrives. The Relay translates each
// notification into the corresponding wire frame and posts it to the
// connection's FIFO outbound queue, then returns immediately. Notifications
// are therefore delivered to the client in exactly the order the worker
// emitted them, and a disconnected client never stalls or aborts the
// in-flight completion: its frames are simply dropped.
package relay
