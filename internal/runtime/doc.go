// Package runtime talks to the upstream completion service.
//
// The OpenAI-backed Client is the production implementation of
// agency.Runtime. It performs the blocking synchronous network call the rest
// of the gateway is designed around: the session loop dispatches StreamTurn
// to a worker goroutine and the event sink carries incremental output back to
// the client connection. A 401 from upstream is surfaced as
// agency.ErrUpstreamAuth, which is fatal to the session.
package runtime
