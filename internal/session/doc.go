// ABOUTME: Package documentation for the session loop
// ABOUTME: Describes the per-connection message cycle and its error handling

// Package session drives the per-connection message loop.
//
// Each accepted WebSocket connection gets one HandleConnection call that
// owns it for its whole lifetime. Messages are processed strictly in
// order: parse, authenticate, resolve, run the completion, then send the
// transcript summary. Validation failures produce an error reply and the
// loop continues; credential and configuration failures produce an error
// reply and end the loop.
//
// Completions run on a worker goroutine with a context detached from the
// connection, so a client disconnect never cancels an in-flight upstream
// call. Streamed output for a departed client is dropped silently by the
// registry; the completed messages are still persisted.
package session
