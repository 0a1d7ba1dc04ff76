// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes server composition and endpoint layout

// Package gateway assembles the server from its components and runs it.
//
// A Gateway owns the SQLite store, the JWT verifier, the agency manager,
// the WebSocket connection registry, and a single HTTP server exposing:
//
//   - /ws/{client_id}: the chat WebSocket (per-message auth)
//   - /api/sessions, /api/sessions/{id}/transcript: session management
//   - /api/agencies: available agency definitions
//   - /api/variables, /api/variables/{name}: encrypted user variables
//   - /health, /health/ready: liveness and readiness
//
// The listener is a plain TCP socket or a Tailscale tsnet node depending
// on configuration. Shutdown drains the HTTP server, stops the agency
// manager, and closes the store.
package gateway
