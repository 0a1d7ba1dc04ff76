// Package store persists sessions, agency definitions, transcripts, and
// encrypted user variables.
//
// The SQLite implementation (modernc.org/sqlite, no cgo) bootstraps its own
// schema and runs in WAL mode. Use ":memory:" as the path in tests.
//
// Agency definitions are stored as a single JSON document per row rather than
// normalized tables; the gateway only ever reads a whole definition at once.
// Thread identifiers live on the session as a JSON map keyed by agent pair.
//
// Variable values are opaque ciphertext at this layer; encryption belongs to
// the secrets package.
package store
