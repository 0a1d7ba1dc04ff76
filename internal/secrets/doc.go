// Package secrets stores per-user variables (API keys, tokens referenced by
// agency definitions) encrypted at rest with nacl/secretbox. The vault key
// comes from configuration; a wrong key surfaces as ErrCorrupt on read, never
// as plaintext.
package secrets
