// Package auth verifies client access tokens and propagates call identity.
//
// Chat clients authenticate with an HS256-signed JWT carried in every
// user_message frame; API clients carry the same token as a bearer header.
// The "sub" claim holds the user ID. Verification failures are classified
// as ErrInvalidToken, ErrExpiredToken, or ErrMissingClaim.
//
// CallContext travels with each completion cycle via WithCall/CallFromContext
// so that downstream resolution (per-user API keys, agency settings) sees the
// identity of exactly the call it is serving.
package auth
