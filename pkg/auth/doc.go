// Package auth verifies bearer tokens and carries the caller's identity
// through the request context.
//
// Verifiers:
//
//	JWTVerifier      HS256 tokens with sub and email claims
//	OIDCVerifier     ID tokens from an OpenID Connect issuer
//	StaticVerifier   fixed token map for local development
//	CachingVerifier  LRU cache in front of any verifier
//
// NewVerifier builds the one selected by AUTH_MODE.
package auth
