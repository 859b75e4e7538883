// Package middleware provides the HTTP middleware that guards the metered
// and authenticated API routes.
//
// # Components
//
// AuthMiddleware resolves a bearer token to an auth.Identity and stores it
// in the request context. Failures are answered with 401 JSON.
//
//	router.Use(middleware.Authenticate(verifier))
//
// RateLimitMiddleware limits requests per user (or per client IP for
// anonymous calls). The distributed variant counts in Redis with one key per
// fixed window and degrades to a per-process token bucket when Redis errors.
//
//	limiter := middleware.NewDistributedRateLimitMiddleware(redisClient, middleware.PerMinuteRateLimitConfig(30))
//	router.Use(limiter.Handler)
//
// QuotaMiddleware consumes one generation from the usage gate before the
// wrapped handler runs. Exhausted quota is 429 {"error":"Usage limit exceeded"};
// ledger failures are 500 and never let the request through.
//
//	generate.Use(middleware.QuotaGate(gate))
//
// # Ordering
//
// Authentication must run first: both the rate limiter and the quota gate
// read the identity it stores.
package middleware
