// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error reply has the shape {"error": "..."} so clients can rely on a
// single field:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "planId is required")
//	httputil.WriteTooManyRequests(w, "Usage limit exceeded")
//
// # Request Parsing
//
//	var req CheckoutRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Webhook handlers need the exact bytes for signature checks:
//
//	body, err := httputil.ReadBody(r, 1<<20)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication, quota and rate limiting middleware
package httputil
