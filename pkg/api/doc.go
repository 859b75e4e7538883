// Package api exposes the billing, usage and generation endpoints over HTTP.
//
// # Routes
//
//	POST /api/webhooks/payments        provider webhook (alias /api/webhooks/creem)
//	POST /api/checkout                 start a checkout (alias /api/create-checkout-session)
//	GET  /api/subscription/status      plan, status and usage for the caller
//	POST /api/subscription/cancel      cancel the caller's subscription
//	POST /api/usage/check              consume one generation
//	POST /api/generate                 quota-gated image edit
//	GET  /api/plans                    plan catalog
//	GET  /health, /health/live, /health/ready
//	GET  /metrics
//
// Everything except webhooks, plans, health and metrics requires a bearer
// token.
//
// # Errors
//
// Errors are JSON {"error": "..."}; see writeError for the status mapping.
// Webhook deliveries that pass signature and parse checks are always
// acknowledged with 200, even when applying them fails.
package api
