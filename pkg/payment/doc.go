// Package payment implements billing.Provider for the supported payment
// providers and the webhook decoders that go with them.
//
//	fake    in-memory provider for development; checkout URLs point at the
//	        local mock checkout page. Webhooks use the shared-secret HMAC.
//	creem   Creem REST API (x-api-key). Webhooks use the shared-secret HMAC.
//	stripe  stripe-go client. Webhooks are verified from Stripe-Signature and
//	        translated into billing events.
//
// New selects the provider and decoder once from configuration:
//
//	provider, decoder, err := payment.New(cfg.Payment, payment.Options{SiteURL: cfg.Server.SiteURL})
package payment
