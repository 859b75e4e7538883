// Package billing keeps each user's subscription record consistent with the
// payment provider and answers entitlement questions for the usage gate.
//
// # Components
//
// Store persists subscription records, the payment log and the webhook
// dead-letter log. SQLStore runs the same statements on Postgres and SQLite.
//
// Reconciler applies provider lifecycle events:
//
//	checkout.session.completed  upsert by metadata user_id, status active
//	subscription.created        upsert by metadata user_id, status verbatim
//	subscription.updated        update by external subscription id
//	subscription.cancelled      update by external subscription id
//	payment.succeeded/failed    append to the payment log
//
// Every handler returns a Result. Update-only handlers are no-ops when the
// record does not exist, and payment inserts ignore redeliveries, so events
// may be replayed. Handle dead-letters failed events; the reconcile job
// replays them through Apply.
//
// Service exposes checkout, status and cancel, and implements
// usage.EntitlementResolver:
//
//	gate := usage.NewGate(ledger, svc, metrics)
//	ok, err := gate.CheckAndConsume(ctx, userID)
//
// # Webhook authentication
//
// HMACDecoder verifies the hex HMAC-SHA256 of the raw body in X-Signature
// (or creem-signature). Provider-specific decoders live in pkg/payment.
package billing
