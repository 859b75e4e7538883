// Package reconcile repairs subscription state the webhook path could not.
//
// Two tasks run on every pass:
//
//   - dead-letters: failed webhook events are replayed through the
//     reconciler's apply path. A replay that succeeds resolves the letter;
//     one that fails bumps its attempt count until MaxAttempts is reached.
//   - resync: active subscriptions whose period has ended are fetched from
//     the payment provider and applied as a subscription.updated event, which
//     recovers renewals whose webhook never arrived.
//
// Items within a task are processed concurrently, bounded by Concurrency.
// A failing item never aborts its task; only listing failures do.
package reconcile
