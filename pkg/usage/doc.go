// Package usage meters image generations per user and billing period.
//
// A Ledger holds one counter per (user, period). Consume increments it only
// while it is below the entitlement limit, as a single conditional UPDATE on
// SQL backends or a Lua script on Redis, so concurrent callers can never
// overspend. Gate resolves the caller's entitlement (plan limit and period)
// and consumes one unit:
//
//	gate := usage.NewGate(ledger, billingService, metrics)
//	ok, err := gate.CheckAndConsume(ctx, userID)
//	if err != nil {
//		// fail closed
//	}
//
// Users without an active subscription get the free limit over the current
// UTC calendar month.
package usage
