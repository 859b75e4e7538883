package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/storage"
)

// ErrQuotaExceeded is returned by callers that turn a refused Consume into
// an error
var ErrQuotaExceeded = errors.New("usage limit exceeded")

// Gate guards the metered operation: it resolves the caller's entitlement
// and consumes one unit from the ledger
type Gate struct {
	ledger   Ledger
	resolver EntitlementResolver
	metrics  *observability.Metrics
}

// NewGate creates a quota gate
func NewGate(ledger Ledger, resolver EntitlementResolver, metrics *observability.Metrics) *Gate {
	return &Gate{ledger: ledger, resolver: resolver, metrics: metrics}
}

// CheckAndConsume returns true and consumes one generation when the user
// has allowance left. Store failures are returned as errors wrapping
// ErrStoreUnavailable when the store could not be reached; callers must
// treat every error as a denial.
func (g *Gate) CheckAndConsume(ctx context.Context, userID string) (bool, error) {
	_, ok, err := g.Consume(ctx, userID)
	return ok, err
}

// Consume is CheckAndConsume that also returns the counter after the call
func (g *Gate) Consume(ctx context.Context, userID string) (Usage, bool, error) {
	ent, err := g.resolver.Entitlement(ctx, userID)
	if err != nil {
		g.metrics.ObserveQuotaDecision("error")
		return Usage{}, false, fmt.Errorf("failed to resolve entitlement: %w", storage.Classify(err))
	}

	u, ok, err := g.ledger.Consume(ctx, userID, ent)
	if err != nil {
		g.metrics.ObserveQuotaDecision("error")
		return Usage{}, false, err
	}

	if ok {
		g.metrics.ObserveQuotaDecision("allowed")
	} else {
		g.metrics.ObserveQuotaDecision("denied")
	}
	return u, ok, nil
}

// Usage reads the caller's counter for the current entitlement without
// consuming
func (g *Gate) Usage(ctx context.Context, userID string) (Usage, error) {
	ent, err := g.resolver.Entitlement(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to resolve entitlement: %w", storage.Classify(err))
	}
	return g.ledger.Get(ctx, userID, ent)
}
