package usage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/observability"
)

type staticResolver struct {
	ent Entitlement
	err error
}

func (r staticResolver) Entitlement(ctx context.Context, userID string) (Entitlement, error) {
	return r.ent, r.err
}

type failingLedger struct{ err error }

func (l failingLedger) Consume(ctx context.Context, userID string, ent Entitlement) (Usage, bool, error) {
	return Usage{}, false, l.err
}

func (l failingLedger) Get(ctx context.Context, userID string, ent Entitlement) (Usage, error) {
	return Usage{}, l.err
}

func TestGate_CheckAndConsume(t *testing.T) {
	ledger, _ := newRedisLedger(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ent := testPeriod
	ent.Limit = 1

	gate := NewGate(ledger, staticResolver{ent: ent}, metrics)

	ok, err := gate.CheckAndConsume(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.CheckAndConsume(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QuotaDecisionsTotal.WithLabelValues("allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QuotaDecisionsTotal.WithLabelValues("denied")))

	u, err := gate.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Used)
}

func TestGate_ResolverFailureIsUnavailable(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gate := NewGate(failingLedger{}, staticResolver{err: driver.ErrBadConn}, metrics)

	ok, err := gate.CheckAndConsume(context.Background(), "u1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QuotaDecisionsTotal.WithLabelValues("error")))
}

func TestGate_LedgerErrorDenies(t *testing.T) {
	boom := errors.New("boom")
	gate := NewGate(failingLedger{err: boom}, staticResolver{ent: testPeriod}, nil)

	ok, err := gate.CheckAndConsume(context.Background(), "u1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}
