package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client, nil), mr
}

func TestRedisLedger_ConsumeUntilLimit(t *testing.T) {
	ledger, mr := newRedisLedger(t)
	ctx := context.Background()
	ent := testPeriod
	ent.Limit = 2

	for i := 1; i <= 2; i++ {
		u, ok, err := ledger.Consume(ctx, "u1", ent)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, u.Used)
	}

	u, ok, err := ledger.Consume(ctx, "u1", ent)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, u.Used)

	key := usageKey("u1", ent.PeriodStart)
	assert.Equal(t, "2", mr.HGet(key, "used"))
	assert.True(t, mr.TTL(key) > 0, "counter expires after the period")
}

func TestRedisLedger_ConcurrentConsumeExactlyRemaining(t *testing.T) {
	ledger, _ := newRedisLedger(t)
	ctx := context.Background()
	ent := testPeriod
	ent.Limit = 4

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ledger.Consume(ctx, "u1", ent)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), granted.Load())
}

func TestRedisLedger_GetMissingAndExisting(t *testing.T) {
	ledger, _ := newRedisLedger(t)
	ctx := context.Background()

	u, err := ledger.Get(ctx, "u1", testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Used)
	assert.Equal(t, 5, u.Limit)

	_, _, err = ledger.Consume(ctx, "u1", testPeriod)
	require.NoError(t, err)

	u, err = ledger.Get(ctx, "u1", testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Used)
}

func TestRedisLedger_UnavailableWhenServerDown(t *testing.T) {
	ledger, mr := newRedisLedger(t)
	mr.Close()

	_, ok, err := ledger.Consume(context.Background(), "u1", testPeriod)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
