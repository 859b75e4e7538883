package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/storage"
)

// Counters outlive their period so status reads after rollover still see
// the last period's usage.
const redisRetention = 7 * 24 * time.Hour

// consumeScript refreshes the limit and increments used only while it is
// below the limit. Returns {consumed, used, limit}.
var consumeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
redis.call('HSET', KEYS[1], 'limit', limit)
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local consumed = 0
if used < limit then
	used = redis.call('HINCRBY', KEYS[1], 'used', 1)
	consumed = 1
end
redis.call('EXPIREAT', KEYS[1], ARGV[2])
return {consumed, used, limit}
`)

// RedisLedger keeps counters in Redis hashes keyed by user and period
type RedisLedger struct {
	client  *redis.Client
	metrics *observability.Metrics
}

// NewRedisLedger creates a ledger on client
func NewRedisLedger(client *redis.Client, metrics *observability.Metrics) *RedisLedger {
	return &RedisLedger{client: client, metrics: metrics}
}

func usageKey(userID string, periodStart time.Time) string {
	return fmt.Sprintf("usage:%s:%d", userID, periodStart.UTC().Unix())
}

// Consume runs the check and increment as one Lua script
func (l *RedisLedger) Consume(ctx context.Context, userID string, ent Entitlement) (Usage, bool, error) {
	defer l.metrics.ObserveLedger("redis", "consume", time.Now())

	expireAt := ent.PeriodEnd
	if now := time.Now(); expireAt.Before(now) {
		expireAt = now
	}
	res, err := consumeScript.Run(ctx, l.client, []string{usageKey(userID, ent.PeriodStart)}, ent.Limit, expireAt.Add(redisRetention).Unix()).Int64Slice()
	if err != nil {
		return Usage{}, false, fmt.Errorf("failed to consume usage: %w", storage.Classify(err))
	}
	if len(res) != 3 {
		return Usage{}, false, fmt.Errorf("unexpected consume script result: %v", res)
	}

	u := Usage{
		Used:        int(res[1]),
		Limit:       int(res[2]),
		PeriodStart: ent.PeriodStart.UTC(),
		PeriodEnd:   ent.PeriodEnd.UTC(),
	}
	return u, res[0] == 1, nil
}

// Get reads the counter without creating it
func (l *RedisLedger) Get(ctx context.Context, userID string, ent Entitlement) (Usage, error) {
	defer l.metrics.ObserveLedger("redis", "get", time.Now())

	u := Usage{Limit: ent.Limit, PeriodStart: ent.PeriodStart.UTC(), PeriodEnd: ent.PeriodEnd.UTC()}

	used, err := l.client.HGet(ctx, usageKey(userID, ent.PeriodStart), "used").Result()
	if errors.Is(err, redis.Nil) {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage: %w", storage.Classify(err))
	}

	u.Used, err = strconv.Atoi(used)
	if err != nil {
		return Usage{}, fmt.Errorf("corrupt usage counter %q: %w", used, err)
	}
	return u, nil
}
