package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/storage"
)

const (
	upsertUsageQuery = `INSERT INTO user_usage (user_id, period_start, period_end, generations_used, generations_limit)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (user_id, period_start) DO UPDATE SET
	generations_limit = EXCLUDED.generations_limit,
	period_end = EXCLUDED.period_end,
	updated_at = CURRENT_TIMESTAMP`

	incrementUsageQuery = `UPDATE user_usage
SET generations_used = generations_used + 1, updated_at = CURRENT_TIMESTAMP
WHERE user_id = $1 AND period_start = $2 AND generations_used < generations_limit
RETURNING generations_used, generations_limit`

	selectUsageQuery = `SELECT generations_used, generations_limit FROM user_usage
WHERE user_id = $1 AND period_start = $2`
)

// SQLLedger keeps counters in the user_usage table
type SQLLedger struct {
	db      *sql.DB
	dialect storage.Dialect
	metrics *observability.Metrics
}

// NewSQLLedger creates a ledger on db
func NewSQLLedger(db *sql.DB, dialect storage.Dialect, metrics *observability.Metrics) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, metrics: metrics}
}

// Consume refreshes the period row's limit from the entitlement, creating
// the row on first use, then runs a single conditional increment. The
// WHERE clause makes the check and the increment one atomic step.
func (l *SQLLedger) Consume(ctx context.Context, userID string, ent Entitlement) (Usage, bool, error) {
	defer l.metrics.ObserveLedger("sql", "consume", time.Now())

	start, end := ent.PeriodStart.UTC(), ent.PeriodEnd.UTC()

	if _, err := l.db.ExecContext(ctx, l.dialect.Rebind(upsertUsageQuery), userID, start, end, ent.Limit); err != nil {
		return Usage{}, false, fmt.Errorf("failed to ensure usage row: %w", storage.Classify(err))
	}

	u := Usage{PeriodStart: start, PeriodEnd: end}
	err := l.db.QueryRowContext(ctx, l.dialect.Rebind(incrementUsageQuery), userID, start).Scan(&u.Used, &u.Limit)
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Usage{}, false, fmt.Errorf("failed to increment usage: %w", storage.Classify(err))
	}

	// Nothing updated: the counter is at its limit.
	err = l.db.QueryRowContext(ctx, l.dialect.Rebind(selectUsageQuery), userID, start).Scan(&u.Used, &u.Limit)
	if err != nil {
		return Usage{}, false, fmt.Errorf("failed to read usage: %w", storage.Classify(err))
	}
	return u, false, nil
}

// Get reads the counter for the entitlement's period. The limit reported
// is the entitlement's, which is what the next Consume will enforce.
func (l *SQLLedger) Get(ctx context.Context, userID string, ent Entitlement) (Usage, error) {
	defer l.metrics.ObserveLedger("sql", "get", time.Now())

	start := ent.PeriodStart.UTC()
	u := Usage{Limit: ent.Limit, PeriodStart: start, PeriodEnd: ent.PeriodEnd.UTC()}

	var storedLimit int
	err := l.db.QueryRowContext(ctx, l.dialect.Rebind(selectUsageQuery), userID, start).Scan(&u.Used, &storedLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage: %w", storage.Classify(err))
	}
	return u, nil
}
