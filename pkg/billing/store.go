package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/storage"
)

// Store persists subscription records, payment logs and dead letters
type Store interface {
	ActiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, up SubscriptionUpsert) error
	UpdateSubscription(ctx context.Context, externalID string, upd SubscriptionUpdate) (bool, error)
	CancelByExternalID(ctx context.Context, externalID string, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id int64, at time.Time) error
	StaleSubscriptions(ctx context.Context, endedBefore time.Time, limit int) ([]Subscription, error)

	InsertPaymentLog(ctx context.Context, entry PaymentLog) (bool, error)

	InsertDeadLetter(ctx context.Context, dl DeadLetter) error
	PendingDeadLetters(ctx context.Context, maxAttempts, limit int) ([]DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id int64, at time.Time) error
	RetryDeadLetter(ctx context.Context, id int64, errMsg string) error
}

const subscriptionColumns = `id, user_id, plan_id, external_subscription_id, external_customer_id, status,
	current_period_start, current_period_end, cancelled_at, created_at, updated_at`

const (
	selectActiveSubscriptionQuery = `SELECT ` + subscriptionColumns + `
FROM user_subscriptions WHERE user_id = $1 AND status = 'active'`

	// $8 keeps the stored plan when the event carries none. A cancelled
	// record is only replaced by a different subscription id.
	upsertSubscriptionQuery = `INSERT INTO user_subscriptions
	(user_id, plan_id, external_subscription_id, external_customer_id, status, current_period_start, current_period_end)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
	plan_id = CASE WHEN $8 THEN user_subscriptions.plan_id ELSE EXCLUDED.plan_id END,
	external_subscription_id = COALESCE(EXCLUDED.external_subscription_id, user_subscriptions.external_subscription_id),
	external_customer_id = COALESCE(EXCLUDED.external_customer_id, user_subscriptions.external_customer_id),
	status = EXCLUDED.status,
	current_period_start = COALESCE(EXCLUDED.current_period_start, user_subscriptions.current_period_start),
	current_period_end = COALESCE(EXCLUDED.current_period_end, user_subscriptions.current_period_end),
	cancelled_at = NULL,
	updated_at = CURRENT_TIMESTAMP
WHERE NOT (user_subscriptions.status = 'cancelled'
	AND user_subscriptions.external_subscription_id IS NOT NULL
	AND EXCLUDED.external_subscription_id IS NOT NULL
	AND user_subscriptions.external_subscription_id = EXCLUDED.external_subscription_id)`

	updateSubscriptionQuery = `UPDATE user_subscriptions SET
	status = $2,
	plan_id = COALESCE($3, plan_id),
	current_period_start = COALESCE($4, current_period_start),
	current_period_end = COALESCE($5, current_period_end),
	updated_at = CURRENT_TIMESTAMP
WHERE external_subscription_id = $1 AND status <> 'cancelled'`

	cancelByExternalIDQuery = `UPDATE user_subscriptions
SET status = 'cancelled', cancelled_at = $2, updated_at = CURRENT_TIMESTAMP
WHERE external_subscription_id = $1 AND status <> 'cancelled'`

	cancelByIDQuery = `UPDATE user_subscriptions
SET status = 'cancelled', cancelled_at = $2, updated_at = CURRENT_TIMESTAMP
WHERE id = $1`

	selectStaleSubscriptionsQuery = `SELECT ` + subscriptionColumns + `
FROM user_subscriptions
WHERE status = 'active' AND external_subscription_id IS NOT NULL AND current_period_end < $1
ORDER BY current_period_end
LIMIT $2`

	insertPaymentLogQuery = `INSERT INTO payment_logs
	(external_payment_id, user_id, external_subscription_id, amount, currency, status, failure_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (external_payment_id, status) DO NOTHING`

	insertDeadLetterQuery = `INSERT INTO webhook_dead_letters (event_id, event_type, payload, error)
VALUES ($1, $2, $3, $4)`

	selectDeadLettersQuery = `SELECT id, event_id, event_type, payload, error, attempts, created_at
FROM webhook_dead_letters
WHERE resolved_at IS NULL AND attempts < $1
ORDER BY id
LIMIT $2`

	resolveDeadLetterQuery = `UPDATE webhook_dead_letters SET resolved_at = $2 WHERE id = $1`

	retryDeadLetterQuery = `UPDATE webhook_dead_letters SET attempts = attempts + 1, error = $2 WHERE id = $1`
)

// SQLStore implements Store on Postgres or SQLite
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewSQLStore creates a store on db
func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub                  Subscription
		externalSubscription sql.NullString
		externalCustomer     sql.NullString
		periodStart          sql.NullTime
		periodEnd            sql.NullTime
		cancelledAt          sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &externalSubscription, &externalCustomer, &sub.Status,
		&periodStart, &periodEnd, &cancelledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.ExternalSubscriptionID = externalSubscription.String
	sub.ExternalCustomerID = externalCustomer.String
	sub.CurrentPeriodStart = timePtr(periodStart)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	sub.CancelledAt = timePtr(cancelledAt)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

// ActiveSubscription returns the user's active record or ErrNotFound
func (s *SQLStore) ActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, s.dialect.Rebind(selectActiveSubscriptionQuery), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", storage.Classify(err))
	}
	return sub, nil
}

// UpsertSubscription creates or replaces the record owned by up.UserID.
// Empty ids and nil periods keep what is stored.
func (s *SQLStore) UpsertSubscription(ctx context.Context, up SubscriptionUpsert) error {
	planID := up.PlanID
	keepPlan := planID == ""
	if keepPlan {
		planID = "free"
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(upsertSubscriptionQuery),
		up.UserID, planID, nullString(up.ExternalSubscriptionID), nullString(up.ExternalCustomerID),
		up.Status, nullTime(up.CurrentPeriodStart), nullTime(up.CurrentPeriodEnd), keepPlan)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", storage.Classify(err))
	}
	return nil
}

// UpdateSubscription changes the record with externalID. It reports false
// when no live record matches; cancelled records are final.
func (s *SQLStore) UpdateSubscription(ctx context.Context, externalID string, upd SubscriptionUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(updateSubscriptionQuery),
		externalID, upd.Status, nullString(upd.PlanID), nullTime(upd.CurrentPeriodStart), nullTime(upd.CurrentPeriodEnd))
	if err != nil {
		return false, fmt.Errorf("failed to update subscription: %w", storage.Classify(err))
	}
	return affected(res)
}

// CancelByExternalID marks the record with externalID cancelled. It reports
// false when no live record matches, keeping the first cancelled_at.
func (s *SQLStore) CancelByExternalID(ctx context.Context, externalID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(cancelByExternalIDQuery), externalID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", storage.Classify(err))
	}
	return affected(res)
}

// MarkCancelled marks the record with the given row id cancelled
func (s *SQLStore) MarkCancelled(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(cancelByIDQuery), id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", storage.Classify(err))
	}
	found, err := affected(res)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// StaleSubscriptions lists active records whose period ended before
// endedBefore, oldest first
func (s *SQLStore) StaleSubscriptions(ctx context.Context, endedBefore time.Time, limit int) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectStaleSubscriptionsQuery), endedBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale subscriptions: %w", storage.Classify(err))
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stale subscriptions: %w", storage.Classify(err))
	}
	return subs, nil
}

// InsertPaymentLog appends a payment record. It reports false when the
// same (payment id, status) pair was already logged.
func (s *SQLStore) InsertPaymentLog(ctx context.Context, entry PaymentLog) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(insertPaymentLogQuery),
		entry.ExternalPaymentID, nullString(entry.UserID), nullString(entry.ExternalSubscriptionID),
		entry.Amount, entry.Currency, entry.Status, nullString(entry.FailureReason))
	if err != nil {
		return false, fmt.Errorf("failed to insert payment log: %w", storage.Classify(err))
	}
	return affected(res)
}

// InsertDeadLetter records a failed event
func (s *SQLStore) InsertDeadLetter(ctx context.Context, dl DeadLetter) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(insertDeadLetterQuery),
		nullString(dl.EventID), dl.EventType, string(dl.Payload), dl.Error)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", storage.Classify(err))
	}
	return nil
}

// PendingDeadLetters lists unresolved dead letters with fewer than
// maxAttempts attempts, oldest first
func (s *SQLStore) PendingDeadLetters(ctx context.Context, maxAttempts, limit int) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectDeadLettersQuery), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", storage.Classify(err))
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl      DeadLetter
			eventID sql.NullString
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &eventID, &dl.EventType, &payload, &dl.Error, &dl.Attempts, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.EventID = eventID.String
		dl.Payload = payload
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", storage.Classify(err))
	}
	return out, nil
}

// ResolveDeadLetter stamps a dead letter resolved
func (s *SQLStore) ResolveDeadLetter(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(resolveDeadLetterQuery), id, at.UTC()); err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", storage.Classify(err))
	}
	return nil
}

// RetryDeadLetter records another failed attempt
func (s *SQLStore) RetryDeadLetter(ctx context.Context, id int64, errMsg string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(retryDeadLetterQuery), id, errMsg); err != nil {
		return fmt.Errorf("failed to update dead letter: %w", storage.Classify(err))
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
