package billing

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/storage"
)

func TestSQLStore_Postgres_UpsertSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, storage.Postgres)
	start := time.Unix(1700000000, 0).UTC()
	end := time.Unix(1702592000, 0).UTC()

	mock.ExpectExec(regexp.QuoteMeta(upsertSubscriptionQuery)).
		WithArgs("u1", "pro", "sub_1", "cus_1", StatusActive, start, end, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.UpsertSubscription(context.Background(), SubscriptionUpsert{
		UserID:                 "u1",
		PlanID:                 "pro",
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		Status:                 StatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_UpsertWithoutPlanKeepsStored(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, storage.Postgres)

	mock.ExpectExec(regexp.QuoteMeta(upsertSubscriptionQuery)).
		WithArgs("u1", "free", nil, nil, StatusTrialing, nil, nil, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.UpsertSubscription(context.Background(), SubscriptionUpsert{UserID: "u1", Status: StatusTrialing})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_UpdateUnknownSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, storage.Postgres)

	mock.ExpectExec(regexp.QuoteMeta(updateSubscriptionQuery)).
		WithArgs("sub_missing", StatusPastDue, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := store.UpdateSubscription(context.Background(), "sub_missing", SubscriptionUpdate{Status: StatusPastDue})
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_ActiveSubscriptionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, storage.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta(selectActiveSubscriptionQuery)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = store.ActiveSubscription(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_Postgres_ConnectionFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, storage.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta(selectActiveSubscriptionQuery)).
		WithArgs("u1").
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	_, err = store.ActiveSubscription(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_PaymentLogDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, storage.Postgres)

	mock.ExpectExec(regexp.QuoteMeta(insertPaymentLogQuery)).
		WithArgs("pay_1", "u1", nil, int64(1950), "usd", PaymentSucceeded, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := store.InsertPaymentLog(context.Background(), PaymentLog{
		ExternalPaymentID: "pay_1",
		UserID:            "u1",
		Amount:            1950,
		Currency:          "usd",
		Status:            PaymentSucceeded,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SQLite_SubscriptionLifecycle(t *testing.T) {
	store, db := newSQLiteStore(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0).UTC()
	end := time.Unix(1702592000, 0).UTC()

	require.NoError(t, store.UpsertSubscription(ctx, SubscriptionUpsert{
		UserID:                 "u1",
		PlanID:                 "basic",
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		Status:                 StatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}))

	sub, err := store.ActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "basic", sub.PlanID)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", sub.ExternalCustomerID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
	assert.Nil(t, sub.CancelledAt)

	// upsert without a plan or ids keeps what is stored
	require.NoError(t, store.UpsertSubscription(ctx, SubscriptionUpsert{UserID: "u1", Status: StatusActive}))
	sub, err = store.ActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "basic", sub.PlanID)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
	assert.Equal(t, start, *sub.CurrentPeriodStart)

	found, err := store.UpdateSubscription(ctx, "sub_1", SubscriptionUpdate{Status: StatusActive, PlanID: "max"})
	require.NoError(t, err)
	assert.True(t, found)

	sub, err = store.ActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "max", sub.PlanID)

	cancelledAt := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	found, err = store.CancelByExternalID(ctx, "sub_1", cancelledAt)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = store.ActiveSubscription(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM user_subscriptions WHERE user_id = ? AND status = 'cancelled'`, "u1"))
}

func TestSQLStore_SQLite_MarkCancelled(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSubscription(ctx, SubscriptionUpsert{UserID: "u1", PlanID: "pro", Status: StatusActive}))
	sub, err := store.ActiveSubscription(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, store.MarkCancelled(ctx, sub.ID, time.Now()))
	assert.ErrorIs(t, store.MarkCancelled(ctx, sub.ID+100, time.Now()), ErrNotFound)
}

func TestSQLStore_SQLite_StaleSubscriptions(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	require.NoError(t, store.UpsertSubscription(ctx, SubscriptionUpsert{
		UserID: "stale", PlanID: "pro", ExternalSubscriptionID: "sub_stale", Status: StatusActive, CurrentPeriodEnd: &past,
	}))
	require.NoError(t, store.UpsertSubscription(ctx, SubscriptionUpsert{
		UserID: "fresh", PlanID: "pro", ExternalSubscriptionID: "sub_fresh", Status: StatusActive, CurrentPeriodEnd: &future,
	}))
	require.NoError(t, store.UpsertSubscription(ctx, SubscriptionUpsert{
		UserID: "local", PlanID: "pro", Status: StatusActive, CurrentPeriodEnd: &past,
	}))

	subs, err := store.StaleSubscriptions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_stale", subs[0].ExternalSubscriptionID)
}

func TestSQLStore_SQLite_PaymentLogIsWriteOnce(t *testing.T) {
	store, db := newSQLiteStore(t)
	ctx := context.Background()

	entry := PaymentLog{ExternalPaymentID: "pay_1", Amount: 1200, Currency: "usd", Status: PaymentSucceeded}

	inserted, err := store.InsertPaymentLog(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertPaymentLog(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	entry.Status = PaymentFailed
	inserted, err = store.InsertPaymentLog(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM payment_logs`))
}

func TestSQLStore_SQLite_DeadLetters(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertDeadLetter(ctx, DeadLetter{
		EventID: "evt_1", EventType: EventCheckoutCompleted, Payload: []byte(`{"type":"checkout.session.completed"}`), Error: "boom",
	}))
	require.NoError(t, store.InsertDeadLetter(ctx, DeadLetter{
		EventType: EventPaymentFailed, Payload: []byte(`{}`), Error: "boom",
	}))

	pending, err := store.PendingDeadLetters(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt_1", pending[0].EventID)
	assert.Equal(t, 0, pending[0].Attempts, "attempts count failed replays only")
	assert.JSONEq(t, `{"type":"checkout.session.completed"}`, string(pending[0].Payload))

	require.NoError(t, store.ResolveDeadLetter(ctx, pending[0].ID, time.Now()))
	require.NoError(t, store.RetryDeadLetter(ctx, pending[1].ID, "still broken"))
	require.NoError(t, store.RetryDeadLetter(ctx, pending[1].ID, "still broken"))

	pending, err = store.PendingDeadLetters(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "resolved and exhausted letters are skipped")

	pending, err = store.PendingDeadLetters(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "still broken", pending[0].Error)
}
