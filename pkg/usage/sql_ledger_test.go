package usage

import (
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/storage"
)

var testPeriod = Entitlement{
	PlanID:      "free",
	Limit:       5,
	PeriodStart: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	PeriodEnd:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
}

// newSQLiteLedger returns a ledger on a migrated file-backed SQLite database
func newSQLiteLedger(t *testing.T) (*SQLLedger, *sql.DB) {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.DatabaseURL = "file:" + filepath.Join(t.TempDir(), "usage.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	cfg.MaxOpenConns = 1

	db, dialect, err := storage.OpenDB(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db, dialect))

	return NewSQLLedger(db, dialect, nil), db
}

func TestSQLLedger_Postgres_ConsumeAllowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLLedger(db, storage.Postgres, nil)

	mock.ExpectExec(regexp.QuoteMeta(upsertUsageQuery)).
		WithArgs("u1", testPeriod.PeriodStart, testPeriod.PeriodEnd, 5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(incrementUsageQuery)).
		WithArgs("u1", testPeriod.PeriodStart).
		WillReturnRows(sqlmock.NewRows([]string{"generations_used", "generations_limit"}).AddRow(3, 5))

	u, ok, err := ledger.Consume(context.Background(), "u1", testPeriod)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, u.Used)
	assert.Equal(t, 5, u.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_Postgres_ConsumeDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLLedger(db, storage.Postgres, nil)

	mock.ExpectExec(regexp.QuoteMeta(upsertUsageQuery)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(incrementUsageQuery)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(selectUsageQuery)).
		WithArgs("u1", testPeriod.PeriodStart).
		WillReturnRows(sqlmock.NewRows([]string{"generations_used", "generations_limit"}).AddRow(5, 5))

	u, ok, err := ledger.Consume(context.Background(), "u1", testPeriod)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, u.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_Postgres_ConnectionFailureIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"connection refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}},
		{"connection failure", &pq.Error{Code: "08006", Message: "connection failure"}},
		{"too many connections", &pq.Error{Code: "53300", Message: "too many connections"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			ledger := NewSQLLedger(db, storage.Postgres, nil)

			mock.ExpectExec(regexp.QuoteMeta(upsertUsageQuery)).
				WillReturnError(tt.err)

			_, ok, err := ledger.Consume(context.Background(), "u1", testPeriod)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrStoreUnavailable)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLLedger_Postgres_QueryErrorIsNotUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLLedger(db, storage.Postgres, nil)

	mock.ExpectExec(regexp.QuoteMeta(upsertUsageQuery)).
		WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})

	_, ok, err := ledger.Consume(context.Background(), "u1", testPeriod)
	assert.False(t, ok)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestSQLLedger_AtLimitLeavesCounterUnchanged(t *testing.T) {
	ledger, db := newSQLiteLedger(t)
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
	assert.Equal(t, 2, u.Limit)

	var used int
	require.NoError(t, db.QueryRow(`SELECT generations_used FROM user_usage WHERE user_id = 'u1'`).Scan(&used))
	assert.Equal(t, 2, used)
}

func TestSQLLedger_ConcurrentConsumeExactlyRemaining(t *testing.T) {
	ledger, _ := newSQLiteLedger(t)
	ctx := context.Background()
	ent := testPeriod
	ent.Limit = 7

	const callers = 25
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
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

	assert.Equal(t, int32(7), granted.Load())

	u, err := ledger.Get(ctx, "u1", ent)
	require.NoError(t, err)
	assert.Equal(t, 7, u.Used)
}

func TestSQLLedger_LimitRefreshedOnUpgrade(t *testing.T) {
	ledger, _ := newSQLiteLedger(t)
	ctx := context.Background()

	free := testPeriod
	free.Limit = 1
	_, ok, err := ledger.Consume(ctx, "u1", free)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = ledger.Consume(ctx, "u1", free)
	require.NoError(t, err)
	require.False(t, ok)

	// Same period, higher plan limit: the ceiling rises immediately.
	pro := free
	pro.PlanID = "pro"
	pro.Limit = 400
	u, ok, err := ledger.Consume(ctx, "u1", pro)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, u.Used)
	assert.Equal(t, 400, u.Limit)
}

func TestSQLLedger_NewPeriodStartsAtZero(t *testing.T) {
	ledger, db := newSQLiteLedger(t)
	ctx := context.Background()

	_, _, err := ledger.Consume(ctx, "u1", testPeriod)
	require.NoError(t, err)

	next := testPeriod
	next.PeriodStart = testPeriod.PeriodEnd
	next.PeriodEnd = testPeriod.PeriodEnd.AddDate(0, 1, 0)
	u, ok, err := ledger.Consume(ctx, "u1", next)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, u.Used)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_usage WHERE user_id = 'u1'`).Scan(&rows))
	assert.Equal(t, 2, rows)
}

func TestSQLLedger_GetDoesNotCreate(t *testing.T) {
	ledger, db := newSQLiteLedger(t)

	u, err := ledger.Get(context.Background(), "nobody", testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Used)
	assert.Equal(t, 5, u.Limit)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_usage`).Scan(&rows))
	assert.Equal(t, 0, rows)
}
