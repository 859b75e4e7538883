package billing

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/plans"
	"github.com/luguanhuang/nano-banana/pkg/storage"
)

var testCatalog = plans.DefaultCatalog(plans.DefaultFreeLimit)

func newSQLiteStore(t *testing.T) (*SQLStore, *sql.DB) {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.DatabaseURL = "file:" + filepath.Join(t.TempDir(), "billing.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	cfg.MaxOpenConns = 1

	db, dialect, err := storage.OpenDB(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db, dialect))

	return NewSQLStore(db, dialect), db
}

func countRows(t *testing.T, db *sql.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

// stubProvider records calls and returns canned results
type stubProvider struct {
	mu          sync.Mutex
	session     *CheckoutSession
	checkoutErr error
	cancelErr   error
	subs        map[string]*ProviderSubscription

	checkouts []CheckoutParams
	cancelled []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, params)
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	if p.session != nil {
		return p.session, nil
	}
	return &CheckoutSession{ID: "cs_test", URL: "https://pay.example.com/cs_test"}, nil
}

func (p *stubProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		return sub, nil
	}
	return nil, errors.New("subscription not found")
}

func (p *stubProvider) CancelSubscription(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, id)
	return p.cancelErr
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
