package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/auth"
	"github.com/luguanhuang/nano-banana/pkg/billing"
	"github.com/luguanhuang/nano-banana/pkg/imagegen"
	"github.com/luguanhuang/nano-banana/pkg/middleware"
	"github.com/luguanhuang/nano-banana/pkg/observability"
	"github.com/luguanhuang/nano-banana/pkg/payment"
	"github.com/luguanhuang/nano-banana/pkg/plans"
	"github.com/luguanhuang/nano-banana/pkg/storage"
	"github.com/luguanhuang/nano-banana/pkg/usage"
)

const (
	testSecret  = "whsec_test"
	testSiteURL = "https://nano-banana.test"
)

type testEnv struct {
	server   *Server
	db       *sql.DB
	provider *payment.FakeProvider
	metrics  *observability.Metrics
}

type stubGenerator struct {
	out   *imagegen.Output
	err   error
	calls int
}

func (g *stubGenerator) Generate(ctx context.Context, userID string, req imagegen.Request) (*imagegen.Output, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.out, nil
}

func newTestEnv(t *testing.T, generator Generator) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := storage.DefaultConfig()
	cfg.DatabaseURL = "file:" + filepath.Join(t.TempDir(), "api.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	cfg.MaxOpenConns = 1
	db, dialect, err := storage.OpenDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(ctx, db, dialect))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	logger := observability.NopLogger()

	catalog := plans.NewRegistry(plans.DefaultCatalog(plans.DefaultFreeLimit), logger, metrics)
	store := billing.NewSQLStore(db, dialect)
	ledger := usage.NewSQLLedger(db, dialect, metrics)
	provider := payment.NewFakeProvider(testSiteURL)

	service := billing.NewService(billing.ServiceConfig{
		Store:    store,
		Provider: provider,
		Ledger:   ledger,
		Catalog:  catalog,
		SiteURL:  testSiteURL,
		Logger:   logger,
		Metrics:  metrics,
	})

	verifier := auth.NewStaticVerifier(map[string]auth.Identity{
		"tok-u1": {UserID: "u1", Email: "u1@example.com"},
		"tok-u2": {UserID: "u2", Email: "u2@example.com"},
	})

	server := NewServer(Options{
		Billing:   service,
		Webhooks:  billing.NewReconciler(store, catalog, logger, metrics),
		Decoder:   billing.NewHMACDecoder(testSecret),
		Verifier:  verifier,
		Quota:     usage.NewGate(ledger, service, metrics),
		Generator: generator,
		Plans:     catalog,
		RateLimit: middleware.NewRateLimitMiddleware(middleware.NewRateLimiter(middleware.PerMinuteRateLimitConfig(100))),
		Health:    observability.NewHealthChecker(db, nil, "test"),
		Metrics:   metrics,
		Gatherer:  registry,
		Logger:    logger,
	})

	return &testEnv{server: server, db: db, provider: provider, metrics: metrics}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) webhook(path string, body []byte, header, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if header != "" {
		req.Header.Set(header, signature)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) count(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow(query, args...).Scan(&n))
	return n
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
