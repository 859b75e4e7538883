package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB opens a migrated SQLite database in a temp directory
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DatabaseURL = "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"

	db, dialect, err := OpenDB(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db, dialect))
	return db
}

func TestOpenDB_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "oracle"

	_, _, err := OpenDB(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpenDB_MissingURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseURL = ""

	_, _, err := OpenDB(context.Background(), cfg)
	assert.ErrorContains(t, err, "database URL is required")
}

func TestMigrate_CreatesTablesOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"user_subscriptions", "user_usage", "payment_logs", "webhook_dead_letters"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	// Second run is a no-op.
	require.NoError(t, Migrate(ctx, db, SQLite))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSplitStatements(t *testing.T) {
	script := `-- comment; with semicolon
CREATE TABLE a (id INTEGER);

-- another
CREATE INDEX idx ON a (id);
`
	stmts := splitStatements(script)
	assert.Equal(t, []string{"CREATE TABLE a (id INTEGER)", "CREATE INDEX idx ON a (id)"}, stmts)
}
