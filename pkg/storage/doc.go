// Package storage opens and migrates the relational database, connects to
// Redis and archives blobs in S3-compatible object storage.
//
// # Databases
//
// Two database/sql drivers are supported: lib/pq for production and
// mattn/go-sqlite3 for development and tests. Queries are written once with
// Postgres-style $N placeholders and passed through Dialect.Rebind:
//
//	db, dialect, err := storage.OpenDB(ctx, cfg)
//	if err := storage.Migrate(ctx, db, dialect); err != nil {
//		return err
//	}
//	row := db.QueryRowContext(ctx, dialect.Rebind(`SELECT plan_id FROM user_subscriptions WHERE user_id = $1`), userID)
//
// Migrations are embedded per dialect under migrations/ and tracked in the
// schema_migrations table.
//
// # Errors
//
// Classify wraps connection-class failures (bad connections, timeouts,
// network errors, Postgres class 08/53/57, SQLite busy/locked) with
// ErrUnavailable. The quota path fails closed on it.
//
// # Related Packages
//
//   - pkg/usage: Usage ledgers on SQL and Redis
//   - pkg/billing: Subscription, payment log and dead letter stores
//   - pkg/imagegen: Archives generated images through ObjectStore
package storage
