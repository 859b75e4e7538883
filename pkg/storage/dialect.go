package storage

import (
	"fmt"
	"regexp"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Dialect adapts queries written with Postgres $N placeholders to the
// configured driver. Both supported drivers understand ON CONFLICT and
// RETURNING, so only placeholders differ.
type Dialect struct {
	driver string
}

var numberedPlaceholder = regexp.MustCompile(`\$(\d+)`)

// DialectFor returns the dialect for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return Dialect{driver: driver}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Postgres is the dialect used in production
var Postgres = Dialect{driver: DriverPostgres}

// SQLite is the dialect used for development and tests
var SQLite = Dialect{driver: DriverSQLite}

// Driver returns the database/sql driver name
func (d Dialect) Driver() string {
	return d.driver
}

// Rebind rewrites $N placeholders to ?N for SQLite. SQLite binds ?N to the
// Nth argument, so reused and reordered placeholders keep their meaning.
func (d Dialect) Rebind(query string) string {
	if d.driver != DriverSQLite {
		return query
	}
	return numberedPlaceholder.ReplaceAllString(query, "?$1")
}
