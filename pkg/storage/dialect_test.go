package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = DialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestDialect_Rebind(t *testing.T) {
	query := `UPDATE user_usage SET generations_used = generations_used + 1 WHERE user_id = $1 AND period_start = $2 AND $1 <> ''`

	assert.Equal(t, query, Postgres.Rebind(query))
	assert.Equal(t,
		`UPDATE user_usage SET generations_used = generations_used + 1 WHERE user_id = ?1 AND period_start = ?2 AND ?1 <> ''`,
		SQLite.Rebind(query),
	)
	assert.Equal(t, "SELECT ?10, ?2", SQLite.Rebind("SELECT $10, $2"))
}
