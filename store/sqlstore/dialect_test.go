package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE items SET stock_quantity = stock_quantity + ? WHERE tenant_id = ? AND id = ? AND stock_quantity + ? >= 0`

	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t,
		`UPDATE items SET stock_quantity = stock_quantity + $1 WHERE tenant_id = $2 AND id = $3 AND stock_quantity + $4 >= 0`,
		Postgres.rebind(q))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"sqlite": SQLite, "SQLite3": SQLite, "postgres": Postgres, "pgx": Postgres, " postgresql ": Postgres,
	} {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on&_busy_timeout=5000", sqliteDSN(":memory:"))
	assert.Equal(t, "file.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", sqliteDSN("file.db?cache=shared"))
}

func TestLockSuffix(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", Postgres.lockSuffix())
	assert.Empty(t, SQLite.lockSuffix())
}
