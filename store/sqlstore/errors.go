package sqlstore

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/ledger-engine/ledger"
)

// uniqueViolation reports whether err is a unique constraint failure and
// returns the constraint detail (Postgres constraint name, SQLite column
// list) for classification.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return liteErr.Error(), true
	}
	return "", false
}

// entryConflict maps a unique violation on entries to its domain error.
func entryConflict(err error) error {
	detail, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	switch {
	case strings.Contains(detail, "reversal_of"):
		return ledger.ErrAlreadyCancelled
	case strings.Contains(detail, "idempotency_key"):
		return ledger.ErrDuplicateIdempotencyKey
	default:
		return ledger.ErrDuplicateDocument
	}
}
