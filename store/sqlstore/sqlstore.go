/*
Package sqlstore provides the SQL-backed implementation of the ledger stores.

PURPOSE:
  Implements ledger.TxStore, ledger.Admin and outbox.Store on database/sql
  for two backends: SQLite (mattn/go-sqlite3) and PostgreSQL (pgx stdlib).
  Queries are written once with ? placeholders and rebound per dialect.

KEY TABLES:
  accounts:      Customer/supplier records with the cached balance
  items:         Products with stock_quantity (CHECK >= 0)
  entries:       Append-only journal, one row per document
  doc_sequences: Counters keyed by (tenant, series, period)
  outbox_events: Events written in the same transaction as their entry

CONTENTION:
  The database arbitrates every race; the application never reads a value,
  decides, and writes it back:
  - Counters: INSERT ... ON CONFLICT DO UPDATE SET seq = seq + 1 RETURNING seq
  - Stock:    UPDATE ... WHERE stock_quantity + ? >= 0 RETURNING stock_quantity
  - Cancel:   UPDATE ... WHERE status = 'active', plus a unique index on
              (tenant_id, reversal_of)
  - Account:  SELECT ... FOR UPDATE on Postgres

SQLITE:
  Opened with a single connection, so transactions are serialized by the
  pool and ":memory:" databases are shared by every caller. Every read
  inside WithTx goes through the *sql.Tx; reaching for the pool from
  inside a unit would wait forever.

USAGE:
  st, err := sqlstore.Open(ctx, "sqlite", "./data/ledger.db")
  if err != nil {
      return err
  }
  defer st.Close()

  coord := ledger.NewCoordinator(st, cfg)

MIGRATION:
  Schema is auto-migrated on Open with CREATE ... IF NOT EXISTS.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.TxStore, ledger.Admin and outbox.Store.
type Store struct {
	queries
	db *sql.DB
}

// Open connects to the database and migrates the schema.
// Use dsn ":memory:" with the sqlite driver for an in-memory database.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}

	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxIdleConns(8)
		db.SetMaxOpenConns(30)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{queries: queries{q: db, dialect: dialect}, db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	params := "_foreign_keys=on&_busy_timeout=5000"
	if dsn != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the backend the store talks to.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema(), ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Unit) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&unit{queries: queries{q: sqlTx, dialect: s.dialect}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if conflict := entryConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
