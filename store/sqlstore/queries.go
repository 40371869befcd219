package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the reads shared by the store and its units.
type queries struct {
	q       querier
	dialect Dialect
}

func (qs queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return qs.q.ExecContext(ctx, qs.dialect.rebind(query), args...)
}

func (qs queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return qs.q.QueryContext(ctx, qs.dialect.rebind(query), args...)
}

func (qs queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return qs.q.QueryRowContext(ctx, qs.dialect.rebind(query), args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, tenant_id, display_name, kind, balance, total_sales, total_purchases, updated_at`

func (qs queries) GetAccount(ctx context.Context, tenantID ledger.TenantID, id ledger.AccountID) (ledger.Account, error) {
	return qs.account(ctx, tenantID, id, "")
}

func (qs queries) account(ctx context.Context, tenantID ledger.TenantID, id ledger.AccountID, suffix string) (ledger.Account, error) {
	row := qs.queryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? AND id = ?`+suffix,
		tenantID, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

func (qs queries) ListAccounts(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Account, error) {
	rows, err := qs.query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (qs queries) CreateAccount(ctx context.Context, a ledger.Account) error {
	if a.Kind == "" {
		a.Kind = ledger.AccountBoth
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	_, err := qs.exec(ctx, `
		INSERT INTO accounts (id, tenant_id, display_name, kind, balance, total_sales, total_purchases, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.DisplayName, a.Kind,
		a.Balance, a.TotalSales, a.TotalPurchases, formatTime(a.UpdatedAt),
	)
	if _, dup := uniqueViolation(err); dup {
		return fmt.Errorf("account %s: %w", a.ID, ledger.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		updatedAt string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.DisplayName, &a.Kind,
		&a.Balance, &a.TotalSales, &a.TotalPurchases, &updatedAt); err != nil {
		return ledger.Account{}, err
	}
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// ITEMS
// =============================================================================

func (qs queries) GetItem(ctx context.Context, tenantID ledger.TenantID, id ledger.ItemID) (ledger.Item, error) {
	var (
		it        ledger.Item
		updatedAt string
	)
	err := qs.queryRow(ctx, `
		SELECT id, tenant_id, sku, name, stock_quantity, updated_at
		FROM items WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	).Scan(&it.ID, &it.TenantID, &it.SKU, &it.Name, &it.StockQuantity, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Item{}, ledger.ErrItemNotFound
	}
	if err != nil {
		return ledger.Item{}, fmt.Errorf("failed to load item: %w", err)
	}
	it.UpdatedAt = parseTime(updatedAt)
	return it, nil
}

func (qs queries) CreateItem(ctx context.Context, it ledger.Item) error {
	if it.StockQuantity < 0 {
		return fmt.Errorf("%w: opening stock must not be negative", ledger.ErrValidation)
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	_, err := qs.exec(ctx, `
		INSERT INTO items (id, tenant_id, sku, name, stock_quantity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		it.ID, it.TenantID, it.SKU, it.Name, it.StockQuantity, formatTime(it.UpdatedAt),
	)
	if _, dup := uniqueViolation(err); dup {
		return fmt.Errorf("item %s: %w", it.ID, ledger.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, tenant_id, document_number, kind, direction, account_id, lines_json,
	currency, fx_rate, amount_base, status, reversal_of, document_date, note, reason,
	idempotency_key, created_by, created_at`

func (qs queries) EntryByDocument(ctx context.Context, tenantID ledger.TenantID, documentNumber string) (ledger.Entry, error) {
	e, found, err := qs.entryWhere(ctx, `tenant_id = ? AND document_number = ?`, tenantID, documentNumber)
	if err != nil {
		return ledger.Entry{}, err
	}
	if !found {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, nil
}

func (qs queries) EntriesByAccount(ctx context.Context, tenantID ledger.TenantID, accountID ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := qs.query(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE tenant_id = ? AND account_id = ? ORDER BY pos ASC`,
		tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (qs queries) entryWhere(ctx context.Context, where string, args ...any) (ledger.Entry, bool, error) {
	row := qs.queryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE `+where, args...)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		linesJSON      string
		reversalOf     sql.NullString
		documentDate   string
		note           sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.DocumentNumber, &e.Kind, &e.Direction, &e.AccountID, &linesJSON,
		&e.Currency, &e.FXRate, &e.AmountBase, &e.Status, &reversalOf, &documentDate, &note, &reason,
		&idempotencyKey, &createdBy, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(linesJSON), &e.Lines); err != nil {
		return e, fmt.Errorf("failed to decode lines of %s: %w", e.DocumentNumber, err)
	}
	e.ReversalOf = reversalOf.String
	e.DocumentDate = parseTime(documentDate)
	e.Note = note.String
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedBy = createdBy.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// OUTBOX (outbox.Store interface)
// =============================================================================

// PendingEvents returns unpublished events with fewer than maxAttempts
// attempts, oldest first.
func (qs queries) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]ledger.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 1 << 30
	}
	rows, err := qs.query(ctx, `
		SELECT id, tenant_id, topic, event_key, payload, created_at, attempts, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND attempts < ?
		ORDER BY pos ASC
		LIMIT ?`,
		maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var (
			ev        ledger.Event
			payload   string
			createdAt string
			lastError sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Topic, &ev.Key, &payload, &createdAt, &ev.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.Payload = []byte(payload)
		ev.CreatedAt = parseTime(createdAt)
		ev.LastError = lastError.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (qs queries) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return qs.touchEvent(ctx, `UPDATE outbox_events SET published_at = ?, attempts = attempts + 1 WHERE id = ?`,
		formatTime(at), id)
}

func (qs queries) MarkFailed(ctx context.Context, id string, cause string) error {
	return qs.touchEvent(ctx, `UPDATE outbox_events SET last_error = ?, attempts = attempts + 1 WHERE id = ?`,
		cause, id)
}

func (qs queries) touchEvent(ctx context.Context, query string, args ...any) error {
	res, err := qs.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("event %v: %w", args[len(args)-1], ledger.ErrNotFound)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
