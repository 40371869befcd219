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

// =============================================================================
// UNIT - Writes inside one database transaction (ledger.Unit interface)
// =============================================================================

type unit struct {
	queries
}

func (u *unit) LockAccount(ctx context.Context, tenantID ledger.TenantID, id ledger.AccountID) (ledger.Account, error) {
	return u.account(ctx, tenantID, id, u.dialect.lockSuffix())
}

func (u *unit) SaveAccountCache(ctx context.Context, a ledger.Account) error {
	res, err := u.exec(ctx, `
		UPDATE accounts
		SET balance = ?, total_sales = ?, total_purchases = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		a.Balance, a.TotalSales, a.TotalPurchases, formatTime(a.UpdatedAt),
		a.TenantID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (u *unit) NextSequence(ctx context.Context, tenantID ledger.TenantID, key string, period int) (int64, error) {
	var seq int64
	err := u.queryRow(ctx, `
		INSERT INTO doc_sequences (tenant_id, series_key, period, seq)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (tenant_id, series_key, period) DO UPDATE SET seq = doc_sequences.seq + 1
		RETURNING seq`,
		tenantID, key, period,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s/%d: %w", key, period, err)
	}
	return seq, nil
}

func (u *unit) AdjustStock(ctx context.Context, tenantID ledger.TenantID, id ledger.ItemID, delta int64) (int64, bool, error) {
	var qty int64
	err := u.queryRow(ctx, `
		UPDATE items
		SET stock_quantity = stock_quantity + ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND stock_quantity + ? >= 0
		RETURNING stock_quantity`,
		delta, formatTime(time.Now()), tenantID, id, delta,
	).Scan(&qty)
	if err == nil {
		return qty, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to adjust stock: %w", err)
	}

	// Guard failed or the item does not exist
	err = u.queryRow(ctx, `SELECT stock_quantity FROM items WHERE tenant_id = ? AND id = ?`,
		tenantID, id).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("item %s: %w", id, ledger.ErrItemNotFound)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read stock: %w", err)
	}
	return qty, false, nil
}

func (u *unit) AppendEntry(ctx context.Context, e ledger.Entry) error {
	linesJSON, err := json.Marshal(e.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode lines: %w", err)
	}

	_, err = u.exec(ctx, `
		INSERT INTO entries
		(id, tenant_id, document_number, kind, direction, account_id, lines_json,
		 currency, fx_rate, amount_base, status, reversal_of, document_date, note, reason,
		 idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.DocumentNumber, e.Kind, e.Direction, e.AccountID, string(linesJSON),
		e.Currency, e.FXRate, e.AmountBase, e.Status, nullString(e.ReversalOf),
		formatTime(e.DocumentDate), nullString(e.Note), nullString(e.Reason),
		nullString(e.IdempotencyKey), nullString(e.CreatedBy), formatTime(e.CreatedAt),
	)
	if err != nil {
		if conflict := entryConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (u *unit) EntryByIdempotencyKey(ctx context.Context, tenantID ledger.TenantID, key string) (ledger.Entry, bool, error) {
	return u.entryWhere(ctx, `tenant_id = ? AND idempotency_key = ?`, tenantID, key)
}

func (u *unit) ReversalOf(ctx context.Context, tenantID ledger.TenantID, documentNumber string) (ledger.Entry, bool, error) {
	return u.entryWhere(ctx, `tenant_id = ? AND reversal_of = ?`, tenantID, documentNumber)
}

func (u *unit) MarkCancelled(ctx context.Context, tenantID ledger.TenantID, id ledger.EntryID) (bool, error) {
	res, err := u.exec(ctx, `
		UPDATE entries SET status = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		ledger.StatusCancelled, tenantID, id, ledger.StatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to cancel entry: %w", err)
	}
	return n == 1, nil
}

func (u *unit) EnqueueEvent(ctx context.Context, ev ledger.Event) error {
	_, err := u.exec(ctx, `
		INSERT INTO outbox_events (id, tenant_id, topic, event_key, payload, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		ev.ID, ev.TenantID, ev.Topic, ev.Key, string(ev.Payload), formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}
