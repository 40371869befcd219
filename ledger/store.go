/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the boundary between the coordinator and the database. Every
  write the engine performs goes through a Unit, which is only available
  inside TxStore.WithTx. This makes the atomic unit explicit: a function
  that does not hold a Unit cannot write.

KEY INTERFACES:
  Reader:  Tenant-scoped reads (accounts, items, entries)
  Unit:    Reader + the writes allowed inside one atomic unit
  TxStore: Reader + WithTx
  Admin:   Account/item creation (account management is an outside flow)

ATOMIC UNITS:
  WithTx(fn) commits when fn returns nil and rolls back otherwise. No write
  made through the Unit is visible to other callers before commit.

CONDITIONAL WRITES:
  The store, not the application, serializes contention:
  - NextSequence is one increment-and-read statement (upsert ... RETURNING)
  - AdjustStock applies a decrement only when the result stays >= 0
  - MarkCancelled only flips rows that are still active
  - LockAccount holds the account row until the unit ends

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and development
  - store/sqlstore: SQLite and PostgreSQL via database/sql

SEE ALSO:
  - coordinator.go: The only caller of WithTx for financial writes
*/
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyExists is returned by Admin when creating a duplicate account or item.
var ErrAlreadyExists = errors.New("already exists")

// =============================================================================
// READER - Tenant-scoped queries
// =============================================================================

type Reader interface {
	// GetAccount returns ErrAccountNotFound when the account is missing
	// or belongs to another tenant.
	GetAccount(ctx context.Context, tenantID TenantID, id AccountID) (Account, error)

	// GetItem returns ErrItemNotFound when the item is missing.
	GetItem(ctx context.Context, tenantID TenantID, id ItemID) (Item, error)

	// EntryByDocument returns ErrNotFound when no entry carries the number.
	EntryByDocument(ctx context.Context, tenantID TenantID, documentNumber string) (Entry, error)

	// EntriesByAccount returns all entries for an account, oldest first.
	EntriesByAccount(ctx context.Context, tenantID TenantID, accountID AccountID) ([]Entry, error)
}

// =============================================================================
// UNIT - Writes inside one atomic unit
// =============================================================================

type Unit interface {
	Reader

	// LockAccount reads the account and holds it until the unit ends.
	LockAccount(ctx context.Context, tenantID TenantID, id AccountID) (Account, error)

	// SaveAccountCache writes the cached balance and totals of a.
	SaveAccountCache(ctx context.Context, a Account) error

	// NextSequence atomically increments and returns the counter for
	// (tenant, key, period), creating it at 1 on first use.
	NextSequence(ctx context.Context, tenantID TenantID, key string, period int) (int64, error)

	// AdjustStock adds delta to the item's stock when the result stays >= 0.
	// applied is false (and nothing changes) when the guard fails; qty is
	// then the current stock.
	AdjustStock(ctx context.Context, tenantID TenantID, id ItemID, delta int64) (qty int64, applied bool, err error)

	// AppendEntry persists a new entry. Returns ErrDuplicateDocument,
	// ErrDuplicateIdempotencyKey or ErrAlreadyCancelled (second reversal of
	// the same document) on uniqueness violations.
	AppendEntry(ctx context.Context, e Entry) error

	// EntryByIdempotencyKey looks up an entry by its client key.
	EntryByIdempotencyKey(ctx context.Context, tenantID TenantID, key string) (Entry, bool, error)

	// ReversalOf returns the reversal entry of a document, if any.
	ReversalOf(ctx context.Context, tenantID TenantID, documentNumber string) (Entry, bool, error)

	// MarkCancelled flips an active entry to cancelled. Returns false when
	// the entry was not active anymore.
	MarkCancelled(ctx context.Context, tenantID TenantID, id EntryID) (bool, error)

	// EnqueueEvent writes an outbox event inside the unit.
	EnqueueEvent(ctx context.Context, ev Event) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Reader with transaction support.
type TxStore interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Unit) error) error
}

// =============================================================================
// ADMIN - Account management (outside the engine's financial writes)
// =============================================================================

// Admin creates accounts and items. Balances start at zero; the initial
// stock of an item is its opening quantity.
type Admin interface {
	CreateAccount(ctx context.Context, a Account) error
	CreateItem(ctx context.Context, it Item) error
	ListAccounts(ctx context.Context, tenantID TenantID) ([]Account, error)
}

// Clock returns the current time. Stores and the coordinator take one so
// tests can pin dates.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
