/*
Package ledger provides the transactional sales/purchase ledger engine.

PURPOSE:
  This package owns the code paths that, in a single atomic unit, mint a
  document number, move item stock under a non-negativity guard, append an
  immutable ledger entry and update the cached running balance of the
  counterparty account. The matching cancellation flow appends a reversal
  entry instead of editing history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A counterparty (customer or supplier) with cached balance
  - Item: A stockable product with a quantity that never goes negative
  - Entry: An immutable ledger record for one document
  - Line: One item movement inside an entry
  - AuthContext: Tenant/user/role resolved upstream and trusted here

DESIGN PRINCIPLES:
  1. Immutability: Entries are never edited, only marked cancelled and reversed
  2. Precision: Money uses decimal.Decimal, stock uses int64
  3. Type Safety: Strong typing for IDs prevents mixing tenants, accounts, items
  4. One Shape: One aggregated entry per document with an embedded line list

SEE ALSO:
  - coordinator.go: RecordSale, RecordPurchase, CancelSale, CancelPurchase
  - store.go: Persistence interfaces (Store, Unit, TxStore)
  - balance.go: Balance cache and reconciliation
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type AccountID string
type ItemID string
type EntryID string

// =============================================================================
// AUTH CONTEXT - Resolved once upstream, passed by value
// =============================================================================

// AuthContext identifies the caller. It is validated before the engine is
// invoked; the engine trusts it and only reads the tenant and user.
type AuthContext struct {
	TenantID TenantID
	UserID   string
	Role     string
}

// =============================================================================
// ENTRY CLASSIFICATION
// =============================================================================

type Kind string

const (
	KindSale           Kind = "sale"
	KindPurchase       Kind = "purchase"
	KindSaleCancel     Kind = "sale_cancel"
	KindPurchaseCancel Kind = "purchase_cancel"
)

// IsReversal reports whether entries of this kind reverse another document.
func (k Kind) IsReversal() bool {
	return k == KindSaleCancel || k == KindPurchaseCancel
}

// ReversalKind returns the kind used to cancel a document of kind k.
func (k Kind) ReversalKind() Kind {
	switch k {
	case KindSale:
		return KindSaleCancel
	case KindPurchase:
		return KindPurchaseCancel
	default:
		return ""
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindPurchase, KindSaleCancel, KindPurchaseCancel:
		return true
	}
	return false
}

type Direction string

const (
	Debit  Direction = "debit"  // increases what the account owes us
	Credit Direction = "credit" // increases what we owe the account
)

// Opposite returns the reversing direction.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// =============================================================================
// ACCOUNT - Counterparty with derived, cached balance
// =============================================================================

type AccountKind string

const (
	AccountCustomer AccountKind = "customer"
	AccountSupplier AccountKind = "supplier"
	AccountBoth     AccountKind = "both"
)

// Account is a customer or supplier scoped to a tenant.
//
// INVARIANT: Balance equals the signed sum of the live entries referencing
// this account, in base currency. Only the coordinator mutates it.
type Account struct {
	ID             AccountID
	TenantID       TenantID
	DisplayName    string
	Kind           AccountKind
	Balance        decimal.Decimal
	TotalSales     decimal.Decimal
	TotalPurchases decimal.Decimal
	UpdatedAt      time.Time
}

// =============================================================================
// ITEM - Stockable product
// =============================================================================

// Item is a stockable product. StockQuantity is never negative.
type Item struct {
	ID            ItemID
	TenantID      TenantID
	SKU           string
	Name          string
	StockQuantity int64
	UpdatedAt     time.Time
}

// =============================================================================
// ENTRY - Immutable ledger record for one document
// =============================================================================

// Line is one item movement inside an entry. LineTotal is in the document
// currency, LineTotalBase in the tenant base currency.
type Line struct {
	ItemID        ItemID          `json:"item_id"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Currency      string          `json:"currency"`
	VATRate       decimal.Decimal `json:"vat_rate"`
	LineTotal     decimal.Decimal `json:"line_total"`
	LineTotalBase decimal.Decimal `json:"line_total_base"`
}

// Entry is the system-of-record row for one document.
//
// INVARIANTS:
//   - Financial fields are never mutated after Append.
//   - Status moves active -> cancelled exactly once.
//   - A reversal entry carries ReversalOf and is never edited afterwards.
type Entry struct {
	ID             EntryID
	TenantID       TenantID
	DocumentNumber string
	Kind           Kind
	Direction      Direction
	AccountID      AccountID
	Lines          []Line
	Currency       string
	FXRate         decimal.Decimal
	AmountBase     decimal.Decimal // magnitude, always >= 0
	Status         Status
	ReversalOf     string // document number this entry reverses, "" otherwise
	DocumentDate   time.Time
	Note           string
	Reason         string
	IdempotencyKey string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

// Signed returns the entry's contribution to the account balance.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == Credit {
		return e.AmountBase.Neg()
	}
	return e.AmountBase
}

// IsLive reports whether the entry still carries economic effect: an active
// original document. Reversals only neutralize a cancelled original.
func (e Entry) IsLive() bool {
	return e.Status == StatusActive && e.ReversalOf == ""
}

// =============================================================================
// BALANCE DELTA - What one operation does to an account's cached figures
// =============================================================================

type BalanceDelta struct {
	Balance        decimal.Decimal
	TotalSales     decimal.Decimal
	TotalPurchases decimal.Decimal
}

func (d BalanceDelta) Neg() BalanceDelta {
	return BalanceDelta{
		Balance:        d.Balance.Neg(),
		TotalSales:     d.TotalSales.Neg(),
		TotalPurchases: d.TotalPurchases.Neg(),
	}
}

// Apply returns the account with the delta added to its cached figures.
func (d BalanceDelta) Apply(a Account) Account {
	a.Balance = a.Balance.Add(d.Balance)
	a.TotalSales = a.TotalSales.Add(d.TotalSales)
	a.TotalPurchases = a.TotalPurchases.Add(d.TotalPurchases)
	return a
}

// deltaFor computes the cache delta produced by appending e.
func deltaFor(e Entry) BalanceDelta {
	d := BalanceDelta{Balance: e.Signed()}
	switch e.Kind {
	case KindSale:
		d.TotalSales = e.AmountBase
	case KindSaleCancel:
		d.TotalSales = e.AmountBase.Neg()
	case KindPurchase:
		d.TotalPurchases = e.AmountBase
	case KindPurchaseCancel:
		d.TotalPurchases = e.AmountBase.Neg()
	}
	return d
}
