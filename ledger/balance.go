/*
balance.go - Cached account balances and their reconciliation

PURPOSE:
  Account.Balance is a read optimization. The journal is the source of
  truth; the cache must always equal what the journal says.

DERIVATION:
  The derived balance is the signed sum of live entries: active originals
  that are not reversals (debit +, credit -). A cancelled document and its
  reversal contribute nothing. The signed sum over the full journal must
  give the same figure because every reversal exactly offsets the entry it
  cancels; Reconcile computes both and reports a mismatch between them as
  drift too.

OPERATIONS:
  Apply:     Add a delta to the cache inside an atomic unit
  Reconcile: Recompute from the journal and compare (read-only)
  Rebuild:   Overwrite the cache with the recomputed figures

SEE ALSO:
  - journal.go: The entries being summed
  - cmd/server/reconcile.go: CLI entry point for Reconcile/Rebuild
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceCache maintains the per-account cached balance and totals.
type BalanceCache struct {
	clock Clock
}

func NewBalanceCache(clock Clock) *BalanceCache {
	if clock == nil {
		clock = systemClock
	}
	return &BalanceCache{clock: clock}
}

// Apply locks the account in u and adds delta to its cached figures.
func (c *BalanceCache) Apply(ctx context.Context, u Unit, tenantID TenantID, accountID AccountID, delta BalanceDelta) (Account, error) {
	acct, err := u.LockAccount(ctx, tenantID, accountID)
	if err != nil {
		return Account{}, err
	}
	acct = delta.Apply(acct)
	acct.UpdatedAt = c.clock()
	if err := u.SaveAccountCache(ctx, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Reconciliation compares the cached figures with the journal.
type Reconciliation struct {
	AccountID      AccountID
	Cached         decimal.Decimal
	Derived        decimal.Decimal // signed sum of live entries
	JournalSum     decimal.Decimal // signed sum of every entry
	TotalSales     decimal.Decimal
	TotalPurchases decimal.Decimal
	EntryCount     int
	InSync         bool
}

// Drift is the amount the cache is off by.
func (r Reconciliation) Drift() decimal.Decimal {
	return r.Cached.Sub(r.Derived)
}

// Derive recomputes an account's figures from its entries.
func Derive(entries []Entry) (balance, journalSum, sales, purchases decimal.Decimal) {
	for _, e := range entries {
		journalSum = journalSum.Add(e.Signed())
		if !e.IsLive() {
			continue
		}
		balance = balance.Add(e.Signed())
		switch e.Kind {
		case KindSale:
			sales = sales.Add(e.AmountBase)
		case KindPurchase:
			purchases = purchases.Add(e.AmountBase)
		}
	}
	return balance, journalSum, sales, purchases
}

// Reconcile recomputes the balance of accountID from r and compares it with
// the cached value.
func (c *BalanceCache) Reconcile(ctx context.Context, r Reader, tenantID TenantID, accountID AccountID) (Reconciliation, error) {
	acct, err := r.GetAccount(ctx, tenantID, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	entries, err := r.EntriesByAccount(ctx, tenantID, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	return reconcile(acct, entries), nil
}

func reconcile(acct Account, entries []Entry) Reconciliation {
	derived, journalSum, sales, purchases := Derive(entries)
	return Reconciliation{
		AccountID:      acct.ID,
		Cached:         acct.Balance,
		Derived:        derived,
		JournalSum:     journalSum,
		TotalSales:     sales,
		TotalPurchases: purchases,
		EntryCount:     len(entries),
		InSync: acct.Balance.Equal(derived) &&
			derived.Equal(journalSum) &&
			acct.TotalSales.Equal(sales) &&
			acct.TotalPurchases.Equal(purchases),
	}
}

// Rebuild overwrites the cached figures of accountID with the values
// derived from the journal, inside one atomic unit. It returns the
// reconciliation as it was before the rewrite.
func (c *BalanceCache) Rebuild(ctx context.Context, s TxStore, tenantID TenantID, accountID AccountID) (Reconciliation, error) {
	var before Reconciliation
	err := s.WithTx(ctx, func(u Unit) error {
		acct, err := u.LockAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		entries, err := u.EntriesByAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		before = reconcile(acct, entries)
		if before.InSync {
			return nil
		}
		acct.Balance = before.Derived
		acct.TotalSales = before.TotalSales
		acct.TotalPurchases = before.TotalPurchases
		acct.UpdatedAt = c.clock()
		return u.SaveAccountCache(ctx, acct)
	})
	return before, err
}
