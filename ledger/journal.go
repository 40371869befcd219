/*
journal.go - Append-only ledger of documents

PURPOSE:
  The Journal is the immutable system of record for every sale, purchase
  and reversal. The account balance cache is derived from it and can be
  rebuilt from it at any time.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Financial fields are never updated or deleted
  2. ONE STATUS TRANSITION: active -> cancelled, exactly once
  3. LINKED REVERSALS: A cancellation appends a new entry that points at
     the document it reverses

CORRECTIONS:
  A mistake is never fixed by editing an entry. Instead:
  1. The original is marked cancelled
  2. A reversal entry with the opposite direction and equal magnitude is
     appended, carrying ReversalOf = original document number
  3. Both rows remain; their net effect on the balance is zero

EXAMPLE FLOW:
  1. Sale SAT-2025-000001 to account A: debit 300   (A = +300)
  2. Cancel it: original -> cancelled, IPS-2025-000001 credit 300 (A = 0)

SEE ALSO:
  - store.go: Unit.AppendEntry, Unit.MarkCancelled
  - balance.go: Recomputes balances from the journal
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Journal validates and appends entries and answers document queries.
type Journal struct{}

func NewJournal() *Journal {
	return &Journal{}
}

// Append checks the entry's shape and persists it in u. It assigns an ID
// when the entry has none.
func (j *Journal) Append(ctx context.Context, u Unit, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.Status == "" {
		e.Status = StatusActive
	}
	if err := checkEntry(e); err != nil {
		return Entry{}, err
	}
	if err := u.AppendEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// ActiveDocument returns the active entry of kind for documentNumber.
// ErrNotFound when no entry of that kind exists, ErrAlreadyCancelled when it
// exists but was cancelled already.
func (j *Journal) ActiveDocument(ctx context.Context, u Unit, tenantID TenantID, documentNumber string, kind Kind) (Entry, error) {
	e, err := u.EntryByDocument(ctx, tenantID, documentNumber)
	if err != nil {
		return Entry{}, err
	}
	if e.Kind != kind {
		return Entry{}, fmt.Errorf("%w: %s is a %s document", ErrNotFound, documentNumber, e.Kind)
	}
	if e.Status == StatusCancelled {
		return Entry{}, ErrAlreadyCancelled
	}
	return e, nil
}

// Cancel marks the original cancelled and appends its reversal. The caller
// has already built the reversal entry.
func (j *Journal) Cancel(ctx context.Context, u Unit, original, reversal Entry) (Entry, error) {
	if _, found, err := u.ReversalOf(ctx, original.TenantID, original.DocumentNumber); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, ErrAlreadyCancelled
	}
	flipped, err := u.MarkCancelled(ctx, original.TenantID, original.ID)
	if err != nil {
		return Entry{}, err
	}
	if !flipped {
		return Entry{}, ErrAlreadyCancelled
	}
	return j.Append(ctx, u, reversal)
}

// reversalOf builds the entry that cancels original.
func reversalOf(original Entry) Entry {
	lines := make([]Line, len(original.Lines))
	copy(lines, original.Lines)
	return Entry{
		TenantID:   original.TenantID,
		Kind:       original.Kind.ReversalKind(),
		Direction:  original.Direction.Opposite(),
		AccountID:  original.AccountID,
		Lines:      lines,
		Currency:   original.Currency,
		FXRate:     original.FXRate,
		AmountBase: original.AmountBase,
		Status:     StatusActive,
		ReversalOf: original.DocumentNumber,
	}
}

func checkEntry(e Entry) error {
	v := violations{}
	if e.TenantID == "" {
		v.add("tenant_id", "required")
	}
	if e.DocumentNumber == "" {
		v.add("document_number", "required")
	}
	if !e.Kind.Valid() {
		v.add("kind", "invalid")
	}
	if e.Direction != Debit && e.Direction != Credit {
		v.add("direction", "invalid")
	}
	if e.AccountID == "" {
		v.add("account_id", "required")
	}
	if e.AmountBase.IsNegative() {
		v.add("amount_base", "must_not_be_negative")
	}
	if e.Kind.IsReversal() != (e.ReversalOf != "") {
		v.add("reversal_of", "inconsistent_with_kind")
	}
	return v.err()
}
