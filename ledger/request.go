package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUESTS - Canonical shapes; the api layer normalizes legacy payloads
// =============================================================================

// LineInput is one requested item movement.
type LineInput struct {
	ItemID    ItemID
	Quantity  int64
	UnitPrice decimal.Decimal
	VATRate   decimal.Decimal // percent, e.g. 20 for 20%
}

// SaleRequest records a sale or a purchase. FXRate converts the document
// currency into the tenant base currency; zero means 1 for base-currency
// documents.
//
// DocumentNumber is a compatibility escape hatch for legacy clients that
// mint their own numbers. New callers leave it empty and let the
// SequenceGenerator allocate one.
type SaleRequest struct {
	AccountID      AccountID
	Lines          []LineInput
	Currency       string
	FXRate         decimal.Decimal
	DocumentNumber string
	Date           time.Time
	Note           string
	IdempotencyKey string
}

// Result is returned by RecordSale and RecordPurchase.
type Result struct {
	EntryID           EntryID
	DocumentNumber    string
	TotalBaseCurrency decimal.Decimal
	// Replayed is true when the idempotency key matched an earlier document
	// and nothing was written.
	Replayed bool
}

// CancelResult is returned by CancelSale and CancelPurchase.
type CancelResult struct {
	ReversalID             EntryID
	ReversalDocumentNumber string
	OriginalDocumentNumber string
	AmountBase             decimal.Decimal
}

const maxDocumentNumberLen = 64

// normalize fills defaults without judging the input.
func (r SaleRequest) normalize(baseCurrency string, now time.Time) SaleRequest {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = baseCurrency
	}
	if r.FXRate.IsZero() && r.Currency == baseCurrency {
		r.FXRate = decimal.NewFromInt(1)
	}
	if r.Date.IsZero() {
		r.Date = now
	}
	r.Date = r.Date.UTC()
	r.DocumentNumber = strings.TrimSpace(r.DocumentNumber)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	return r
}

// validateLines checks the line list and currency conversion inputs.
func (r SaleRequest) validateLines(baseCurrency string) error {
	v := violations{}
	if len(r.Lines) == 0 {
		v.add("lines", "required")
	}
	for i, l := range r.Lines {
		prefix := fmt.Sprintf("lines[%d].", i)
		if strings.TrimSpace(string(l.ItemID)) == "" {
			v.add(prefix+"item_id", "required")
		}
		if l.Quantity <= 0 {
			v.add(prefix+"quantity", "must_be_positive")
		}
		if l.UnitPrice.IsNegative() {
			v.add(prefix+"unit_price", "must_not_be_negative")
		}
		if l.VATRate.IsNegative() {
			v.add(prefix+"vat_rate", "must_not_be_negative")
		}
	}
	if len(r.Currency) != 3 {
		v.add("currency", "invalid")
	}
	if !r.FXRate.IsPositive() {
		v.add("fx_rate", "must_be_positive")
	} else if r.Currency == baseCurrency && !r.FXRate.Equal(decimal.NewFromInt(1)) {
		v.add("fx_rate", "must_be_one_for_base_currency")
	}
	if len(r.DocumentNumber) > maxDocumentNumberLen {
		v.add("document_number", "too_long")
	}
	return v.err()
}

// =============================================================================
// MONEY
// =============================================================================

var hundred = decimal.NewFromInt(100)

// moneyPlaces is the rounding precision of stored amounts.
const moneyPlaces = 2

// LineTotal computes quantity * unitPrice * (1 + vatRate/100), rounded to
// cents in the document currency.
func LineTotal(quantity int64, unitPrice, vatRate decimal.Decimal) decimal.Decimal {
	gross := decimal.NewFromInt(1).Add(vatRate.Div(hundred))
	return decimal.NewFromInt(quantity).Mul(unitPrice).Mul(gross).Round(moneyPlaces)
}

// ToBase converts an amount into base currency, rounded to cents.
func ToBase(amount, fxRate decimal.Decimal) decimal.Decimal {
	return amount.Mul(fxRate).Round(moneyPlaces)
}

// priceLines computes per-line totals and the base-currency document total.
func priceLines(inputs []LineInput, currency string, fxRate decimal.Decimal) ([]Line, decimal.Decimal) {
	lines := make([]Line, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		lt := LineTotal(in.Quantity, in.UnitPrice, in.VATRate)
		base := ToBase(lt, fxRate)
		lines[i] = Line{
			ItemID:        in.ItemID,
			Quantity:      in.Quantity,
			UnitPrice:     in.UnitPrice,
			Currency:      currency,
			VATRate:       in.VATRate,
			LineTotal:     lt,
			LineTotalBase: base,
		}
		total = total.Add(base)
	}
	return lines, total
}
