/*
sequence.go - Document number allocation

PURPOSE:
  One authority for every document series. Each call site asks the
  generator for a number by document kind; the generator owns the mapping
  from kind to counter key and prefix, so two code paths can never mint
  from slightly different counters for the same series.

GUARANTEES:
  Next(tenant, key, period) returns a value strictly greater than any value
  previously returned for the same triple. The store implements it as a
  single increment-and-read statement, never read-then-write.

FORMAT:
  PREFIX-YYYY-NNNNNN, e.g. SAT-2025-000001. Formatting is a pure function of
  (prefix, period, seq, width). A seq that does not fit the width is
  reported as ErrSequenceExhausted instead of silently widening the number.

GAPS:
  Numbers are allocated inside the caller's atomic unit. A unit that aborts
  rolls its increment back with it, so committed numbers are gapless per
  series and period.
*/
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"
)

// SeriesKey names one counter series.
const (
	SeriesSale           = "saleNo"
	SeriesPurchase       = "purchaseNo"
	SeriesSaleCancel     = "saleCancelNo"
	SeriesPurchaseCancel = "purchaseCancelNo"
)

// DefaultPrefixes maps each document kind to its number prefix.
var DefaultPrefixes = map[Kind]string{
	KindSale:           "SAT",
	KindPurchase:       "ALS",
	KindSaleCancel:     "IPS",
	KindPurchaseCancel: "IPA",
}

// DefaultSequenceWidth is the zero-padded width of the numeric part.
const DefaultSequenceWidth = 6

// SeriesFor returns the counter key of a document kind.
func SeriesFor(k Kind) string {
	switch k {
	case KindSale:
		return SeriesSale
	case KindPurchase:
		return SeriesPurchase
	case KindSaleCancel:
		return SeriesSaleCancel
	case KindPurchaseCancel:
		return SeriesPurchaseCancel
	}
	return ""
}

// FormatDocumentNumber renders prefix, period and seq as PREFIX-YYYY-NNNNNN.
func FormatDocumentNumber(prefix string, period int, seq int64, width int) string {
	return fmt.Sprintf("%s-%04d-%0*d", prefix, period, width, seq)
}

// =============================================================================
// SEQUENCE GENERATOR
// =============================================================================

type SequenceGenerator struct {
	prefixes map[Kind]string
	width    int
}

// NewSequenceGenerator creates a generator. Missing prefixes fall back to
// DefaultPrefixes; width <= 0 means DefaultSequenceWidth.
func NewSequenceGenerator(prefixes map[Kind]string, width int) *SequenceGenerator {
	merged := make(map[Kind]string, len(DefaultPrefixes))
	for k, p := range DefaultPrefixes {
		merged[k] = p
	}
	for k, p := range prefixes {
		if p != "" {
			merged[k] = p
		}
	}
	if width <= 0 {
		width = DefaultSequenceWidth
	}
	return &SequenceGenerator{prefixes: merged, width: width}
}

// Next allocates the next value of (tenant, key, period) inside u.
func (g *SequenceGenerator) Next(ctx context.Context, u Unit, tenantID TenantID, key string, period int) (int64, error) {
	seq, err := u.NextSequence(ctx, tenantID, key, period)
	if err != nil {
		return 0, err
	}
	if seq > g.maxSeq() {
		return 0, fmt.Errorf("%w: %s %d reached %d", ErrSequenceExhausted, key, period, seq)
	}
	return seq, nil
}

// Mint allocates and formats the next document number for kind. The period
// is the calendar year of the document date.
func (g *SequenceGenerator) Mint(ctx context.Context, u Unit, tenantID TenantID, kind Kind, date time.Time) (string, error) {
	key := SeriesFor(kind)
	if key == "" {
		return "", fmt.Errorf("%w: no document series for kind %q", ErrValidation, kind)
	}
	period := PeriodOf(date)
	seq, err := g.Next(ctx, u, tenantID, key, period)
	if err != nil {
		return "", err
	}
	return FormatDocumentNumber(g.prefixes[kind], period, seq, g.width), nil
}

// Prefix returns the configured prefix of kind.
func (g *SequenceGenerator) Prefix(kind Kind) string {
	return g.prefixes[kind]
}

func (g *SequenceGenerator) maxSeq() int64 {
	if g.width >= 18 {
		return math.MaxInt64
	}
	return int64(math.Pow10(g.width)) - 1
}

// PeriodOf returns the partitioning window of a document date.
func PeriodOf(date time.Time) int {
	return date.UTC().Year()
}
