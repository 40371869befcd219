package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when no conversion rate is known.
var ErrRateUnavailable = errors.New("currency rate unavailable")

// CurrencyRateProvider converts between currencies at a point in time.
// The engine never calls it; handlers use it to fill fx_rate when a
// foreign-currency request omits it.
type CurrencyRateProvider interface {
	Rate(ctx context.Context, from, to string, at time.Time) (decimal.Decimal, error)
}

// rateScale is the precision of derived cross rates.
const rateScale = 6

// StaticRates serves fixed rates expressed as units of base per unit of
// each currency. It ignores the date.
type StaticRates struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewStaticRates creates a provider from a currency -> base rate table.
func NewStaticRates(base string, rates map[string]decimal.Decimal) *StaticRates {
	table := make(map[string]decimal.Decimal, len(rates))
	for cur, r := range rates {
		table[strings.ToUpper(cur)] = r
	}
	return &StaticRates{base: strings.ToUpper(base), rates: table}
}

func (s *StaticRates) Rate(_ context.Context, from, to string, _ time.Time) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	fromBase, err := s.toBase(from)
	if err != nil {
		return decimal.Zero, err
	}
	toBase, err := s.toBase(to)
	if err != nil {
		return decimal.Zero, err
	}
	if to == s.base {
		return fromBase, nil
	}
	return fromBase.DivRound(toBase, rateScale), nil
}

func (s *StaticRates) toBase(cur string) (decimal.Decimal, error) {
	if cur == s.base {
		return decimal.NewFromInt(1), nil
	}
	r, ok := s.rates[cur]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", cur, ErrRateUnavailable)
	}
	return r, nil
}
