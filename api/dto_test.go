package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

func TestToSaleRequest_PurchaseLegacyAlias(t *testing.T) {
	d := DocumentRequest{
		SupplierID: "S",
		ItemID:     " X ",
		Quantity:   4,
		Price:      decimal.NewNullDecimal(decimal.NewFromInt(25)),
		Date:       "2025-03-01",
	}

	req, err := d.ToSaleRequest(ledger.KindPurchase)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID("S"), req.AccountID)
	require.Len(t, req.Lines, 1)
	assert.Equal(t, ledger.ItemID("X"), req.Lines[0].ItemID)
	assert.True(t, req.Lines[0].VATRate.IsZero())
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), req.Date)
}

func TestToSaleRequest_CustomerAliasIgnoredForPurchase(t *testing.T) {
	d := DocumentRequest{CustomerID: "A", Lines: []LineRequest{{ItemID: "X", Quantity: 1}}}

	req, err := d.ToSaleRequest(ledger.KindPurchase)
	require.NoError(t, err)
	assert.Empty(t, req.AccountID)
}

func TestToSaleRequest_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		req   DocumentRequest
		field string
	}{
		{"alias conflicts", DocumentRequest{AccountID: "A", CustomerID: "B", ItemID: "X", Quantity: 1}, "account_id"},
		{"mixed shapes", DocumentRequest{AccountID: "A", Quantity: 1, Lines: []LineRequest{{ItemID: "X", Quantity: 1}}}, "lines"},
		{"bad date", DocumentRequest{AccountID: "A", Date: "01/03/2025"}, "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.ToSaleRequest(ledger.KindSale)
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Violations, tt.field)
		})
	}
}

func TestToSaleRequest_FXRateOnlyWhenPresent(t *testing.T) {
	omitted, err := DocumentRequest{AccountID: "A"}.ToSaleRequest(ledger.KindSale)
	require.NoError(t, err)
	assert.True(t, omitted.FXRate.IsZero())

	given, err := DocumentRequest{AccountID: "A", FXRate: decimal.NewNullDecimal(decimal.RequireFromString("1.5"))}.ToSaleRequest(ledger.KindSale)
	require.NoError(t, err)
	assert.Equal(t, "1.5", given.FXRate.String())
}

func TestParseDate_RFC3339(t *testing.T) {
	got, err := parseDate("2025-03-01T10:30:00+03:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC), got.UTC())

	zero, err := parseDate("  ")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestStaticRates(t *testing.T) {
	rates := NewStaticRates("try", map[string]decimal.Decimal{
		"usd": decimal.RequireFromString("32.50"),
		"EUR": decimal.RequireFromString("35.10"),
	})
	ctx := context.Background()
	now := time.Now()

	usd, err := rates.Rate(ctx, "USD", "TRY", now)
	require.NoError(t, err)
	assert.Equal(t, "32.5", usd.String())

	same, err := rates.Rate(ctx, "GBP", "gbp", now)
	require.NoError(t, err)
	assert.Equal(t, "1", same.String())

	inverse, err := rates.Rate(ctx, "TRY", "USD", now)
	require.NoError(t, err)
	assert.Equal(t, "0.030769", inverse.String())

	cross, err := rates.Rate(ctx, "EUR", "USD", now)
	require.NoError(t, err)
	assert.Equal(t, "1.08", cross.String())

	_, err = rates.Rate(ctx, "GBP", "TRY", now)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}
