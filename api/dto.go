/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON contract of the ledger API and keeps it apart from the
  engine's types. Money travels as decimal strings so no client ever sees
  a float.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

REQUEST SHAPES:
  Sales and purchases accept two payloads, normalized by
  DocumentRequest.ToSaleRequest into one ledger.SaleRequest:

  Canonical:
    {"account_id": "c1", "lines": [{"item_id": "x", "quantity": 3,
     "unit_price": "100", "vat_rate": "20"}], "currency": "TRY"}

  Legacy single item (older POS clients):
    {"customer_id": "c1", "item_id": "x", "quantity": 3,
     "price": "100", "vat": "20"}

  Purchases use "supplier_id" in the legacy shape. Mixing both shapes in
  one body is rejected.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/request.go: SaleRequest
*/
package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// DOCUMENT REQUESTS
// =============================================================================

// LineRequest is one line of the canonical payload.
type LineRequest struct {
	ItemID    string          `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	VATRate   decimal.Decimal `json:"vat_rate"`
}

// DocumentRequest is the body of POST /api/sales and POST /api/purchases.
type DocumentRequest struct {
	AccountID      string              `json:"account_id"`
	Lines          []LineRequest       `json:"lines"`
	Currency       string              `json:"currency"`
	FXRate         decimal.NullDecimal `json:"fx_rate"`
	DocumentNumber string              `json:"document_number"`
	Date           string              `json:"date"`
	Note           string              `json:"note"`
	IdempotencyKey string              `json:"idempotency_key"`

	// Legacy single-item fields
	CustomerID string              `json:"customer_id"`
	SupplierID string              `json:"supplier_id"`
	ItemID     string              `json:"item_id"`
	Quantity   int64               `json:"quantity"`
	Price      decimal.NullDecimal `json:"price"`
	VAT        decimal.NullDecimal `json:"vat"`
}

func (d DocumentRequest) legacy() bool {
	return d.ItemID != "" || d.Quantity != 0 || d.Price.Valid || d.VAT.Valid
}

// ToSaleRequest normalizes either payload shape. kind selects which legacy
// account alias applies. Field problems are reported as a
// *ledger.ValidationError.
func (d DocumentRequest) ToSaleRequest(kind ledger.Kind) (ledger.SaleRequest, error) {
	bad := map[string]string{}

	accountID := strings.TrimSpace(d.AccountID)
	alias := d.CustomerID
	if kind == ledger.KindPurchase {
		alias = d.SupplierID
	}
	if alias = strings.TrimSpace(alias); alias != "" {
		if accountID != "" && accountID != alias {
			bad["account_id"] = "conflicts_with_legacy_alias"
		}
		accountID = alias
	}

	var lines []ledger.LineInput
	switch {
	case d.legacy() && len(d.Lines) > 0:
		bad["lines"] = "mixed_with_legacy_item"
	case d.legacy():
		l := ledger.LineInput{
			ItemID:   ledger.ItemID(strings.TrimSpace(d.ItemID)),
			Quantity: d.Quantity,
		}
		if d.Price.Valid {
			l.UnitPrice = d.Price.Decimal
		}
		if d.VAT.Valid {
			l.VATRate = d.VAT.Decimal
		}
		lines = []ledger.LineInput{l}
	default:
		lines = make([]ledger.LineInput, len(d.Lines))
		for i, l := range d.Lines {
			lines[i] = ledger.LineInput{
				ItemID:    ledger.ItemID(strings.TrimSpace(l.ItemID)),
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
				VATRate:   l.VATRate,
			}
		}
	}

	date, err := parseDate(d.Date)
	if err != nil {
		bad["date"] = "invalid"
	}

	if len(bad) > 0 {
		return ledger.SaleRequest{}, &ledger.ValidationError{Violations: bad}
	}

	req := ledger.SaleRequest{
		AccountID:      ledger.AccountID(accountID),
		Lines:          lines,
		Currency:       d.Currency,
		DocumentNumber: d.DocumentNumber,
		Date:           date,
		Note:           d.Note,
		IdempotencyKey: d.IdempotencyKey,
	}
	if d.FXRate.Valid {
		req.FXRate = d.FXRate.Decimal
	}
	return req, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty means
// "now" and is resolved by the engine.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CancelRequest is the optional body of the cancel endpoints.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// DOCUMENT RESPONSES
// =============================================================================

// ResultDTO is returned by the record endpoints.
type ResultDTO struct {
	EntryID           string          `json:"entry_id"`
	DocumentNumber    string          `json:"document_number"`
	TotalBaseCurrency decimal.Decimal `json:"total_base_currency"`
	Replayed          bool            `json:"replayed,omitempty"`
}

// CancelResultDTO is returned by the cancel endpoints.
type CancelResultDTO struct {
	ReversalID             string          `json:"reversal_id"`
	ReversalDocumentNumber string          `json:"reversal_document_number"`
	OriginalDocumentNumber string          `json:"original_document_number"`
	AmountBase             decimal.Decimal `json:"amount_base"`
}

// EntryDTO represents a journal entry.
type EntryDTO struct {
	ID             string          `json:"id"`
	DocumentNumber string          `json:"document_number"`
	Kind           string          `json:"kind"`
	Direction      string          `json:"direction"`
	AccountID      string          `json:"account_id"`
	Lines          []ledger.Line   `json:"lines"`
	Currency       string          `json:"currency"`
	FXRate         decimal.Decimal `json:"fx_rate"`
	AmountBase     decimal.Decimal `json:"amount_base"`
	Status         string          `json:"status"`
	ReversalOf     string          `json:"reversal_of,omitempty"`
	DocumentDate   string          `json:"document_date"`
	Note           string          `json:"note,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		DocumentNumber: e.DocumentNumber,
		Kind:           string(e.Kind),
		Direction:      string(e.Direction),
		AccountID:      string(e.AccountID),
		Lines:          e.Lines,
		Currency:       e.Currency,
		FXRate:         e.FXRate,
		AmountBase:     e.AmountBase,
		Status:         string(e.Status),
		ReversalOf:     e.ReversalOf,
		DocumentDate:   e.DocumentDate.Format("2006-01-02"),
		Note:           e.Note,
		Reason:         e.Reason,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ACCOUNTS AND ITEMS
// =============================================================================

// AccountDTO represents a counterparty account.
type AccountDTO struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"display_name"`
	Kind           string          `json:"kind"`
	Balance        decimal.Decimal `json:"balance"`
	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

func toAccountDTO(a ledger.Account) AccountDTO {
	dto := AccountDTO{
		ID:             string(a.ID),
		DisplayName:    a.DisplayName,
		Kind:           string(a.Kind),
		Balance:        a.Balance,
		TotalSales:     a.TotalSales,
		TotalPurchases: a.TotalPurchases,
	}
	if !a.UpdatedAt.IsZero() {
		dto.UpdatedAt = a.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
}

// ItemDTO represents a stockable item.
type ItemDTO struct {
	ID            string `json:"id"`
	SKU           string `json:"sku,omitempty"`
	Name          string `json:"name"`
	StockQuantity int64  `json:"stock_quantity"`
}

// CreateItemRequest is the request to create an item with opening stock.
type CreateItemRequest struct {
	ID            string `json:"id"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	StockQuantity int64  `json:"stock_quantity"`
}

// ReconciliationDTO compares an account's cache with its journal.
type ReconciliationDTO struct {
	AccountID      string          `json:"account_id"`
	Cached         decimal.Decimal `json:"cached"`
	Derived        decimal.Decimal `json:"derived"`
	JournalSum     decimal.Decimal `json:"journal_sum"`
	Drift          decimal.Decimal `json:"drift"`
	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
	EntryCount     int             `json:"entry_count"`
	InSync         bool            `json:"in_sync"`
}

func toReconciliationDTO(r ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		AccountID:      string(r.AccountID),
		Cached:         r.Cached,
		Derived:        r.Derived,
		JournalSum:     r.JournalSum,
		Drift:          r.Drift(),
		TotalSales:     r.TotalSales,
		TotalPurchases: r.TotalPurchases,
		EntryCount:     r.EntryCount,
		InSync:         r.InSync,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
