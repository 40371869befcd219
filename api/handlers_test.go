/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Canonical and legacy document payloads
- Cancellation and its idempotent second call
- FX resolution when fx_rate is omitted
- Error to status mapping
- Account, item, reconcile and rebuild endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, time.March, 2, 10, 0, 0, 0, time.UTC)

type testServer struct {
	mem    *store.Memory
	coord  *ledger.Coordinator
	router http.Handler
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	require.NoError(t, mem.CreateAccount(ctx, ledger.Account{ID: "A", TenantID: "t1", DisplayName: "Customer A", Kind: ledger.AccountCustomer}))
	require.NoError(t, mem.CreateAccount(ctx, ledger.Account{ID: "S", TenantID: "t1", DisplayName: "Supplier S", Kind: ledger.AccountSupplier}))
	require.NoError(t, mem.CreateItem(ctx, ledger.Item{ID: "X", TenantID: "t1", Name: "Item X", StockQuantity: 10}))

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	coord := ledger.NewCoordinator(mem, ledger.DefaultConfig(),
		ledger.WithClock(func() time.Time { return fixedNow }),
		ledger.WithMetrics(rec),
	)
	rates := NewStaticRates("TRY", map[string]decimal.Decimal{"USD": decimal.RequireFromString("32.50")})
	h := NewHandler(coord, mem, rates, zap.NewNop())

	return &testServer{
		mem:    mem,
		coord:  coord,
		router: NewRouter(h, RouterOptions{Metrics: rec, Gatherer: reg}),
		reg:    reg,
	}
}

type headers map[string]string

var userT1 = headers{HeaderTenantID: "t1", HeaderUserID: "u1"}

func (s *testServer) do(t *testing.T, method, path string, body any, hdr headers) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func saleBody(qty int64, price string) map[string]any {
	return map[string]any{
		"account_id": "A",
		"date":       "2025-03-01",
		"lines": []map[string]any{
			{"item_id": "X", "quantity": qty, "unit_price": price, "vat_rate": "0"},
		},
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestRecordSale_CanonicalPayload(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sales", saleBody(3, "100"), userT1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[ResultDTO](t, rec)
	assert.Equal(t, "SAT-2025-000001", res.DocumentNumber)
	assertDecimal(t, "300", res.TotalBaseCurrency)
	assert.False(t, res.Replayed)

	item := decode[ItemDTO](t, s.do(t, http.MethodGet, "/api/items/X", nil, userT1))
	assert.Equal(t, int64(7), item.StockQuantity)

	acct := decode[AccountDTO](t, s.do(t, http.MethodGet, "/api/accounts/A", nil, userT1))
	assertDecimal(t, "300", acct.Balance)
}

func TestRecordSale_LegacyPayload_Normalized(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sales", `{
		"customer_id": "A",
		"item_id": "X",
		"quantity": 2,
		"price": "50",
		"vat": "20",
		"date": "2025-03-01"
	}`, userT1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[ResultDTO](t, rec)
	assertDecimal(t, "120", res.TotalBaseCurrency)

	doc := decode[EntryDTO](t, s.do(t, http.MethodGet, "/api/documents/"+res.DocumentNumber, nil, userT1))
	require.Len(t, doc.Lines, 1)
	assert.Equal(t, ledger.ItemID("X"), doc.Lines[0].ItemID)
	assert.Equal(t, "A", doc.AccountID)
	assert.Equal(t, "u1", doc.CreatedBy)
}

func TestRecordSale_MixedPayload_Rejected(t *testing.T) {
	s := newTestServer(t)
	body := saleBody(1, "10")
	body["item_id"] = "X"

	rec := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "mixed_with_legacy_item", resp.Fields["lines"])
}

func TestRecordSale_InvalidLines_FieldErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sales", saleBody(0, "-1"), userT1)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "must_be_positive", resp.Fields["lines[0].quantity"])
	assert.Equal(t, "must_not_be_negative", resp.Fields["lines[0].unit_price"])
}

func TestRecordSale_MalformedJSON(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/sales", `{"lines": [`, userT1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordSale_MissingTenant_Unauthorized(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), headers{HeaderUserID: "u1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecordSale_MissingUser_ValidationError(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), headers{HeaderTenantID: "t1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "required", decode[ErrorResponse](t, rec).Fields["user_id"])
}

func TestRecordSale_InsufficientStock_Conflict(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sales", saleBody(11, "10"), userT1)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "available 10")

	item := decode[ItemDTO](t, s.do(t, http.MethodGet, "/api/items/X", nil, userT1))
	assert.Equal(t, int64(10), item.StockQuantity)
}

func TestRecordSale_UnknownAccount_NotFound(t *testing.T) {
	s := newTestServer(t)
	body := saleBody(1, "10")
	body["account_id"] = "nobody"

	rec := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Account not found", decode[ErrorResponse](t, rec).Error)
}

func TestRecordSale_OtherTenant_CannotSeeAccount(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"),
		headers{HeaderTenantID: "t2", HeaderUserID: "u2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordSale_IdempotencyKey_Replayed(t *testing.T) {
	s := newTestServer(t)
	body := saleBody(1, "10")
	body["idempotency_key"] = "pos-42"

	first := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	require.Equal(t, http.StatusCreated, first.Code)
	second := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	require.Equal(t, http.StatusOK, second.Code)

	a, b := decode[ResultDTO](t, first), decode[ResultDTO](t, second)
	assert.Equal(t, a.DocumentNumber, b.DocumentNumber)
	assert.True(t, b.Replayed)
}

func TestRecordSale_ForeignCurrencyWithoutRate_UsesProvider(t *testing.T) {
	s := newTestServer(t)
	body := saleBody(1, "10")
	body["currency"] = "usd"

	rec := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[ResultDTO](t, rec)
	assertDecimal(t, "325", res.TotalBaseCurrency)

	doc := decode[EntryDTO](t, s.do(t, http.MethodGet, "/api/documents/"+res.DocumentNumber, nil, userT1))
	assert.Equal(t, "USD", doc.Currency)
	assertDecimal(t, "32.5", doc.FXRate)
}

func TestRecordSale_ExplicitRate_WinsOverProvider(t *testing.T) {
	s := newTestServer(t)
	body := saleBody(1, "10")
	body["currency"] = "USD"
	body["fx_rate"] = "30"

	rec := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	require.Equal(t, http.StatusCreated, rec.Code)
	assertDecimal(t, "300", decode[ResultDTO](t, rec).TotalBaseCurrency)
}

func TestRecordSale_UnknownCurrencyRate_ValidationError(t *testing.T) {
	s := newTestServer(t)
	body := saleBody(1, "10")
	body["currency"] = "EUR"

	rec := s.do(t, http.MethodPost, "/api/sales", body, userT1)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unavailable", decode[ErrorResponse](t, rec).Fields["fx_rate"])
}

func TestCancelSale_ThenAgain_Conflict(t *testing.T) {
	s := newTestServer(t)
	sale := decode[ResultDTO](t, s.do(t, http.MethodPost, "/api/sales", saleBody(3, "100"), userT1))

	rec := s.do(t, http.MethodPost, "/api/sales/"+sale.DocumentNumber+"/cancel",
		CancelRequest{Reason: "returned"}, userT1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CancelResultDTO](t, rec)
	assert.Equal(t, "IPS-2025-000001", res.ReversalDocumentNumber)
	assert.Equal(t, sale.DocumentNumber, res.OriginalDocumentNumber)
	assertDecimal(t, "300", res.AmountBase)

	acct := decode[AccountDTO](t, s.do(t, http.MethodGet, "/api/accounts/A", nil, userT1))
	assertDecimal(t, "0", acct.Balance)

	again := s.do(t, http.MethodPost, "/api/sales/"+sale.DocumentNumber+"/cancel", nil, userT1)
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "Document already cancelled", decode[ErrorResponse](t, again).Error)
}

func TestCancelSale_UnknownDocument_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/sales/SAT-2025-999999/cancel", nil, userT1)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchase_RecordAndCancel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/purchases", `{
		"supplier_id": "S",
		"item_id": "X",
		"quantity": 5,
		"price": "20",
		"date": "2025-03-01"
	}`, userT1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[ResultDTO](t, rec)
	assert.Equal(t, "ALS-2025-000001", res.DocumentNumber)

	item := decode[ItemDTO](t, s.do(t, http.MethodGet, "/api/items/X", nil, userT1))
	assert.Equal(t, int64(15), item.StockQuantity)
	acct := decode[AccountDTO](t, s.do(t, http.MethodGet, "/api/accounts/S", nil, userT1))
	assertDecimal(t, "-100", acct.Balance)

	cancel := s.do(t, http.MethodPost, "/api/purchases/"+res.DocumentNumber+"/cancel", nil, userT1)
	require.Equal(t, http.StatusOK, cancel.Code)
	assert.Equal(t, "IPA-2025-000001", decode[CancelResultDTO](t, cancel).ReversalDocumentNumber)

	// A sale number is not a purchase
	wrongKind := s.do(t, http.MethodPost, "/api/sales/"+res.DocumentNumber+"/cancel", nil, userT1)
	assert.Equal(t, http.StatusNotFound, wrongKind.Code)
}

func TestGetDocument_UnknownDocument_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/documents/nope", nil, userT1)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Document not found", decode[ErrorResponse](t, rec).Error)
}

// =============================================================================
// ACCOUNTS AND ITEMS
// =============================================================================

func TestAccounts_CreateListGet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/accounts",
		CreateAccountRequest{ID: "B", DisplayName: "Customer B", Kind: "customer"}, userT1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	dup := s.do(t, http.MethodPost, "/api/accounts",
		CreateAccountRequest{ID: "B", DisplayName: "Again"}, userT1)
	assert.Equal(t, http.StatusConflict, dup.Code)

	bad := s.do(t, http.MethodPost, "/api/accounts", CreateAccountRequest{Kind: "vendor"}, userT1)
	require.Equal(t, http.StatusBadRequest, bad.Code)
	fields := decode[ErrorResponse](t, bad).Fields
	assert.Equal(t, "required", fields["id"])
	assert.Equal(t, "invalid", fields["kind"])

	list := decode[[]AccountDTO](t, s.do(t, http.MethodGet, "/api/accounts", nil, userT1))
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"A", "B", "S"}, ids)

	missing := s.do(t, http.MethodGet, "/api/accounts/zzz", nil, userT1)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestAccountEntries_OldestFirst(t *testing.T) {
	s := newTestServer(t)
	sale := decode[ResultDTO](t, s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), userT1))
	s.do(t, http.MethodPost, "/api/sales/"+sale.DocumentNumber+"/cancel", nil, userT1)

	entries := decode[[]EntryDTO](t, s.do(t, http.MethodGet, "/api/accounts/A/entries", nil, userT1))
	require.Len(t, entries, 2)
	assert.Equal(t, "sale", entries[0].Kind)
	assert.Equal(t, "cancelled", entries[0].Status)
	assert.Equal(t, "sale_cancel", entries[1].Kind)
	assert.Equal(t, sale.DocumentNumber, entries[1].ReversalOf)

	missing := s.do(t, http.MethodGet, "/api/accounts/zzz/entries", nil, userT1)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestReconcileAndRebuild(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/sales", saleBody(2, "50"), userT1)

	rec := decode[ReconciliationDTO](t, s.do(t, http.MethodGet, "/api/accounts/A/reconcile", nil, userT1))
	assert.True(t, rec.InSync)
	assertDecimal(t, "100", rec.Derived)
	assert.Equal(t, 1, rec.EntryCount)

	forbidden := s.do(t, http.MethodPost, "/api/accounts/A/rebuild", nil, userT1)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	admin := headers{HeaderTenantID: "t1", HeaderUserID: "ops", HeaderRole: "Admin"}
	ok := s.do(t, http.MethodPost, "/api/accounts/A/rebuild", nil, admin)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	assert.True(t, decode[ReconciliationDTO](t, ok).InSync)
}

func TestItems_CreateAndGet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/items",
		CreateItemRequest{ID: "Y", SKU: "Y-1", Name: "Item Y", StockQuantity: 4}, userT1)
	require.Equal(t, http.StatusCreated, rec.Code)

	item := decode[ItemDTO](t, s.do(t, http.MethodGet, "/api/items/Y", nil, userT1))
	assert.Equal(t, int64(4), item.StockQuantity)

	neg := s.do(t, http.MethodPost, "/api/items",
		CreateItemRequest{ID: "Z", Name: "Item Z", StockQuantity: -1}, userT1)
	assert.Equal(t, http.StatusBadRequest, neg.Code)

	missing := s.do(t, http.MethodGet, "/api/items/nope", nil, userT1)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "Item not found", decode[ErrorResponse](t, missing).Error)
}

// =============================================================================
// SCENARIOS, HEALTH, METRICS
// =============================================================================

func TestLoadScenario_RetailShop(t *testing.T) {
	s := newTestServer(t)
	tenant := headers{HeaderTenantID: "demo", HeaderUserID: "u1"}

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "retail-shop"}, tenant)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decode[LoadScenarioResponse](t, rec).Documents, 3)

	item := decode[ItemDTO](t, s.do(t, http.MethodGet, "/api/items/tea-1kg", nil, tenant))
	assert.Equal(t, int64(22), item.StockQuantity)

	again := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "retail-shop"}, tenant)
	assert.Equal(t, http.StatusConflict, again.Code)

	unknown := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, tenant)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestLoadScenario_AllLoad(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID},
				headers{HeaderTenantID: "demo", HeaderUserID: "u1"})
			assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	health := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, health.Code)

	s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), userT1)

	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ledger_http_request_duration_seconds")
	assert.Contains(t, body, `route="/api/sales`)
	assert.Contains(t, body, "ledger_documents_total")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&ledger.ValidationError{Violations: map[string]string{"x": "required"}}, http.StatusBadRequest},
		{ledger.ErrAccountNotFound, http.StatusNotFound},
		{ledger.ErrItemNotFound, http.StatusNotFound},
		{ledger.ErrNotFound, http.StatusNotFound},
		{&ledger.InsufficientStockError{ItemID: "X"}, http.StatusConflict},
		{ledger.ErrAlreadyCancelled, http.StatusConflict},
		{ledger.ErrDuplicateDocument, http.StatusConflict},
		{ledger.ErrSequenceExhausted, http.StatusConflict},
		{ledger.ErrAlreadyExists, http.StatusConflict},
		{&ledger.PersistenceError{Op: "record_sale"}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestWriteLedgerError_PersistenceIsOpaque(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	rec := httptest.NewRecorder()

	h.writeLedgerError(rec, &ledger.PersistenceError{Op: "record_sale"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.False(t, strings.Contains(rec.Body.String(), "record_sale"))
}
