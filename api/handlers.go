/*
handlers.go - HTTP API handlers for the sales/purchase ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization and payload normalization, and delegates every
  financial write to ledger.Coordinator.

ENDPOINTS:
  Documents:
    POST   /api/sales                          Record a sale
    POST   /api/sales/{documentNumber}/cancel  Cancel a sale
    POST   /api/purchases                      Record a purchase
    POST   /api/purchases/{documentNumber}/cancel Cancel a purchase
    GET    /api/documents/{documentNumber}     Get one entry

  Accounts:
    GET    /api/accounts                       List accounts
    POST   /api/accounts                       Create account
    GET    /api/accounts/{id}                  Get account with cached balance
    GET    /api/accounts/{id}/entries          Journal of the account
    GET    /api/accounts/{id}/reconcile        Compare cache with journal
    POST   /api/accounts/{id}/rebuild          Rewrite cache from journal (admin)

  Items:
    POST   /api/items                          Create item with opening stock
    GET    /api/items/{id}                     Get item and stock

REQUEST FLOW:
  1. Read the AuthContext resolved by Authenticate
  2. Decode and normalize the payload
  3. Fill fx_rate from the CurrencyRateProvider when it was omitted
  4. Call the coordinator
  5. Serialize the response or map the error

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (per-field reasons in "fields")
  - 403: Rebuild requested without the admin role
  - 404: Account, item or document not found
  - 409: Insufficient stock, already cancelled, duplicate number or key
  - 503: Persistence failure, retry later (Retry-After set)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Auth resolution and request logging
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the read and admin surface the handlers need next to the
// coordinator.
type Store interface {
	ledger.Reader
	ledger.Admin
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coordinator *ledger.Coordinator
	Store       Store
	Rates       CurrencyRateProvider
	Log         *zap.Logger
}

// NewHandler creates a new handler. rates may be nil, in which case
// foreign-currency requests must carry fx_rate.
func NewHandler(coord *ledger.Coordinator, store Store, rates CurrencyRateProvider, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Coordinator: coord, Store: store, Rates: rates, Log: log}
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// RecordSale records a sale.
// POST /api/sales
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, ledger.KindSale)
}

// RecordPurchase records a purchase.
// POST /api/purchases
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, ledger.KindPurchase)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request, kind ledger.Kind) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	var body DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := body.ToSaleRequest(kind)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if req, err = h.resolveRate(ctx, req); err != nil {
		h.writeLedgerError(w, err)
		return
	}

	var res ledger.Result
	if kind == ledger.KindPurchase {
		res, err = h.Coordinator.RecordPurchase(ctx, auth, req)
	} else {
		res, err = h.Coordinator.RecordSale(ctx, auth, req)
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, ResultDTO{
		EntryID:           string(res.EntryID),
		DocumentNumber:    res.DocumentNumber,
		TotalBaseCurrency: res.TotalBaseCurrency,
		Replayed:          res.Replayed,
	})
}

// resolveRate fills FXRate for foreign-currency requests that omitted it.
func (h *Handler) resolveRate(ctx context.Context, req ledger.SaleRequest) (ledger.SaleRequest, error) {
	base := h.Coordinator.Config().BaseCurrency
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !req.FXRate.IsZero() || currency == "" || currency == base {
		return req, nil
	}
	if h.Rates == nil {
		return req, &ledger.ValidationError{Violations: map[string]string{"fx_rate": "required"}}
	}
	at := req.Date
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rate, err := h.Rates.Rate(ctx, currency, base, at)
	if err != nil {
		h.Log.Info("no rate for request currency",
			zap.String("currency", currency), zap.Error(err))
		return req, &ledger.ValidationError{Violations: map[string]string{"fx_rate": "unavailable"}}
	}
	req.FXRate = rate
	return req, nil
}

// CancelSale cancels a sale by appending a reversal.
// POST /api/sales/{documentNumber}/cancel
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, ledger.KindSale)
}

// CancelPurchase cancels a purchase by appending a reversal.
// POST /api/purchases/{documentNumber}/cancel
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, ledger.KindPurchase)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, kind ledger.Kind) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)
	documentNumber := chi.URLParam(r, "documentNumber")

	var body CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		res ledger.CancelResult
		err error
	)
	if kind == ledger.KindPurchase {
		res, err = h.Coordinator.CancelPurchase(ctx, auth, documentNumber, body.Reason)
	} else {
		res, err = h.Coordinator.CancelSale(ctx, auth, documentNumber, body.Reason)
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResultDTO{
		ReversalID:             string(res.ReversalID),
		ReversalDocumentNumber: res.ReversalDocumentNumber,
		OriginalDocumentNumber: res.OriginalDocumentNumber,
		AmountBase:             res.AmountBase,
	})
}

// GetDocument returns one journal entry.
// GET /api/documents/{documentNumber}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	e, err := h.Store.EntryByDocument(ctx, auth.TenantID, chi.URLParam(r, "documentNumber"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the tenant's accounts.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	accounts, err := h.Store.ListAccounts(ctx, auth.TenantID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates a counterparty with a zero balance.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	bad := map[string]string{}
	if strings.TrimSpace(req.ID) == "" {
		bad["id"] = "required"
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		bad["display_name"] = "required"
	}
	kind := ledger.AccountKind(strings.ToLower(req.Kind))
	switch kind {
	case "":
		kind = ledger.AccountBoth
	case ledger.AccountCustomer, ledger.AccountSupplier, ledger.AccountBoth:
	default:
		bad["kind"] = "invalid"
	}
	if len(bad) > 0 {
		h.writeLedgerError(w, &ledger.ValidationError{Violations: bad})
		return
	}

	a := ledger.Account{
		ID:          ledger.AccountID(strings.TrimSpace(req.ID)),
		TenantID:    auth.TenantID,
		DisplayName: req.DisplayName,
		Kind:        kind,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.Store.CreateAccount(ctx, a); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// GetAccount returns an account with its cached balance.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	a, err := h.Store.GetAccount(ctx, auth.TenantID, ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// GetAccountEntries returns the account's journal, oldest first.
// GET /api/accounts/{id}/entries
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetAccount(ctx, auth.TenantID, id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	entries, err := h.Store.EntriesByAccount(ctx, auth.TenantID, id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReconcileAccount compares the cached balance with the journal.
// GET /api/accounts/{id}/reconcile
func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	rec, err := h.Coordinator.Reconcile(ctx, auth, ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// RebuildAccount rewrites the cached figures from the journal.
// POST /api/accounts/{id}/rebuild
func (h *Handler) RebuildAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)
	if auth.Role != RoleAdmin {
		writeError(w, http.StatusForbidden, "Rebuild requires the admin role", nil)
		return
	}

	rec, err := h.Coordinator.Rebuild(ctx, auth, ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// CreateItem creates an item with its opening stock.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	bad := map[string]string{}
	if strings.TrimSpace(req.ID) == "" {
		bad["id"] = "required"
	}
	if strings.TrimSpace(req.Name) == "" {
		bad["name"] = "required"
	}
	if req.StockQuantity < 0 {
		bad["stock_quantity"] = "must_not_be_negative"
	}
	if len(bad) > 0 {
		h.writeLedgerError(w, &ledger.ValidationError{Violations: bad})
		return
	}

	it := ledger.Item{
		ID:            ledger.ItemID(strings.TrimSpace(req.ID)),
		TenantID:      auth.TenantID,
		SKU:           req.SKU,
		Name:          req.Name,
		StockQuantity: req.StockQuantity,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := h.Store.CreateItem(ctx, it); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(it))
}

// GetItem returns an item with its current stock.
// GET /api/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	it, err := h.Store.GetItem(ctx, auth.TenantID, ledger.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

func toItemDTO(it ledger.Item) ItemDTO {
	return ItemDTO{ID: string(it.ID), SKU: it.SKU, Name: it.Name, StockQuantity: it.StockQuantity}
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps an engine error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "Validation failed"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, ledger.ErrItemNotFound):
		return http.StatusNotFound, "Item not found"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "Document not found"
	case errors.Is(err, ledger.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, ledger.ErrAlreadyCancelled):
		return http.StatusConflict, "Document already cancelled"
	case errors.Is(err, ledger.ErrDuplicateDocument):
		return http.StatusConflict, "Duplicate document number"
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "Request with this idempotency key is in flight"
	case errors.Is(err, ledger.ErrSequenceExhausted):
		return http.StatusConflict, "Document sequence exhausted"
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict, "Already exists"
	case errors.Is(err, ledger.ErrPersistence),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)

	resp := ErrorResponse{Error: message}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Violations
	}

	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		resp.Details = "retry later"
	case status == http.StatusInternalServerError:
		// Unclassified errors can carry storage detail; keep it in the log.
		h.Log.Error("unhandled error", zap.Error(err))
	default:
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
