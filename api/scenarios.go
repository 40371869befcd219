/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the caller's tenant with
	realistic data for demos. Every financial write goes through the
	coordinator, so loaded scenarios carry real document numbers, stock
	movements and outbox events.

AVAILABLE SCENARIOS:

	retail-shop:      Customer, supplier, restock purchase and two sales
	sale-and-cancel:  A sale followed by its cancellation
	foreign-supplier: USD purchase converted to base currency

HOW SCENARIOS WORK:
 1. Create accounts and items (opening stock)
 2. Record purchases and sales through the coordinator
 3. Optionally cancel documents

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "retail-shop"}

NOTE:

	Scenarios do not reset anything. Loading one twice into the same
	tenant fails with 409 because its accounts already exist.

SEE ALSO:
  - handlers.go: Document handlers
  - ledger/coordinator.go: RecordSale, RecordPurchase, CancelSale
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists the documents the scenario produced.
type LoadScenarioResponse struct {
	ScenarioID string   `json:"scenario_id"`
	Documents  []string `json:"documents"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "retail-shop",
		Name:        "Retail Shop",
		Description: "Customer and supplier, a restock purchase and two sales",
	},
	{
		ID:          "sale-and-cancel",
		Name:        "Sale and Cancel",
		Description: "A sale reversed by its cancellation; balance returns to zero",
	},
	{
		ID:          "foreign-supplier",
		Name:        "Foreign Supplier",
		Description: "USD purchase converted into base currency at a fixed rate",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, auth ledger.AuthContext) ([]string, error)

var scenarioLoaders = map[string]scenarioLoader{
	"retail-shop":      loadRetailShopScenario,
	"sale-and-cancel":  loadSaleAndCancelScenario,
	"foreign-supplier": loadForeignSupplierScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario into the caller's tenant.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, _ := AuthFrom(ctx)

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	docs, err := load(ctx, h, auth)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, LoadScenarioResponse{ScenarioID: req.ScenarioID, Documents: docs})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadRetailShopScenario(ctx context.Context, h *Handler, auth ledger.AuthContext) ([]string, error) {
	if err := h.seedAccounts(ctx, auth,
		ledger.Account{ID: "cust-ayse", DisplayName: "Ayse Market", Kind: ledger.AccountCustomer},
		ledger.Account{ID: "supp-toptan", DisplayName: "Toptan Gida", Kind: ledger.AccountSupplier},
	); err != nil {
		return nil, err
	}
	if err := h.seedItems(ctx, auth,
		ledger.Item{ID: "tea-1kg", SKU: "TEA-1000", Name: "Black tea 1kg", StockQuantity: 10},
		ledger.Item{ID: "sugar-5kg", SKU: "SUG-5000", Name: "Sugar 5kg", StockQuantity: 4},
	); err != nil {
		return nil, err
	}

	var docs []string
	purchase, err := h.Coordinator.RecordPurchase(ctx, auth, ledger.SaleRequest{
		AccountID: "supp-toptan",
		Lines: []ledger.LineInput{
			{ItemID: "tea-1kg", Quantity: 20, UnitPrice: decimal.NewFromInt(150), VATRate: decimal.NewFromInt(1)},
			{ItemID: "sugar-5kg", Quantity: 10, UnitPrice: decimal.NewFromInt(180), VATRate: decimal.NewFromInt(1)},
		},
		Note: "weekly restock",
	})
	if err != nil {
		return nil, err
	}
	docs = append(docs, purchase.DocumentNumber)

	for _, qty := range []int64{3, 5} {
		sale, err := h.Coordinator.RecordSale(ctx, auth, ledger.SaleRequest{
			AccountID: "cust-ayse",
			Lines: []ledger.LineInput{
				{ItemID: "tea-1kg", Quantity: qty, UnitPrice: decimal.NewFromInt(210), VATRate: decimal.NewFromInt(1)},
			},
		})
		if err != nil {
			return nil, err
		}
		docs = append(docs, sale.DocumentNumber)
	}
	return docs, nil
}

func loadSaleAndCancelScenario(ctx context.Context, h *Handler, auth ledger.AuthContext) ([]string, error) {
	if err := h.seedAccounts(ctx, auth,
		ledger.Account{ID: "cust-demo", DisplayName: "Demo Customer", Kind: ledger.AccountCustomer},
	); err != nil {
		return nil, err
	}
	if err := h.seedItems(ctx, auth,
		ledger.Item{ID: "widget", SKU: "WID-1", Name: "Widget", StockQuantity: 10},
	); err != nil {
		return nil, err
	}

	sale, err := h.Coordinator.RecordSale(ctx, auth, ledger.SaleRequest{
		AccountID: "cust-demo",
		Lines:     []ledger.LineInput{{ItemID: "widget", Quantity: 3, UnitPrice: decimal.NewFromInt(100)}},
	})
	if err != nil {
		return nil, err
	}
	cancel, err := h.Coordinator.CancelSale(ctx, auth, sale.DocumentNumber, "customer returned the order")
	if err != nil {
		return nil, err
	}
	return []string{sale.DocumentNumber, cancel.ReversalDocumentNumber}, nil
}

func loadForeignSupplierScenario(ctx context.Context, h *Handler, auth ledger.AuthContext) ([]string, error) {
	if err := h.seedAccounts(ctx, auth,
		ledger.Account{ID: "supp-acme", DisplayName: "Acme Imports Inc.", Kind: ledger.AccountSupplier},
	); err != nil {
		return nil, err
	}
	if err := h.seedItems(ctx, auth,
		ledger.Item{ID: "espresso-machine", SKU: "ESP-200", Name: "Espresso machine"},
	); err != nil {
		return nil, err
	}

	purchase, err := h.Coordinator.RecordPurchase(ctx, auth, ledger.SaleRequest{
		AccountID: "supp-acme",
		Lines: []ledger.LineInput{
			{ItemID: "espresso-machine", Quantity: 2, UnitPrice: decimal.NewFromInt(450), VATRate: decimal.NewFromInt(20)},
		},
		Currency: "USD",
		FXRate:   decimal.RequireFromString("32.50"),
	})
	if err != nil {
		return nil, err
	}
	return []string{purchase.DocumentNumber}, nil
}

func (h *Handler) seedAccounts(ctx context.Context, auth ledger.AuthContext, accounts ...ledger.Account) error {
	for _, a := range accounts {
		a.TenantID = auth.TenantID
		if err := h.Store.CreateAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedItems(ctx context.Context, auth ledger.AuthContext, items ...ledger.Item) error {
	for _, it := range items {
		it.TenantID = auth.TenantID
		if err := h.Store.CreateItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}
