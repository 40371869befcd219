package ledger

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// INVENTORY ADJUSTER - Guarded stock deltas
// =============================================================================

// InventoryAdjuster applies stock deltas through the store's conditional
// update. Every Adjust runs inside the caller's unit, so a failing line
// rolls back the lines applied before it.
type InventoryAdjuster struct{}

func NewInventoryAdjuster() *InventoryAdjuster {
	return &InventoryAdjuster{}
}

// Adjust adds delta to the item's stock and returns the new quantity.
// Decrements that would go below zero return *InsufficientStockError and
// apply nothing. Increments are unbounded.
func (a *InventoryAdjuster) Adjust(ctx context.Context, u Unit, tenantID TenantID, itemID ItemID, delta int64) (int64, error) {
	if delta == 0 {
		return 0, &ValidationError{Violations: map[string]string{"delta": "must_not_be_zero"}}
	}
	qty, applied, err := u.AdjustStock(ctx, tenantID, itemID, delta)
	if err != nil {
		return 0, err
	}
	if !applied {
		return qty, &InsufficientStockError{ItemID: itemID, Available: qty, Requested: -delta}
	}
	return qty, nil
}

// ApplyLines moves stock for every line in sign*quantity. It stops at the
// first failure; the caller's unit discards what was applied.
//
// Lines are applied in item order so that concurrent units lock item rows
// in the same sequence.
func (a *InventoryAdjuster) ApplyLines(ctx context.Context, u Unit, tenantID TenantID, lines []Line, sign int64) error {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return lines[order[x]].ItemID < lines[order[y]].ItemID
	})
	for _, i := range order {
		if _, err := a.Adjust(ctx, u, tenantID, lines[i].ItemID, sign*lines[i].Quantity); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
	}
	return nil
}
