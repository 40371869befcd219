/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is against the sentinels; the
  structured errors carry details and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation errors - Rejected before the atomic unit opens
  2. Lookup errors - Account, item or document missing for the tenant
  3. Guard errors - Insufficient stock, already cancelled, duplicate document
  4. Store errors - Persistence failures, surfaced opaque and retryable

PROPAGATION:
  Any failure inside the atomic unit aborts the whole unit. Persistence
  failures are logged with their cause by the coordinator and returned as a
  PersistenceError that names only the failed operation.

SEE ALSO:
  - coordinator.go: Maps store failures to PersistenceError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrAccountNotFound is returned when the account does not exist for the tenant.
	ErrAccountNotFound = errors.New("account not found")

	// ErrItemNotFound is returned when a line references an unknown item.
	ErrItemNotFound = errors.New("item not found")

	// ErrNotFound is returned when no entry matches a document number.
	ErrNotFound = errors.New("document not found")

	// ErrInsufficientStock is returned when a decrement would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyCancelled is returned when a document was already reversed.
	// Callers should treat it as a success-equivalent terminal state.
	ErrAlreadyCancelled = errors.New("document already cancelled")

	// ErrDuplicateDocument is returned when a supplied document number is taken.
	ErrDuplicateDocument = errors.New("duplicate document number")

	// ErrDuplicateIdempotencyKey is returned by stores when two concurrent
	// writers race on the same idempotency key. A retry replays the winner.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrSequenceExhausted is returned when a series ran out of numbers for a period.
	ErrSequenceExhausted = errors.New("document sequence exhausted")

	// ErrPersistence is returned when the backing store failed.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError lists the offending fields, keyed by field path.
type ValidationError struct {
	Violations map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + e.Violations[f]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// violations accumulates field errors; nil error when empty.
type violations map[string]string

func (v violations) add(field, reason string) {
	if _, exists := v[field]; !exists {
		v[field] = reason
	}
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Violations: map[string]string(v)}
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ItemID    ItemID
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// PersistenceError names the failed operation without leaking storage detail.
type PersistenceError struct {
	Op string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s; retry later", e.Op)
}

func (e *PersistenceError) Unwrap() error {
	return ErrPersistence
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrDuplicateDocument) ||
		errors.Is(err, ErrSequenceExhausted)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrNotFound)
}

// isDomainError reports whether err belongs to the engine's taxonomy and may
// be returned to the caller as is.
func isDomainError(err error) bool {
	return IsClientError(err) || IsNotFound(err) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
