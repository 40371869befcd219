/*
coordinator.go - Transaction coordinator for sales, purchases and cancellations

PURPOSE:
  The single entry point for every financial write. Each public operation
  opens exactly one atomic unit and composes the four components inside it:

    SequenceGenerator -> InventoryAdjuster -> Journal -> BalanceCache

  plus an outbox event, so either everything is visible after commit or
  nothing is.

OPERATIONS:
  RecordSale:     debit the customer, decrement stock (guarded)
  RecordPurchase: credit the supplier, increment stock
  CancelSale:     mark the sale cancelled, append a credit reversal
  CancelPurchase: mark the purchase cancelled, append a debit reversal

VALIDATION ORDER (RecordSale / RecordPurchase):
  1. Account exists for the tenant      -> ErrAccountNotFound
  2. Lines and currency are well formed -> *ValidationError
  Both run before the unit opens and have no side effects.

RETRIES:
  Record* is safe to retry: an aborted unit leaves no state behind, and an
  idempotency key turns a retry after an unknown outcome into a replay of
  the committed result. Cancel* returns ErrAlreadyCancelled on repeat;
  callers treat that as success.

STOCK ON CANCEL:
  Config.RestoreStockOnCancel decides whether a cancellation moves stock
  back. false (default) leaves stock untouched (goods already shipped);
  true re-applies every line with the opposite sign in the same unit.

SEE ALSO:
  - store.go: Unit and TxStore
  - errors.go: Error taxonomy
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type Config struct {
	// BaseCurrency is the tenant accounting currency (ISO 4217).
	BaseCurrency string

	// RestoreStockOnCancel re-applies line quantities when a document is
	// cancelled.
	RestoreStockOnCancel bool

	// Prefixes overrides DefaultPrefixes per kind.
	Prefixes map[Kind]string

	// SequenceWidth is the zero-padded width of document numbers.
	SequenceWidth int
}

func DefaultConfig() Config {
	return Config{
		BaseCurrency:  "TRY",
		SequenceWidth: DefaultSequenceWidth,
	}
}

// Metrics receives operation outcomes. metrics.Recorder implements it.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	DocumentRecorded(kind Kind, amountBase decimal.Decimal)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) DocumentRecorded(Kind, decimal.Decimal)         {}

// maxMintAttempts bounds the retries when a minted number collides with a
// legacy client-supplied one.
const maxMintAttempts = 16

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	store     TxStore
	sequences *SequenceGenerator
	inventory *InventoryAdjuster
	journal   *Journal
	balances  *BalanceCache

	cfg     Config
	log     *zap.Logger
	metrics Metrics
	clock   Clock
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator wires the engine over store.
func NewCoordinator(store TxStore, cfg Config, opts ...Option) *Coordinator {
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = DefaultConfig().BaseCurrency
	}
	c := &Coordinator{
		store:   store,
		cfg:     cfg,
		log:     zap.NewNop(),
		metrics: nopMetrics{},
		clock:   systemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sequences = NewSequenceGenerator(cfg.Prefixes, cfg.SequenceWidth)
	c.inventory = NewInventoryAdjuster()
	c.journal = NewJournal()
	c.balances = NewBalanceCache(c.clock)
	return c
}

// Balances exposes the balance cache for reconciliation.
func (c *Coordinator) Balances() *BalanceCache { return c.balances }

// Sequences exposes the document number authority.
func (c *Coordinator) Sequences() *SequenceGenerator { return c.sequences }

// Config returns the active configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// RecordSale records a sale to accountID and decrements stock.
func (c *Coordinator) RecordSale(ctx context.Context, auth AuthContext, req SaleRequest) (Result, error) {
	return c.record(ctx, auth, req, KindSale)
}

// RecordPurchase records a purchase from accountID and increments stock.
func (c *Coordinator) RecordPurchase(ctx context.Context, auth AuthContext, req SaleRequest) (Result, error) {
	return c.record(ctx, auth, req, KindPurchase)
}

// CancelSale reverses an active sale.
func (c *Coordinator) CancelSale(ctx context.Context, auth AuthContext, documentNumber, reason string) (CancelResult, error) {
	return c.cancel(ctx, auth, documentNumber, reason, KindSale)
}

// CancelPurchase reverses an active purchase.
func (c *Coordinator) CancelPurchase(ctx context.Context, auth AuthContext, documentNumber, reason string) (CancelResult, error) {
	return c.cancel(ctx, auth, documentNumber, reason, KindPurchase)
}

// Reconcile compares the cached balance of accountID with the journal.
func (c *Coordinator) Reconcile(ctx context.Context, auth AuthContext, accountID AccountID) (Reconciliation, error) {
	rec, err := c.balances.Reconcile(ctx, c.store, auth.TenantID, accountID)
	if err != nil {
		return Reconciliation{}, c.fail("reconcile", auth, err)
	}
	return rec, nil
}

// Rebuild rewrites the cached figures of accountID from the journal.
func (c *Coordinator) Rebuild(ctx context.Context, auth AuthContext, accountID AccountID) (Reconciliation, error) {
	rec, err := c.balances.Rebuild(ctx, c.store, auth.TenantID, accountID)
	if err != nil {
		return Reconciliation{}, c.fail("rebuild", auth, err)
	}
	if !rec.InSync {
		c.log.Warn("balance cache rebuilt",
			zap.String("tenant_id", string(auth.TenantID)),
			zap.String("account_id", string(accountID)),
			zap.String("cached", rec.Cached.String()),
			zap.String("derived", rec.Derived.String()),
		)
	}
	return rec, nil
}

// =============================================================================
// RECORD
// =============================================================================

func (c *Coordinator) record(ctx context.Context, auth AuthContext, req SaleRequest, kind Kind) (res Result, err error) {
	op := "record_" + string(kind)
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := checkCaller(auth, "account_id", string(req.AccountID)); err != nil {
		return Result{}, err
	}
	req = req.normalize(c.cfg.BaseCurrency, c.clock())

	if _, err := c.store.GetAccount(ctx, auth.TenantID, req.AccountID); err != nil {
		return Result{}, c.fail(op, auth, err)
	}
	if err := req.validateLines(c.cfg.BaseCurrency); err != nil {
		return Result{}, err
	}

	lines, total := priceLines(req.Lines, req.Currency, req.FXRate)
	direction, stockSign := Debit, int64(-1)
	if kind == KindPurchase {
		direction, stockSign = Credit, 1
	}

	err = c.store.WithTx(ctx, func(u Unit) error {
		if req.IdempotencyKey != "" {
			prior, found, err := u.EntryByIdempotencyKey(ctx, auth.TenantID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if prior.Kind != kind || prior.AccountID != req.AccountID {
					return &ValidationError{Violations: map[string]string{
						"idempotency_key": "reused_for_different_document",
					}}
				}
				res = Result{EntryID: prior.ID, DocumentNumber: prior.DocumentNumber, TotalBaseCurrency: prior.AmountBase, Replayed: true}
				return nil
			}
		}

		docNo := req.DocumentNumber
		if docNo == "" {
			var err error
			if docNo, err = c.mintUnique(ctx, u, auth.TenantID, kind, req.Date); err != nil {
				return err
			}
		}

		if err := c.inventory.ApplyLines(ctx, u, auth.TenantID, lines, stockSign); err != nil {
			return err
		}

		entry, err := c.journal.Append(ctx, u, Entry{
			TenantID:       auth.TenantID,
			DocumentNumber: docNo,
			Kind:           kind,
			Direction:      direction,
			AccountID:      req.AccountID,
			Lines:          lines,
			Currency:       req.Currency,
			FXRate:         req.FXRate,
			AmountBase:     total,
			Status:         StatusActive,
			DocumentDate:   req.Date,
			Note:           req.Note,
			IdempotencyKey: req.IdempotencyKey,
			CreatedBy:      auth.UserID,
			CreatedAt:      c.clock(),
		})
		if err != nil {
			return err
		}

		if _, err := c.balances.Apply(ctx, u, auth.TenantID, req.AccountID, deltaFor(entry)); err != nil {
			return err
		}
		if err := c.enqueue(ctx, u, entry); err != nil {
			return err
		}

		res = Result{EntryID: entry.ID, DocumentNumber: entry.DocumentNumber, TotalBaseCurrency: entry.AmountBase}
		return nil
	})
	if err != nil {
		return Result{}, c.fail(op, auth, err)
	}

	if !res.Replayed {
		c.metrics.DocumentRecorded(kind, res.TotalBaseCurrency)
	}
	c.log.Info("document recorded",
		zap.String("op", op),
		zap.String("tenant_id", string(auth.TenantID)),
		zap.String("account_id", string(req.AccountID)),
		zap.String("document_number", res.DocumentNumber),
		zap.String("total_base", res.TotalBaseCurrency.String()),
		zap.Bool("replayed", res.Replayed),
	)
	return res, nil
}

// =============================================================================
// CANCEL
// =============================================================================

func (c *Coordinator) cancel(ctx context.Context, auth AuthContext, documentNumber, reason string, kind Kind) (res CancelResult, err error) {
	op := "cancel_" + string(kind)
	start := time.Now()
	defer func() { c.observe(op, start, err) }()

	if err := checkCaller(auth, "document_number", documentNumber); err != nil {
		return CancelResult{}, err
	}

	err = c.store.WithTx(ctx, func(u Unit) error {
		original, err := c.journal.ActiveDocument(ctx, u, auth.TenantID, documentNumber, kind)
		if err != nil {
			return err
		}

		now := c.clock()
		reversal := reversalOf(original)
		if reversal.DocumentNumber, err = c.mintUnique(ctx, u, auth.TenantID, reversal.Kind, now); err != nil {
			return err
		}
		reversal.DocumentDate = now
		reversal.Reason = reason
		reversal.CreatedBy = auth.UserID
		reversal.CreatedAt = now

		if reversal, err = c.journal.Cancel(ctx, u, original, reversal); err != nil {
			return err
		}

		if c.cfg.RestoreStockOnCancel {
			// A sale took stock out, so its cancel puts it back; a purchase
			// cancel removes what was received, under the same guard.
			sign := int64(1)
			if kind == KindPurchase {
				sign = -1
			}
			if err := c.inventory.ApplyLines(ctx, u, auth.TenantID, original.Lines, sign); err != nil {
				return err
			}
		}

		if _, err := c.balances.Apply(ctx, u, auth.TenantID, original.AccountID, deltaFor(reversal)); err != nil {
			return err
		}
		if err := c.enqueue(ctx, u, reversal); err != nil {
			return err
		}

		res = CancelResult{
			ReversalID:             reversal.ID,
			ReversalDocumentNumber: reversal.DocumentNumber,
			OriginalDocumentNumber: original.DocumentNumber,
			AmountBase:             reversal.AmountBase,
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, c.fail(op, auth, err)
	}

	c.metrics.DocumentRecorded(kind.ReversalKind(), res.AmountBase)
	c.log.Info("document cancelled",
		zap.String("op", op),
		zap.String("tenant_id", string(auth.TenantID)),
		zap.String("document_number", documentNumber),
		zap.String("reversal_document_number", res.ReversalDocumentNumber),
		zap.Bool("stock_restored", c.cfg.RestoreStockOnCancel),
	)
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// mintUnique allocates a number for kind that no entry uses yet. A collision
// can only come from a legacy client-supplied number; the skipped value is
// a documented gap.
func (c *Coordinator) mintUnique(ctx context.Context, u Unit, tenantID TenantID, kind Kind, date time.Time) (string, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		docNo, err := c.sequences.Mint(ctx, u, tenantID, kind, date)
		if err != nil {
			return "", err
		}
		_, err = u.EntryByDocument(ctx, tenantID, docNo)
		if errors.Is(err, ErrNotFound) {
			return docNo, nil
		}
		if err != nil {
			return "", err
		}
		c.log.Warn("minted document number already taken, skipping",
			zap.String("tenant_id", string(tenantID)),
			zap.String("document_number", docNo),
		)
	}
	return "", fmt.Errorf("%w: %d consecutive numbers already taken", ErrSequenceExhausted, maxMintAttempts)
}

func (c *Coordinator) enqueue(ctx context.Context, u Unit, e Entry) error {
	ev, err := newEntryEvent(e)
	if err != nil {
		return err
	}
	return u.EnqueueEvent(ctx, ev)
}

// fail passes domain errors through and turns everything else into an
// opaque PersistenceError after logging the cause.
func (c *Coordinator) fail(op string, auth AuthContext, err error) error {
	if isDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.log.Error("ledger persistence failure",
		zap.String("op", op),
		zap.String("tenant_id", string(auth.TenantID)),
		zap.Error(err),
	)
	return &PersistenceError{Op: op}
}

func (c *Coordinator) observe(op string, start time.Time, err error) {
	c.metrics.ObserveOperation(op, outcomeOf(err), time.Since(start))
}

// outcomeOf labels an operation result for metrics.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, ErrDuplicateDocument), errors.Is(err, ErrDuplicateIdempotencyKey):
		return "conflict"
	default:
		return "error"
	}
}

func checkCaller(auth AuthContext, field, value string) error {
	v := violations{}
	if auth.TenantID == "" {
		v.add("tenant_id", "required")
	}
	if auth.UserID == "" {
		v.add("user_id", "required")
	}
	if value == "" {
		v.add(field, "required")
	}
	return v.err()
}
