// Package store provides in-process implementations of the ledger stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore, ledger.Admin and outbox.Store.
// WithTx holds the write lock for the whole unit, so units are serialized.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type accountKey struct {
	TenantID ledger.TenantID
	ID       ledger.AccountID
}

type itemKey struct {
	TenantID ledger.TenantID
	ID       ledger.ItemID
}

type docKey struct {
	TenantID ledger.TenantID
	Value    string
}

type seqKey struct {
	TenantID ledger.TenantID
	Key      string
	Period   int
}

type memState struct {
	accounts  map[accountKey]ledger.Account
	items     map[itemKey]ledger.Item
	entries   []ledger.Entry
	byDoc     map[docKey]int
	byIdem    map[docKey]int
	reversals map[docKey]int
	sequences map[seqKey]int64
	events    []ledger.Event
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[accountKey]ledger.Account),
		items:     make(map[itemKey]ledger.Item),
		byDoc:     make(map[docKey]int),
		byIdem:    make(map[docKey]int),
		reversals: make(map[docKey]int),
		sequences: make(map[seqKey]int64),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// =============================================================================
// READER
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, tenantID ledger.TenantID, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.account(tenantID, id)
}

func (m *Memory) GetItem(ctx context.Context, tenantID ledger.TenantID, id ledger.ItemID) (ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.item(tenantID, id)
}

func (m *Memory) EntryByDocument(ctx context.Context, tenantID ledger.TenantID, documentNumber string) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.entryByDocument(tenantID, documentNumber)
}

func (m *Memory) EntriesByAccount(ctx context.Context, tenantID ledger.TenantID, accountID ledger.AccountID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.entriesByAccount(tenantID, accountID), nil
}

// =============================================================================
// ADMIN
// =============================================================================

func (m *Memory) CreateAccount(ctx context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := accountKey{a.TenantID, a.ID}
	if _, exists := m.state.accounts[k]; exists {
		return fmt.Errorf("account %s: %w", a.ID, ledger.ErrAlreadyExists)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	m.state.accounts[k] = a
	return nil
}

func (m *Memory) CreateItem(ctx context.Context, it ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{it.TenantID, it.ID}
	if _, exists := m.state.items[k]; exists {
		return fmt.Errorf("item %s: %w", it.ID, ledger.ErrAlreadyExists)
	}
	if it.StockQuantity < 0 {
		return fmt.Errorf("%w: opening stock must not be negative", ledger.ErrValidation)
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	m.state.items[k] = it
	return nil
}

func (m *Memory) ListAccounts(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Account
	for k, a := range m.state.accounts {
		if k.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// OUTBOX
// =============================================================================

// PendingEvents returns unpublished events with fewer than maxAttempts
// attempts, oldest first.
func (m *Memory) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Event
	for _, ev := range m.state.events {
		if ev.PublishedAt != nil || (maxAttempts > 0 && ev.Attempts >= maxAttempts) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.events {
		if m.state.events[i].ID == id {
			at := at
			m.state.events[i].PublishedAt = &at
			m.state.events[i].Attempts++
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", id, ledger.ErrNotFound)
}

func (m *Memory) MarkFailed(ctx context.Context, id string, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.events {
		if m.state.events[i].ID == id {
			m.state.events[i].Attempts++
			m.state.events[i].LastError = cause
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", id, ledger.ErrNotFound)
}

// Events returns every outbox event, published or not.
func (m *Memory) Events() []ledger.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Event(nil), m.state.events...)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Unit) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.state.clone()
	if err := fn(&memUnit{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	c.entries = append([]ledger.Entry(nil), s.entries...)
	for k, v := range s.byDoc {
		c.byDoc[k] = v
	}
	for k, v := range s.byIdem {
		c.byIdem[k] = v
	}
	for k, v := range s.reversals {
		c.reversals[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	c.events = append([]ledger.Event(nil), s.events...)
	return c
}

// memUnit is the transactional view handed to fn. Its caller holds the
// parent's write lock.
type memUnit struct {
	state *memState
}

func (u *memUnit) GetAccount(_ context.Context, tenantID ledger.TenantID, id ledger.AccountID) (ledger.Account, error) {
	return u.state.account(tenantID, id)
}

func (u *memUnit) GetItem(_ context.Context, tenantID ledger.TenantID, id ledger.ItemID) (ledger.Item, error) {
	return u.state.item(tenantID, id)
}

func (u *memUnit) EntryByDocument(_ context.Context, tenantID ledger.TenantID, documentNumber string) (ledger.Entry, error) {
	return u.state.entryByDocument(tenantID, documentNumber)
}

func (u *memUnit) EntriesByAccount(_ context.Context, tenantID ledger.TenantID, accountID ledger.AccountID) ([]ledger.Entry, error) {
	return u.state.entriesByAccount(tenantID, accountID), nil
}

func (u *memUnit) LockAccount(_ context.Context, tenantID ledger.TenantID, id ledger.AccountID) (ledger.Account, error) {
	return u.state.account(tenantID, id)
}

func (u *memUnit) SaveAccountCache(_ context.Context, a ledger.Account) error {
	k := accountKey{a.TenantID, a.ID}
	cur, ok := u.state.accounts[k]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	cur.Balance = a.Balance
	cur.TotalSales = a.TotalSales
	cur.TotalPurchases = a.TotalPurchases
	cur.UpdatedAt = a.UpdatedAt
	u.state.accounts[k] = cur
	return nil
}

func (u *memUnit) NextSequence(_ context.Context, tenantID ledger.TenantID, key string, period int) (int64, error) {
	k := seqKey{tenantID, key, period}
	u.state.sequences[k]++
	return u.state.sequences[k], nil
}

func (u *memUnit) AdjustStock(_ context.Context, tenantID ledger.TenantID, id ledger.ItemID, delta int64) (int64, bool, error) {
	k := itemKey{tenantID, id}
	it, ok := u.state.items[k]
	if !ok {
		return 0, false, fmt.Errorf("item %s: %w", id, ledger.ErrItemNotFound)
	}
	if it.StockQuantity+delta < 0 {
		return it.StockQuantity, false, nil
	}
	it.StockQuantity += delta
	it.UpdatedAt = time.Now().UTC()
	u.state.items[k] = it
	return it.StockQuantity, true, nil
}

func (u *memUnit) AppendEntry(_ context.Context, e ledger.Entry) error {
	dk := docKey{e.TenantID, e.DocumentNumber}
	if _, taken := u.state.byDoc[dk]; taken {
		return fmt.Errorf("%s: %w", e.DocumentNumber, ledger.ErrDuplicateDocument)
	}
	if e.IdempotencyKey != "" {
		if _, taken := u.state.byIdem[docKey{e.TenantID, e.IdempotencyKey}]; taken {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	if e.ReversalOf != "" {
		if _, taken := u.state.reversals[docKey{e.TenantID, e.ReversalOf}]; taken {
			return ledger.ErrAlreadyCancelled
		}
	}

	idx := len(u.state.entries)
	u.state.entries = append(u.state.entries, e)
	u.state.byDoc[dk] = idx
	if e.IdempotencyKey != "" {
		u.state.byIdem[docKey{e.TenantID, e.IdempotencyKey}] = idx
	}
	if e.ReversalOf != "" {
		u.state.reversals[docKey{e.TenantID, e.ReversalOf}] = idx
	}
	return nil
}

func (u *memUnit) EntryByIdempotencyKey(_ context.Context, tenantID ledger.TenantID, key string) (ledger.Entry, bool, error) {
	idx, ok := u.state.byIdem[docKey{tenantID, key}]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return u.state.entries[idx], true, nil
}

func (u *memUnit) ReversalOf(_ context.Context, tenantID ledger.TenantID, documentNumber string) (ledger.Entry, bool, error) {
	idx, ok := u.state.reversals[docKey{tenantID, documentNumber}]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return u.state.entries[idx], true, nil
}

func (u *memUnit) MarkCancelled(_ context.Context, tenantID ledger.TenantID, id ledger.EntryID) (bool, error) {
	for i := range u.state.entries {
		e := &u.state.entries[i]
		if e.TenantID == tenantID && e.ID == id {
			if e.Status != ledger.StatusActive {
				return false, nil
			}
			e.Status = ledger.StatusCancelled
			return true, nil
		}
	}
	return false, ledger.ErrNotFound
}

func (u *memUnit) EnqueueEvent(_ context.Context, ev ledger.Event) error {
	u.state.events = append(u.state.events, ev)
	return nil
}

// =============================================================================
// SHARED LOOKUPS
// =============================================================================

func (s *memState) account(tenantID ledger.TenantID, id ledger.AccountID) (ledger.Account, error) {
	a, ok := s.accounts[accountKey{tenantID, id}]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (s *memState) item(tenantID ledger.TenantID, id ledger.ItemID) (ledger.Item, error) {
	it, ok := s.items[itemKey{tenantID, id}]
	if !ok {
		return ledger.Item{}, ledger.ErrItemNotFound
	}
	return it, nil
}

func (s *memState) entryByDocument(tenantID ledger.TenantID, documentNumber string) (ledger.Entry, error) {
	idx, ok := s.byDoc[docKey{tenantID, documentNumber}]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return s.entries[idx], nil
}

func (s *memState) entriesByAccount(tenantID ledger.TenantID, accountID ledger.AccountID) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}
