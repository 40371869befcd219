/*
scheduler.go - Automated balance reconciliation scheduler

PURPOSE:
  Periodically compares every account's cached balance with the signed
  sum of its journal and reports drift. With Repair set, drifting caches
  are rewritten from the journal through Coordinator.Rebuild.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Walks the configured tenants; accounts are listed per tenant
  - Runs as a system caller with the admin role
  - Never touches entries; only the cache is rewritten

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: false)
  - Tenants: Tenants to walk
  - Repair: Rebuild drifting caches instead of only reporting them

USAGE:
  scheduler := NewReconciliationScheduler(coord, store, tenants, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReconcileAccount and RebuildAccount (manual runs)
  - ledger/balance.go: Reconcile and Rebuild
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
)

// SchedulerUser is recorded as the caller of scheduled rebuilds.
const SchedulerUser = "reconcile-scheduler"

// ReconciliationScheduler handles automated balance reconciliation.
type ReconciliationScheduler struct {
	Coordinator   *ledger.Coordinator
	Accounts      ledger.Admin
	Tenants       []ledger.TenantID
	CheckInterval time.Duration
	Enabled       bool
	Repair        bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// RunSummary counts the outcome of one pass.
type RunSummary struct {
	Checked  int
	Drifting int
	Repaired int
	Failed   int
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(coord *ledger.Coordinator, accounts ledger.Admin, tenants []ledger.TenantID, log *zap.Logger) *ReconciliationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Coordinator:   coord,
		Accounts:      accounts,
		Tenants:       tenants,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.Named("reconcile"),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || len(rs.Tenants) == 0 {
		rs.log.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.log.Info("scheduler started", zap.Duration("interval", rs.CheckInterval), zap.Int("tenants", len(rs.Tenants)))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunOnce(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunOnce reconciles every account of every configured tenant.
func (rs *ReconciliationScheduler) RunOnce(ctx context.Context) RunSummary {
	var sum RunSummary

	for _, tenant := range rs.Tenants {
		auth := ledger.AuthContext{TenantID: tenant, UserID: SchedulerUser, Role: RoleAdmin}

		accounts, err := rs.Accounts.ListAccounts(ctx, tenant)
		if err != nil {
			rs.log.Error("failed to list accounts", zap.String("tenant", string(tenant)), zap.Error(err))
			sum.Failed++
			continue
		}

		for _, a := range accounts {
			sum.Checked++
			rec, err := rs.Coordinator.Reconcile(ctx, auth, a.ID)
			if err != nil {
				rs.log.Error("reconcile failed", zap.String("tenant", string(tenant)),
					zap.String("account", string(a.ID)), zap.Error(err))
				sum.Failed++
				continue
			}
			if rec.InSync {
				continue
			}

			sum.Drifting++
			rs.log.Warn("balance cache drift",
				zap.String("tenant", string(tenant)),
				zap.String("account", string(a.ID)),
				zap.String("cached", rec.Cached.String()),
				zap.String("derived", rec.Derived.String()),
				zap.String("drift", rec.Drift().String()))

			if !rs.Repair {
				continue
			}
			if _, err := rs.Coordinator.Rebuild(ctx, auth, a.ID); err != nil {
				rs.log.Error("rebuild failed", zap.String("tenant", string(tenant)),
					zap.String("account", string(a.ID)), zap.Error(err))
				sum.Failed++
				continue
			}
			sum.Repaired++
		}
	}

	if sum.Checked > 0 || sum.Failed > 0 {
		rs.log.Info("reconciliation pass completed",
			zap.Int("checked", sum.Checked),
			zap.Int("drifting", sum.Drifting),
			zap.Int("repaired", sum.Repaired),
			zap.Int("failed", sum.Failed))
	}
	return sum
}
