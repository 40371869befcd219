package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

func corruptBalance(t *testing.T, mem *store.Memory, tenant ledger.TenantID, id ledger.AccountID, balance string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.WithTx(ctx, func(u ledger.Unit) error {
		a, err := u.LockAccount(ctx, tenant, id)
		if err != nil {
			return err
		}
		a.Balance = decimal.RequireFromString(balance)
		return u.SaveAccountCache(ctx, a)
	}))
}

func TestScheduler_RunOnce_ReportsDrift(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), userT1)
	corruptBalance(t, s.mem, "t1", "A", "55")

	rs := NewReconciliationScheduler(s.coord, s.mem, []ledger.TenantID{"t1"}, zap.NewNop())
	sum := rs.RunOnce(context.Background())

	assert.Equal(t, RunSummary{Checked: 2, Drifting: 1}, sum)
	a, err := s.mem.GetAccount(context.Background(), "t1", "A")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("55").Equal(a.Balance), "report-only pass must not repair")
}

func TestScheduler_RunOnce_RepairsWhenEnabled(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), userT1)
	corruptBalance(t, s.mem, "t1", "A", "55")

	rs := NewReconciliationScheduler(s.coord, s.mem, []ledger.TenantID{"t1"}, zap.NewNop())
	rs.Repair = true
	sum := rs.RunOnce(context.Background())

	assert.Equal(t, RunSummary{Checked: 2, Drifting: 1, Repaired: 1}, sum)
	a, err := s.mem.GetAccount(context.Background(), "t1", "A")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(a.Balance))
	assert.Zero(t, rs.RunOnce(context.Background()).Drifting)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/sales", saleBody(1, "10"), userT1)
	corruptBalance(t, s.mem, "t1", "A", "1")

	rs := NewReconciliationScheduler(s.coord, s.mem, []ledger.TenantID{"t1"}, zap.NewNop())
	rs.Repair = true
	rs.CheckInterval = time.Hour
	rs.Start()
	assert.Eventually(t, func() bool {
		a, err := s.mem.GetAccount(context.Background(), "t1", "A")
		return err == nil && a.Balance.Equal(decimal.NewFromInt(10))
	}, time.Second, 5*time.Millisecond)
	rs.Stop()
	rs.Stop()
}

func TestScheduler_NoTenants_DoesNotStart(t *testing.T) {
	rs := NewReconciliationScheduler(nil, nil, nil, nil)
	rs.Start()
	assert.Nil(t, rs.ticker)
	rs.Stop()
}
