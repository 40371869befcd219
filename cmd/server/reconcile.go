package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlstore"
)

// cliUser is recorded as the caller of rebuilds run from the command line.
const cliUser = "ledger-cli"

func newReconcileCmd(a *app) *cobra.Command {
	var (
		tenant  string
		account string
		fix     bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached balances with the journal",
		Long: `Recomputes each account balance from its journal entries and compares
it with the cached balance. Exits non-zero when an account drifts and
--fix was not given; with --fix the cache is rewritten from the journal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := sqlstore.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer st.Close()

			coord := ledger.NewCoordinator(st, a.cfg.LedgerConfig(), ledger.WithLogger(a.log))
			auth := ledger.AuthContext{TenantID: ledger.TenantID(tenant), UserID: cliUser, Role: "admin"}

			ids := []ledger.AccountID{ledger.AccountID(account)}
			if account == "" {
				accounts, err := st.ListAccounts(ctx, auth.TenantID)
				if err != nil {
					return err
				}
				ids = ids[:0]
				for _, acct := range accounts {
					ids = append(ids, acct.ID)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tCACHED\tDERIVED\tDRIFT\tSTATUS")

			drifting := 0
			for _, id := range ids {
				rec, err := coord.Reconcile(ctx, auth, id)
				if err != nil {
					return fmt.Errorf("reconcile %s: %w", id, err)
				}
				status := "ok"
				if !rec.InSync {
					drifting++
					status = "drift"
					if fix {
						if _, err := coord.Rebuild(ctx, auth, id); err != nil {
							return fmt.Errorf("rebuild %s: %w", id, err)
						}
						status = "repaired"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, rec.Cached, rec.Derived, rec.Drift(), status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if drifting > 0 && !fix {
				return fmt.Errorf("%d of %d accounts out of sync", drifting, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to reconcile (required)")
	cmd.Flags().StringVar(&account, "account", "", "single account; all accounts of the tenant when empty")
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite drifting caches from the journal")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
