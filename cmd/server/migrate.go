package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/store/sqlstore"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Open migrates before returning.
			st, err := sqlstore.Open(cmd.Context(), a.cfg.Database.Driver, a.cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer st.Close()

			a.log.Info("schema up to date", zap.String("driver", string(st.Dialect())))
			return nil
		},
	}
}
