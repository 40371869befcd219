/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the ledger engine. Loads configuration,
  builds the logger and dispatches to the subcommands.

COMMANDS:
  serve      Run the HTTP API, the outbox relay and the reconcile scheduler
  migrate    Create or update the database schema and exit
  reconcile  Compare cached balances with the journal, optionally repair

GLOBAL FLAGS:
  --config   Path to a TOML config file (env LEDGER_CONFIG)

CONFIGURATION:
  Defaults, then the TOML file, then .env, then environment variables.
  See config/config.go for the keys.

EXAMPLES:
  # Run with file database
  ./server serve --config=./ledger.toml

  # Run with in-memory database
  LEDGER_DB_DSN=":memory:" ./server serve

  # Nightly drift check for one tenant
  ./server reconcile --tenant=acme --fix

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/config"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	log        *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "server",
		Short:         "Transactional sales and purchase ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("LEDGER_CONFIG"), "path to a TOML config file")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newReconcileCmd(a))
	return root
}

// newLogger builds the process logger from the [log] section.
func newLogger(c config.Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
