package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/events/kafka"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
	"github.com/warp/ledger-engine/outbox"
	"github.com/warp/ledger-engine/store/sqlstore"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

// serve runs until ctx is cancelled, then shuts down gracefully:
//  1. Stop accepting new connections
//  2. Wait for active requests (server.shutdown_timeout)
//  3. Stop the scheduler and the relay
//  4. Close the publisher and the database
func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log

	// Initialize store
	st, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer st.Close()
	log.Info("database ready", zap.String("driver", string(st.Dialect())))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewRecorder(reg)

	coord := ledger.NewCoordinator(st, cfg.LedgerConfig(),
		ledger.WithLogger(log),
		ledger.WithMetrics(rec),
	)

	// Outbox relay
	if cfg.Outbox.Enabled {
		var pub outbox.Publisher = outbox.LogPublisher{Log: log}
		if len(cfg.Outbox.KafkaBrokers) > 0 {
			kp := kafka.NewPublisher(cfg.Outbox.KafkaBrokers)
			defer kp.Close()
			pub = kp
			log.Info("publishing events to kafka", zap.Strings("brokers", cfg.Outbox.KafkaBrokers))
		}

		relay := outbox.NewRelay(st, pub, log)
		relay.Interval = cfg.Outbox.Interval.Duration
		relay.BatchSize = cfg.Outbox.BatchSize
		relay.MaxAttempts = cfg.Outbox.MaxAttempts
		relay.Observer = rec
		relay.Start()
		defer relay.Stop()
	}

	// Reconciliation scheduler
	tenants := make([]ledger.TenantID, len(cfg.Reconcile.Tenants))
	for i, t := range cfg.Reconcile.Tenants {
		tenants[i] = ledger.TenantID(t)
	}
	scheduler := api.NewReconciliationScheduler(coord, st, tenants, log)
	scheduler.Enabled = cfg.Reconcile.Enabled
	scheduler.CheckInterval = cfg.Reconcile.Interval.Duration
	scheduler.Repair = cfg.Reconcile.Repair
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(coord, st, api.NewStaticRates(cfg.Ledger.BaseCurrency, cfg.StaticRates()), log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        rec,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
