package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/gateway"
	"github.com/hearthbox/hearth/internal/observability"
	"github.com/hearthbox/hearth/internal/orchestrator"
	"github.com/hearthbox/hearth/internal/registry"
	"github.com/hearthbox/hearth/internal/runtime"
	"github.com/hearthbox/hearth/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration engine and HTTP gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg gateway.Config
	if err := envconfig.Process("", &cfg); err != nil {
		return err
	}
	var ocfg orchestrator.Config
	if err := envconfig.Process("", &ocfg); err != nil {
		return err
	}

	log, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	observability.RegisterAll(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := registry.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Error("db connect failed", zap.Error(err))
		return err
	}
	defer pool.Close()

	reg := registry.NewPostgres(pool)
	if err := reg.Migrate(ctx); err != nil {
		log.Error("registry migration failed", zap.Error(err))
		return err
	}

	ledger := usage.NewLedger(pool)
	if err := ledger.Migrate(ctx); err != nil {
		log.Error("usage migration failed", zap.Error(err))
		return err
	}

	rt, err := runtime.NewDocker(cfg.RuntimeMaxCalls)
	if err != nil {
		log.Error("docker connect failed", zap.Error(err))
		return err
	}

	orch := orchestrator.New(reg, rt, orchestrator.Collaborators{Usage: ledger}, ocfg, log)

	// Reconcile registry against live containers before serving traffic.
	if err := orch.DiscoverWorkspaces(ctx); err != nil {
		log.Warn("startup discovery incomplete", zap.Error(err))
	}

	go orch.RunBillingLoop(ctx, cfg.BillingInterval)
	go orch.RunReaperLoop(ctx, cfg.ReaperInterval, cfg.IdleThreshold)

	gw := gateway.NewGateway(orch, pool, log)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      gw.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("gateway server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info("stopped")
	return nil
}
