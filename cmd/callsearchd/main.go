package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/flowpbx/callsearch/internal/api"
	"github.com/flowpbx/callsearch/internal/config"
	"github.com/flowpbx/callsearch/internal/correlate"
	"github.com/flowpbx/callsearch/internal/metrics"
	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/search"
	"github.com/flowpbx/callsearch/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callsearchd", "http_port", cfg.HTTPPort)

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	_, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	catalog := query.NewCachedCatalog(db)

	scheduler, err := query.NewCatalogScheduler(catalog, cfg.CatalogRefreshInterval)
	if err != nil {
		slog.Error("failed to create catalog refresh scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop() //nolint:errcheck

	engineCfg := correlate.Config{
		MaxLegs:               cfg.MaxLegs,
		AggregationTimeoutMs:  cfg.AggregationTimeoutMs,
		TerminationTimeoutMs:  cfg.TerminationTimeoutMs,
		UseXCorrelationHeader: cfg.UseXCorrelationHeader,
	}

	svc := search.NewService(db, catalog, engineCfg)
	collector := metrics.NewCollector(catalog, time.Now())
	db.SetMetrics(collector)

	handler := api.NewServer(svc, db, cfg, collector)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming NDJSON responses can run long
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	appCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callsearchd stopped")
}
