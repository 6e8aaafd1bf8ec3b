// Command searchd serves the search API and keeps the embedding queue running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/highlight-search/internal/app"
	"github.com/dshills/highlight-search/internal/config"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/server"
	"github.com/dshills/highlight-search/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("searchd %s (built %s, %s build, driver %s)\n", version, buildTime, storage.BuildMode, storage.DriverName)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "searchd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Queue: true})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("searchd starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"storage", cfg.StorageBackend,
		"embedding_provider", a.Generator.Provider(),
		"semantic", a.Generator.SemanticAvailable())

	srv := server.New(a.Searcher, a.Reconciler, a.Store, server.Options{
		Addr:              cfg.HTTPAddr,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		Metrics:           a.Metrics.Handler(),
		SemanticAvailable: a.Generator.SemanticAvailable(),
		AdminUserIDs:      cfg.AdminUserIDs,
		Logger:            logger.With("component", "http"),
	})
	return srv.Run(ctx)
}
