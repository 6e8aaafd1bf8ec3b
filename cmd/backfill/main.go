// Command backfill indexes every bookmark, highlight and comment in the
// source database and prints a JSON summary to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/highlight-search/internal/app"
	"github.com/dshills/highlight-search/internal/config"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/pkg/types"
)

func main() {
	typesFlag := flag.String("types", "", "comma-separated entity types to backfill (default: all)")
	flag.Parse()

	if err := run(*typesFlag); err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		os.Exit(1)
	}
}

func run(typesFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if typesFlag != "" {
		cfg.BackfillTypes, err = types.ParseEntityTypes(typesFlag)
		if err != nil {
			return err
		}
	}
	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// embeddings are written inline, no background queue
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	if a.Backfill == nil {
		return errors.New("HS_SOURCE_DSN is not set")
	}

	summary, err := a.Backfill.Run(ctx)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	}
	return err
}
