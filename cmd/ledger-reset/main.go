// Package main provides an administrative tool that clears the drip ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/token-faucet/internal/config"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/storage"
)

func main() {
	var (
		confirm = flag.Bool("yes", false, "Confirm deletion of every distribution request")
		timeout = flag.Duration("timeout", 30*time.Second, "Timeout for the reset")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	if !*confirm {
		fmt.Fprintln(os.Stderr, "Refusing to reset the ledger without -yes")
		os.Exit(2)
	}

	db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logging.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ledger := storage.NewDistributionRepository(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		logging.WithError(err).Fatal("Ledger schema check failed")
	}

	deleted, err := ledger.DeleteAll(ctx)
	if err != nil {
		logging.WithError(err).Fatal("Failed to reset ledger")
	}

	logging.WithFields(map[string]interface{}{
		"database": cfg.Database.Postgres.Database,
		"deleted":  deleted,
	}).Info("Ledger reset complete")
}
