package storage

import (
	"context"
	"testing"
	"time"

	"github.com/token-faucet/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "faucet",
		User:           "faucet",
		Password:       "faucet_dev_password",
		MaxConnections: 10,
	}
}

// newTestLedger connects to the local Postgres, installs the ledger schema and
// empties it. The test is skipped when Postgres is not reachable.
func newTestLedger(t *testing.T) *DistributionRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewPostgresDB(testPostgresConfig())
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	ctx := testContext(t)
	if _, err := db.Pool().Exec(ctx, LedgerSchema); err != nil {
		t.Fatalf("failed to install ledger schema: %v", err)
	}

	repo := NewDistributionRepository(db)
	if _, err := repo.DeleteAll(ctx); err != nil {
		t.Fatalf("failed to reset ledger: %v", err)
	}
	return repo
}
