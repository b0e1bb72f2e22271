package storage

import (
	"testing"
)

func TestNewPostgresDB(t *testing.T) {
	// Skip if not in integration test mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewPostgresDB(testPostgresConfig())
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return
	}
	defer db.Close()

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if db.Pool() == nil {
		t.Error("Pool() returned nil")
	}
}

func TestNewPostgresDB_Unreachable(t *testing.T) {
	cfg := testPostgresConfig()
	cfg.Port = "1"

	db, err := NewPostgresDB(cfg)
	if err == nil {
		db.Close()
		t.Fatal("expected connection error for unreachable Postgres")
	}
}

func TestLedgerPoolConfig(t *testing.T) {
	cfg := testPostgresConfig()
	cfg.Password = "p@ss word"

	poolConfig, err := ledgerPoolConfig(cfg)
	if err != nil {
		t.Fatalf("ledgerPoolConfig() error = %v", err)
	}

	if poolConfig.MaxConns != 10 {
		t.Errorf("MaxConns = %d, want 10", poolConfig.MaxConns)
	}
	if poolConfig.MinConns != 1 {
		t.Errorf("MinConns = %d, want 1", poolConfig.MinConns)
	}
	if poolConfig.ConnConfig.Password != "p@ss word" {
		t.Errorf("password not preserved through the connection URL: %q", poolConfig.ConnConfig.Password)
	}
	if got := poolConfig.ConnConfig.RuntimeParams["application_name"]; got != applicationName {
		t.Errorf("application_name = %q, want %q", got, applicationName)
	}
	if poolConfig.ConnConfig.ConnectTimeout != connectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", poolConfig.ConnConfig.ConnectTimeout, connectTimeout)
	}

	cfg.MaxConnections = 0
	poolConfig, err = ledgerPoolConfig(cfg)
	if err != nil {
		t.Fatalf("ledgerPoolConfig() error = %v", err)
	}
	if poolConfig.MaxConns != 10 {
		t.Errorf("MaxConns default = %d, want 10", poolConfig.MaxConns)
	}
}
