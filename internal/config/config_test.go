package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("QUEUE_STALL_TIMEOUT", "45s"); err != nil {
		t.Fatalf("Failed to set QUEUE_STALL_TIMEOUT: %v", err)
	}
	if err := os.Setenv("TOKEN_VALUE", "100"); err != nil {
		t.Fatalf("Failed to set TOKEN_VALUE: %v", err)
	}
	if err := os.Setenv("EXPLORER_URL", "https://explorer.example/tx/"); err != nil {
		t.Fatalf("Failed to set EXPLORER_URL: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("QUEUE_STALL_TIMEOUT")
		_ = os.Unsetenv("TOKEN_VALUE")
		_ = os.Unsetenv("EXPLORER_URL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Queue.StallTimeout != 45*time.Second {
		t.Errorf("Queue.StallTimeout = %v, want %v", cfg.Queue.StallTimeout, 45*time.Second)
	}

	if !cfg.Chain.TokenAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Chain.TokenAmount = %v, want 100", cfg.Chain.TokenAmount)
	}

	if cfg.Chain.ExplorerURL != "https://explorer.example/tx" {
		t.Errorf("Chain.ExplorerURL = %v, want trailing slash trimmed", cfg.Chain.ExplorerURL)
	}

	if cfg.Chain.FeeMultiplierPercent != 140 || cfg.Chain.GasLimit != 21000 {
		t.Errorf("unexpected fee defaults: multiplier=%d gasLimit=%d", cfg.Chain.FeeMultiplierPercent, cfg.Chain.GasLimit)
	}
}

func TestLoadConfig_InvalidTokenValue(t *testing.T) {
	t.Setenv("TOKEN_VALUE", "one hundred")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_VALUE")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Chain: ChainConfig{
				RPCURL:               "http://localhost:8545",
				PrivateKey:           "deadbeef",
				TokenAmount:          decimal.NewFromInt(1),
				FeeMultiplierPercent: 140,
				GasLimit:             21000,
			},
			Queue:   QueueConfig{StallTimeout: time.Second, AwaitTimeout: time.Minute},
			Captcha: CaptchaConfig{Enabled: true, Secret: "secret"},
		}
	}

	t.Run("valid configuration", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing chain settings are listed", func(t *testing.T) {
		cfg := valid()
		cfg.Chain.RPCURL = ""
		cfg.Chain.PrivateKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RPC_URL")
		assert.Contains(t, err.Error(), "FAUCET_PRIVATE_KEY")
	})

	t.Run("captcha secret required only when enabled", func(t *testing.T) {
		cfg := valid()
		cfg.Captcha.Secret = ""
		assert.Error(t, cfg.Validate())

		cfg.Captcha.Enabled = false
		assert.NoError(t, cfg.Validate())
	})

	t.Run("pop timeout below one second", func(t *testing.T) {
		cfg := valid()
		cfg.Queue.PopTimeout = 20 * time.Millisecond
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUEUE_POP_TIMEOUT")

		cfg.Queue.PopTimeout = time.Second
		assert.NoError(t, cfg.Validate())
	})

	t.Run("fee multiplier below 100 percent", func(t *testing.T) {
		cfg := valid()
		cfg.Chain.FeeMultiplierPercent = 90
		assert.Error(t, cfg.Validate())
	})
}

func TestPostgresConfig_URL(t *testing.T) {
	cfg := &PostgresConfig{Host: "db", Port: "5432", Database: "faucet", User: "faucet", Password: "p@ss"}
	assert.Equal(t, "postgres://faucet:p%40ss@db:5432/faucet?sslmode=disable", cfg.URL())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://faucet:p%40ss@db:5432/faucet?sslmode=require", cfg.URL())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitList(" https://a.example, ,https://b.example "))
	assert.Nil(t, splitList(""))
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
