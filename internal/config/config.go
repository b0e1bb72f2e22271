// Package config provides configuration management for the faucet service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Queue     QueueConfig
	Captcha   CaptchaConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
}

// URL returns the postgres:// connection URL for this configuration
func (c *PostgresConfig) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds the faucet's chain and token settings
type ChainConfig struct {
	RPCURL     string
	PrivateKey string

	// TokenAmount is the amount sent per drip, in whole token units (e.g. "100" or "0.5")
	TokenAmount decimal.Decimal
	TokenSymbol string

	// ExplorerURL is the transaction explorer base; the tx hash is appended after a slash
	ExplorerURL string

	// BalanceFloor is the signer balance (whole token units) under which drips are refused
	BalanceFloor decimal.Decimal

	FeeMultiplierPercent int64
	GasLimit             uint64
	ConfirmTimeout       time.Duration
	PollInterval         time.Duration
}

// MinPopTimeout is the smallest blocking pop Redis honours; go-redis raises shorter timeouts to it
const MinPopTimeout = time.Second

// QueueConfig holds drip queue and worker configuration
type QueueConfig struct {
	Name         string
	StallTimeout time.Duration
	AwaitTimeout time.Duration
	PopTimeout   time.Duration
}

// CaptchaConfig holds Turnstile captcha configuration
type CaptchaConfig struct {
	Enabled   bool
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

// CORSConfig holds the allowed origins for browser callers
type CORSConfig struct {
	Origins []string
}

// RateLimitConfig holds per-client request throttling configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	TrustProxy        bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	tokenAmount, err := getEnvAsDecimal("TOKEN_VALUE", decimal.Zero)
	if err != nil {
		return nil, err
	}
	balanceFloor, err := getEnvAsDecimal("BALANCE_FLOOR", decimal.NewFromInt(5000))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "1000"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "faucet"),
				User:           getEnv("POSTGRES_USER", "faucet"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCURL:               getEnv("RPC_URL", ""),
			PrivateKey:           getEnv("FAUCET_PRIVATE_KEY", ""),
			TokenAmount:          tokenAmount,
			TokenSymbol:          getEnv("TOKEN_SYMBOL", "ETH"),
			ExplorerURL:          strings.TrimRight(getEnv("EXPLORER_URL", ""), "/"),
			BalanceFloor:         balanceFloor,
			FeeMultiplierPercent: int64(getEnvAsInt("FEE_MULTIPLIER_PERCENT", 140)),
			GasLimit:             uint64(getEnvAsInt("GAS_LIMIT", 21000)), // #nosec G115 - validated below
			ConfirmTimeout:       getEnvAsDuration("CONFIRM_TIMEOUT", 2*time.Minute),
			PollInterval:         getEnvAsDuration("CONFIRM_POLL_INTERVAL", time.Second),
		},
		Queue: QueueConfig{
			Name:         getEnv("QUEUE_NAME", "transaction"),
			StallTimeout: getEnvAsDuration("QUEUE_STALL_TIMEOUT", 30*time.Second),
			AwaitTimeout: getEnvAsDuration("QUEUE_AWAIT_TIMEOUT", 5*time.Minute),
			PopTimeout:   getEnvAsDuration("QUEUE_POP_TIMEOUT", 2*time.Second),
		},
		Captcha: CaptchaConfig{
			Enabled:   getEnvAsBool("CAPTCHA_ENABLED", true),
			Secret:    getEnv("TURNSTILE_SECRET", ""),
			VerifyURL: getEnv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			Timeout:   getEnvAsDuration("TURNSTILE_TIMEOUT", 5*time.Second),
		},
		CORS: CORSConfig{
			Origins: splitList(getEnv("CORS_URL", "*")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 1),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 5),
			TrustProxy:        getEnvAsBool("TRUST_PROXY", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks the settings the faucet cannot start without
func (c *Config) Validate() error {
	var missing []string
	if c.Chain.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if c.Chain.PrivateKey == "" {
		missing = append(missing, "FAUCET_PRIVATE_KEY")
	}
	if !c.Chain.TokenAmount.IsPositive() {
		missing = append(missing, "TOKEN_VALUE")
	}
	if c.Captcha.Enabled && c.Captcha.Secret == "" {
		missing = append(missing, "TURNSTILE_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid configuration: %s", strings.Join(missing, ", "))
	}

	if c.Chain.FeeMultiplierPercent < 100 {
		return fmt.Errorf("FEE_MULTIPLIER_PERCENT must be at least 100, got %d", c.Chain.FeeMultiplierPercent)
	}
	if c.Chain.GasLimit < 21000 {
		return fmt.Errorf("GAS_LIMIT must be at least 21000, got %d", c.Chain.GasLimit)
	}
	if c.Queue.StallTimeout <= 0 || c.Queue.AwaitTimeout <= 0 {
		return fmt.Errorf("queue timeouts must be positive")
	}
	if c.Queue.PopTimeout != 0 && c.Queue.PopTimeout < MinPopTimeout {
		return fmt.Errorf("QUEUE_POP_TIMEOUT must be at least %s, got %s", MinPopTimeout, c.Queue.PopTimeout)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal parses a token amount. Unlike the other helpers a malformed value
// is reported instead of replaced by the default.
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, valueStr, err)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
