package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUSDTContract is the mainnet TRC20 USDT contract.
const DefaultUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type Config struct {
	// Telegram
	BotToken     string
	AdminUserIDs map[int64]bool
	PrivateMode  bool

	// TronGrid
	TronAPIURL          string
	TronAPIKey          string
	USDTContract        string
	TransferLimit       int
	OnlyConfirmed       bool
	VerifyAddressOnline bool
	HTTPTimeout         time.Duration
	HTTPRetries         int
	RequestsPerSecond   float64

	// Database
	DatabaseURL string

	// Reconciliation
	CheckInterval        time.Duration
	ReconcileConcurrency int
	PendingTTL           time.Duration
	ExpiryGrace          time.Duration

	// API
	APIEnabled   bool
	APIPort      int
	APIMasterKey string

	// Redis pub/sub (optional)
	RedisURL     string
	RedisChannel string

	// Logging
	LogLevel  string
	LogFormat string

	// Limits
	MaxWalletsPerUser int
}

func Load() *Config {
	cfg := &Config{
		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		PrivateMode: getEnvBool("PRIVATE_MODE", false),

		// TronGrid
		TronAPIURL:          strings.TrimSuffix(getEnv("TRON_API_URL", "https://api.trongrid.io"), "/"),
		TronAPIKey:          getEnv("TRON_API_KEY", ""),
		USDTContract:        getEnv("USDT_CONTRACT_ADDRESS", DefaultUSDTContract),
		TransferLimit:       getEnvInt("TRON_TRANSFER_LIMIT", 20),
		OnlyConfirmed:       getEnvBool("TRON_ONLY_CONFIRMED", false),
		VerifyAddressOnline: getEnvBool("TRON_VERIFY_ADDRESS", false),
		HTTPTimeout:         getEnvDuration("TRON_HTTP_TIMEOUT", 10*time.Second),
		HTTPRetries:         getEnvInt("TRON_HTTP_RETRIES", 2),
		RequestsPerSecond:   getEnvFloat("TRON_RPS", 5),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "./payments.db"),

		// Reconciliation
		CheckInterval:        getEnvDuration("CHECK_INTERVAL", 60*time.Second),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 1),
		PendingTTL:           getEnvDuration("PENDING_TTL", 24*time.Hour),
		ExpiryGrace:          getEnvDuration("EXPIRY_GRACE", 5*time.Minute),

		// API
		APIEnabled:   getEnvBool("API_ENABLED", true),
		APIPort:      getEnvInt("API_PORT", 8000),
		APIMasterKey: getEnv("API_MASTER_KEY", ""),

		// Redis
		RedisURL:     getEnv("REDIS_URL", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "usdt-tracker:payments"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		// Limits
		MaxWalletsPerUser: getEnvInt("MAX_WALLETS_PER_USER", 10),
	}

	cfg.AdminUserIDs = parseIDs(getEnv("ADMIN_USER_IDS", ""))

	return cfg
}

// Validate checks values that would make the process misbehave at runtime.
// BOT_TOKEN is checked by the bot binary itself since the API binary runs without it.
func (c *Config) Validate() error {
	var errs []error

	if c.TronAPIURL == "" {
		errs = append(errs, errors.New("TRON_API_URL is required"))
	}
	if c.USDTContract == "" {
		errs = append(errs, errors.New("USDT_CONTRACT_ADDRESS is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.TransferLimit <= 0 || c.TransferLimit > 200 {
		errs = append(errs, fmt.Errorf("TRON_TRANSFER_LIMIT must be in 1..200, got %d", c.TransferLimit))
	}
	if c.CheckInterval < time.Second {
		errs = append(errs, fmt.Errorf("CHECK_INTERVAL must be at least 1s, got %s", c.CheckInterval))
	}
	if c.ReconcileConcurrency < 1 {
		errs = append(errs, fmt.Errorf("RECONCILE_CONCURRENCY must be positive, got %d", c.ReconcileConcurrency))
	}
	if c.PendingTTL < 0 {
		errs = append(errs, fmt.Errorf("PENDING_TTL must not be negative, got %s", c.PendingTTL))
	}
	if c.ExpiryGrace < c.CheckInterval {
		errs = append(errs, fmt.Errorf("EXPIRY_GRACE must be at least CHECK_INTERVAL (%s), got %s", c.CheckInterval, c.ExpiryGrace))
	}
	if c.HTTPRetries < 0 {
		errs = append(errs, fmt.Errorf("TRON_HTTP_RETRIES must not be negative, got %d", c.HTTPRetries))
	}
	if c.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("TRON_RPS must be positive, got %v", c.RequestsPerSecond))
	}
	if c.APIEnabled && (c.APIPort <= 0 || c.APIPort > 65535) {
		errs = append(errs, fmt.Errorf("API_PORT out of range: %d", c.APIPort))
	}
	if c.MaxWalletsPerUser < 1 {
		errs = append(errs, fmt.Errorf("MAX_WALLETS_PER_USER must be positive, got %d", c.MaxWalletsPerUser))
	}

	return errors.Join(errs...)
}

// IsAdmin reports whether the Telegram user is listed in ADMIN_USER_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	return c.AdminUserIDs[userID]
}

func parseIDs(csv string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(csv, ",") {
		idStr = strings.TrimSpace(idStr)
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
