// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the ledger database and backup staging
	Port     int
	LogLevel string
	DevMode  bool

	// Broker gateway (OANDA v20)
	OandaPlatformURL string // e.g. https://api-fxpractice.oanda.com
	OandaAccountID   string
	OandaAPIKey      string

	// Trading parameters
	Leverage          int
	InitialAllocation float64 // Virtual cash granted to a trader on allocation

	// Reconciliation
	SyncStartCursor  string // Transaction id to start from when no cursor is recorded
	FallbackTraderID int64  // Owner for untagged broker deltas; 0 rejects them instead

	Backup *BackupConfig
}

// BackupConfig holds ledger backup configuration (S3-compatible storage)
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Region    string
	Endpoint  string // Optional custom endpoint for S3-compatible providers
	AccessKey string
	SecretKey string
	Schedule  string // Cron expression for the backup job
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADERJOE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("PORT", 5001),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		OandaPlatformURL:  getEnv("OANDA_PLATFORM", "https://api-fxpractice.oanda.com"),
		OandaAccountID:    getEnv("OANDA_ACCOUNT", ""),
		OandaAPIKey:       getEnv("OANDA_API_KEY", ""),
		Leverage:          getEnvAsInt("LEVERAGE", 20),
		InitialAllocation: getEnvAsFloat("INITIAL_ALLOCATION", 1000.00),
		SyncStartCursor:   getEnv("SYNC_START_CURSOR", "1"),
		// 0 means reject: deltas without a trader_<id> tag are skipped
		// rather than silently assigned to a default trader.
		FallbackTraderID: int64(getEnvAsInt("SYNC_FALLBACK_TRADER_ID", 0)),
		Backup:           loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.OandaAccountID == "" || c.OandaAPIKey == "" {
		// Broker credentials are optional in dev mode so the read paths and
		// tests can run against the local ledger alone.
		if !c.DevMode {
			return fmt.Errorf("OANDA_ACCOUNT and OANDA_API_KEY are required outside dev mode")
		}
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("LEVERAGE must be a positive integer")
	}
	return nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
		Bucket:    getEnv("BACKUP_BUCKET", ""),
		Region:    getEnv("BACKUP_REGION", "auto"),
		Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
		AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
		Schedule:  getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"), // 3 AM daily
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
