// Package config provides configuration management functionality.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aristath/shadowtrade/internal/domain"
)

// DefaultMaxInputBytes bounds a single encrypted input.
const DefaultMaxInputBytes = 64 * 1024

// DefaultProgramID is the program id used when PROGRAM_ID is unset.
func DefaultProgramID() domain.Pubkey {
	return domain.Pubkey(sha256.Sum256([]byte("shadow-trade-mxe")))
}

// Config holds application configuration
type Config struct {
	DataDir       string `yaml:"data_dir"` // Base directory for the ledger database (always absolute)
	Port          int    `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	LogPretty     bool   `yaml:"log_pretty"`
	DevMode       bool   `yaml:"dev_mode"`
	ProgramID     string `yaml:"program_id"` // base58
	MaxInputBytes int    `yaml:"max_input_bytes"`
	AuthMaxSkew   int    `yaml:"auth_max_skew_seconds"`
	WalletDir     string `yaml:"wallet_dir"`

	MPC    MPCConfig    `yaml:"mpc"`
	Backup BackupConfig `yaml:"backup"`
}

// MPCConfig configures the out-of-band dispatcher
type MPCConfig struct {
	ClusterURL     string `yaml:"cluster_url"` // Empty disables dispatching
	Workers        int    `yaml:"workers"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BackupConfig configures ledger snapshots
type BackupConfig struct {
	Schedule    string `yaml:"schedule"` // cron expression (seconds field included)
	Keep        int    `yaml:"keep"`     // Local snapshots retained
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DataDir:       "./data",
		Port:          8080,
		LogLevel:      "info",
		ProgramID:     DefaultProgramID().String(),
		MaxInputBytes: DefaultMaxInputBytes,
		AuthMaxSkew:   300,
		MPC: MPCConfig{
			Workers:        2,
			TimeoutSeconds: 120,
		},
		Backup: BackupConfig{
			Schedule: "0 0 3 * * *",
			Keep:     7,
			S3Region: "us-east-1",
		},
	}
}

// Load reads configuration from the optional YAML file named by
// SHADOWTRADE_CONFIG, then from environment variables (which take precedence).
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("SHADOWTRADE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.WalletDir == "" {
		cfg.WalletDir = filepath.Join(cfg.DataDir, "wallets")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("SHADOWTRADE_DATA_DIR", c.DataDir)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogPretty = getEnvAsBool("LOG_PRETTY", c.LogPretty)
	c.DevMode = getEnvAsBool("DEV_MODE", c.DevMode)
	c.ProgramID = getEnv("PROGRAM_ID", c.ProgramID)
	c.MaxInputBytes = getEnvAsInt("MAX_INPUT_BYTES", c.MaxInputBytes)
	c.AuthMaxSkew = getEnvAsInt("AUTH_MAX_SKEW_SECONDS", c.AuthMaxSkew)
	c.WalletDir = getEnv("WALLET_DIR", c.WalletDir)

	c.MPC.ClusterURL = getEnv("MPC_CLUSTER_URL", c.MPC.ClusterURL)
	c.MPC.Workers = getEnvAsInt("MPC_WORKERS", c.MPC.Workers)
	c.MPC.TimeoutSeconds = getEnvAsInt("MPC_TIMEOUT_SECONDS", c.MPC.TimeoutSeconds)

	c.Backup.Schedule = getEnv("BACKUP_SCHEDULE", c.Backup.Schedule)
	c.Backup.Keep = getEnvAsInt("BACKUP_KEEP", c.Backup.Keep)
	c.Backup.S3Bucket = getEnv("BACKUP_S3_BUCKET", c.Backup.S3Bucket)
	c.Backup.S3Region = getEnv("BACKUP_S3_REGION", c.Backup.S3Region)
	c.Backup.S3Endpoint = getEnv("BACKUP_S3_ENDPOINT", c.Backup.S3Endpoint)
	c.Backup.S3AccessKey = getEnv("BACKUP_S3_ACCESS_KEY", c.Backup.S3AccessKey)
	c.Backup.S3SecretKey = getEnv("BACKUP_S3_SECRET_KEY", c.Backup.S3SecretKey)
}

// Validate checks that limits are positive and the program id parses
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxInputBytes <= 0 {
		return fmt.Errorf("MAX_INPUT_BYTES must be positive, got %d", c.MaxInputBytes)
	}
	if c.AuthMaxSkew <= 0 {
		return fmt.Errorf("AUTH_MAX_SKEW_SECONDS must be positive, got %d", c.AuthMaxSkew)
	}
	if c.MPC.Workers <= 0 {
		return fmt.Errorf("MPC_WORKERS must be positive, got %d", c.MPC.Workers)
	}
	if c.MPC.TimeoutSeconds <= 0 {
		return fmt.Errorf("MPC_TIMEOUT_SECONDS must be positive, got %d", c.MPC.TimeoutSeconds)
	}
	if c.Backup.Keep < 0 {
		return fmt.Errorf("BACKUP_KEEP must not be negative, got %d", c.Backup.Keep)
	}
	if _, err := domain.ParsePubkey(c.ProgramID); err != nil {
		return fmt.Errorf("invalid PROGRAM_ID: %w", err)
	}
	return nil
}

// Program returns the parsed program id. Validate must have succeeded.
func (c *Config) Program() domain.Pubkey {
	id, err := domain.ParsePubkey(c.ProgramID)
	if err != nil {
		return DefaultProgramID()
	}
	return id
}

// LedgerPath is the ledger database file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// BackupDir holds local ledger snapshots.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// AuthSkew returns the allowed request timestamp skew.
func (c *Config) AuthSkew() time.Duration {
	return time.Duration(c.AuthMaxSkew) * time.Second
}

// MPCTimeout returns the per-job executor timeout.
func (c *Config) MPCTimeout() time.Duration {
	return time.Duration(c.MPC.TimeoutSeconds) * time.Second
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
