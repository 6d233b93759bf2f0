package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort string
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Upstream UpstreamConfig
	Vault    VaultConfig
	Ledger   LedgerConfig
	Recorder RecorderConfig
	Archive  ArchiveConfig
	Audit    AuditConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds lookup cache settings
type CacheConfig struct {
	CredentialCacheSize int
	CredentialCacheTTL  time.Duration
	PricingCacheSize    int
	PricingCacheTTL     time.Duration
}

// RedisConfig holds Redis connection settings for the usage queue
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// UpstreamConfig holds settings for the upstream provider API
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
}

// VaultConfig holds credential encryption settings
type VaultConfig struct {
	MasterKey string
}

// LedgerConfig holds budget admission settings
type LedgerConfig struct {
	// DefaultCeilingUSD caps monthly spend for accounts without a budget
	DefaultCeilingUSD float64
}

// RecorderConfig holds usage recording settings
type RecorderConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// ArchiveConfig holds the optional S3 usage archive settings
type ArchiveConfig struct {
	Enabled bool
	Bucket  string
	Region  string
	Prefix  string
	PodName string
}

// AuditConfig holds the rotating request audit log settings
type AuditConfig struct {
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	BufferSize       int
	FlushInterval    time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	masterKey := os.Getenv("ENCRYPTION_MASTER_KEY")
	if masterKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_MASTER_KEY is required")
	}

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			CredentialCacheSize: getEnvInt("CACHE_CREDENTIAL_SIZE", 1000),
			CredentialCacheTTL:  getEnvDuration("CACHE_CREDENTIAL_TTL", 1*time.Minute),
			PricingCacheSize:    getEnvInt("CACHE_PRICING_SIZE", 200),
			PricingCacheTTL:     getEnvDuration("CACHE_PRICING_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvString("REDIS_ENABLED", "false") == "true",
			Address:  getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Upstream: UpstreamConfig{
			BaseURL: getEnvString("UPSTREAM_BASE_URL", "https://api.openai.com"),
			Timeout: getEnvDuration("UPSTREAM_TIMEOUT", 120*time.Second),
		},
		Vault: VaultConfig{
			MasterKey: masterKey,
		},
		Ledger: LedgerConfig{
			DefaultCeilingUSD: getEnvFloat("LEDGER_DEFAULT_CEILING_USD", 1.00),
		},
		Recorder: RecorderConfig{
			BatchSize:    getEnvInt("RECORDER_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("RECORDER_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("RECORDER_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("RECORDER_RETRY_BACKOFF", 1*time.Second),
		},
		Archive: ArchiveConfig{
			Enabled: getEnvString("ARCHIVE_ENABLED", "false") == "true",
			Bucket:  getEnvString("ARCHIVE_S3_BUCKET", ""),
			Region:  getEnvString("ARCHIVE_S3_REGION", "us-east-1"),
			Prefix:  getEnvString("ARCHIVE_S3_PREFIX", "usage/"),
			PodName: getEnvString("POD_NAME", "gateway-0"),
		},
		Audit: AuditConfig{
			FilePathTemplate: getEnvString("AUDIT_FILE_PATH_TEMPLATE", "/var/log/costshield/audit-%s.jsonl"),
			MaxSize:          getEnvInt64("AUDIT_MAX_SIZE", 10_485_760),
			MaxFiles:         getEnvInt("AUDIT_MAX_FILES", 5),
			BufferSize:       getEnvInt("AUDIT_BUFFER_SIZE", 100),
			FlushInterval:    getEnvDuration("AUDIT_FLUSH_INTERVAL", 60*time.Second),
		},
	}

	return cfg, nil
}
