package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageBackendS3       = "s3"
	StorageBackendSupabase = "supabase"
)

type Config struct {
	// fal
	FalKey          string
	FalModel        string
	FalQueueURL     string
	FalRunURL       string
	FalWebhookURL   string
	FalJWKSURL      string
	FalSkipVerify   bool
	FalTimeout      time.Duration
	WebhookMaxSkew  time.Duration
	KeySetTTL       time.Duration
	DownloadTimeout time.Duration
	IngestLease     time.Duration
	SignedURLTTL    time.Duration

	// Auth
	JWTSecret string

	// Storage
	StorageBackend    string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Database
	DatabaseURL string

	// Server
	Port        string
	Environment string
	BaseURL     string
}

func Load() (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		FalKey:          getEnv("FAL_KEY", ""),
		FalModel:        getEnv("FAL_MODEL", "fal-ai/nano-banana/edit"),
		FalQueueURL:     getEnv("FAL_QUEUE_URL", "https://queue.fal.run"),
		FalRunURL:       getEnv("FAL_RUN_URL", "https://fal.run"),
		FalWebhookURL:   getEnv("FAL_WEBHOOK_URL", ""),
		FalJWKSURL:      getEnv("FAL_JWKS_URL", "https://rest.alpha.fal.ai/.well-known/jwks.json"),
		FalSkipVerify:   getEnvBool("FAL_WEBHOOK_SKIP_VERIFY", false),
		FalTimeout:      getEnvSeconds("FAL_TIMEOUT_SECONDS", 120),
		WebhookMaxSkew:  getEnvSeconds("WEBHOOK_MAX_SKEW_SECONDS", 300),
		KeySetTTL:       time.Duration(getEnvInt("KEYSET_TTL_HOURS", 24)) * time.Hour,
		DownloadTimeout: getEnvSeconds("DOWNLOAD_TIMEOUT_SECONDS", 30),
		IngestLease:     getEnvSeconds("INGEST_LEASE_SECONDS", 300),
		SignedURLTTL:    getEnvSeconds("SIGNED_URL_TTL_SECONDS", 600),

		JWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		StorageBackend:    strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendS3)),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3ForcePathStyle:  getEnvBool("S3_FORCE_PATH_STYLE", true),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "images"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.FalKey == "" {
		return fmt.Errorf("FAL_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.FalSkipVerify && c.IsProduction() {
		return fmt.Errorf("FAL_WEBHOOK_SKIP_VERIFY cannot be enabled in production")
	}
	switch c.StorageBackend {
	case StorageBackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	case StorageBackendSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required for the supabase storage backend")
		}
		if c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required for the supabase storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("DOWNLOAD_TIMEOUT_SECONDS must be positive")
	}
	if c.IngestLease <= 0 {
		return fmt.Errorf("INGEST_LEASE_SECONDS must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// KeyPrefix is the top-level storage namespace for this environment.
func (c *Config) KeyPrefix() string {
	if c.IsProduction() {
		return "prod"
	}
	return "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
