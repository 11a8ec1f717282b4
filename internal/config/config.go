package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port      string        `env:"PORT" envDefault:"8080"`
	DBUrl     string        `env:"DB_URL"`
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"72h"`
	AppEnv    string        `env:"APP_ENV" envDefault:"production"`
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`

	StorageBackend     string `env:"STORAGE_BACKEND" envDefault:"supabase"`
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseBucket     string `env:"SUPABASE_BUCKET"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`

	S3Bucket        string `env:"S3_BUCKET"`
	S3Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3AccessKeyID   string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey     string `env:"S3_SECRET_ACCESS_KEY"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`
	S3UsePathStyle  bool   `env:"S3_USE_PATH_STYLE" envDefault:"false"`

	RedisURL string `env:"REDIS_URL"`

	MaxAttachmentBytes int64 `env:"MAX_ATTACHMENT_BYTES" envDefault:"10485760"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg.AppEnv = normalizeEnv(cfg.AppEnv)
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch cfg.StorageBackend {
	case "supabase", "s3":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be supabase or s3, got %q", cfg.StorageBackend)
	}
	if cfg.MaxAttachmentBytes <= 0 {
		return nil, fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive")
	}

	return cfg, nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

// StorageConfigured reports whether the selected object storage backend has
// everything it needs to accept uploads.
func (c *Config) StorageConfigured() bool {
	if c == nil {
		return false
	}
	switch c.StorageBackend {
	case "s3":
		return c.S3Bucket != "" && c.S3AccessKeyID != "" && c.S3SecretKey != ""
	default:
		return c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
	}
}
