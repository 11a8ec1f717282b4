package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "dev")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "supabase", cfg.StorageBackend)
	assert.Equal(t, int64(10<<20), cfg.MaxAttachmentBytes)
	assert.Equal(t, 72*time.Hour, cfg.JWTTTL)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.StorageConfigured())
}

func TestLoadConfigRejectsUnknownStorageBackend(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORAGE_BACKEND", "ftp")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestStorageConfiguredForS3(t *testing.T) {
	cfg := &Config{StorageBackend: "s3", S3Bucket: "pets", S3AccessKeyID: "id", S3SecretKey: "key"}
	assert.True(t, cfg.StorageConfigured())

	cfg.S3SecretKey = ""
	assert.False(t, cfg.StorageConfigured())
}
