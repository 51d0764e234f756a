package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Provider.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Provider.TextTimeout)
	assert.Equal(t, 60*time.Second, cfg.Provider.ImageTimeout)
	assert.Equal(t, int64(50<<20), cfg.Storage.MaxFileSize)
	assert.Equal(t, 1000, cfg.Provider.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Provider.Temperature, 1e-9)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AI_TEXT_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Provider.TextTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("AI_IMAGE_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRefusesDefaultJWTSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)
	cfg.JWT.Secret = DefaultJWTSecret
	assert.NoError(t, cfg.Validate())

	cfg.Server.Env = "production"
	assert.Error(t, cfg.Validate())

	cfg.JWT.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg.JWT.Secret = "a-real-secret"
	assert.NoError(t, cfg.Validate())

	jwt, _ := reflect.TypeOf(Config{}).FieldByName("JWT")
	secret, _ := jwt.Type.FieldByName("Secret")
	assert.Equal(t, DefaultJWTSecret, secret.Tag.Get("envDefault"))
}
