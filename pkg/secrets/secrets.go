package secrets

import (
	"context"

	"github.com/magicyang-1/chatshare-sub001/pkg/config"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Secret keys looked up in Vault, with the env variable of the same name as fallback
const (
	KeyAIAPIKey  = "ai_api_key"
	KeyJWTSecret = "jwt_secret"
)

// NewManagerFromConfig builds the Vault-backed manager described by cfg.Vault
func NewManagerFromConfig(cfg *config.Config, log *logger.Logger) (*VaultManager, error) {
	return NewVaultManager(VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
		Timeout:     cfg.Vault.Timeout,
		MaxRetries:  3,
		Enabled:     cfg.Vault.Enabled,
	}, log)
}

// ApplyToConfig overrides the provider API key and JWT secret with values from m.
// Keys the manager cannot find leave the configured value untouched.
func ApplyToConfig(ctx context.Context, m Manager, cfg *config.Config) {
	cfg.Provider.APIKey = m.GetSecretWithDefault(ctx, KeyAIAPIKey, cfg.Provider.APIKey)
	cfg.JWT.Secret = m.GetSecretWithDefault(ctx, KeyJWTSecret, cfg.JWT.Secret)
}
