// Package vault reads service credentials from a HashiCorp Vault KV v2
// secret and applies them to the loaded configuration.
package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/config"
)

// Secret keys understood by Apply
const (
	KeyDatabasePassword = "database_password"
	KeyRedisPassword    = "redis_password"
	KeyBinanceAPIKey    = "binance_api_key"
	KeyBinanceSecret    = "binance_secret_key"
	KeyTelegramToken    = "telegram_bot_token"
)

// Known insecure development tokens that should trigger warnings.
var insecureDevTokens = map[string]bool{
	"sharpefolio-dev-token": true,
	"root":                  true,
	"dev":                   true,
	"test":                  true,
}

// Client reads one KV v2 secret
type Client struct {
	api   *vaultapi.Client
	mount string
	path  string
}

// NewClient creates a Vault client. Empty address and token fall back to
// VAULT_ADDR and VAULT_TOKEN.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	apiCfg.Timeout = 10 * time.Second
	apiCfg.MaxRetries = 1

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("vault token is required (set vault.token or VAULT_TOKEN)")
	}

	if insecureDevTokens[client.Token()] {
		log.Warn().
			Str("vault_addr", client.Address()).
			Msg("SECURITY WARNING: Using known insecure development token. DO NOT use in production!")
	}
	if strings.HasPrefix(client.Address(), "http://") &&
		!strings.Contains(client.Address(), "localhost") && !strings.Contains(client.Address(), "127.0.0.1") {
		log.Warn().
			Str("vault_addr", client.Address()).
			Msg("SECURITY WARNING: Using unencrypted HTTP connection to non-localhost Vault. Use HTTPS in production!")
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	path := strings.Trim(cfg.Path, "/")
	if path == "" {
		path = "sharpefolio"
	}

	return &Client{api: client, mount: mount, path: path}, nil
}

// Secrets reads the string values of the configured secret
func (c *Client) Secrets(ctx context.Context) (map[string]string, error) {
	logical := fmt.Sprintf("%s/data/%s", c.mount, c.path)

	secret, err := c.api.Logical().ReadWithContext(ctx, logical)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", logical, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %s not found", logical)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secret %s has no data, is %s a KV v2 mount?", logical, c.mount)
	}

	values := make(map[string]string, len(data))
	for key, value := range data {
		s, ok := value.(string)
		if !ok {
			log.Warn().Str("key", key).Str("path", logical).Msg("Ignoring non-string vault secret value")
			continue
		}
		values[key] = s
	}

	log.Debug().Str("path", logical).Int("keys", len(values)).Msg("Vault secret read")
	return values, nil
}

// Health checks that Vault is initialized and unsealed
func (c *Client) Health(ctx context.Context) error {
	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault is not ready: initialized=%t sealed=%t", health.Initialized, health.Sealed)
	}
	return nil
}

// Apply overwrites credentials in cfg with the non-empty values of the secret
func (c *Client) Apply(ctx context.Context, cfg *config.Config) error {
	secrets, err := c.Secrets(ctx)
	if err != nil {
		return err
	}

	targets := map[string]*string{
		KeyDatabasePassword: &cfg.Database.Password,
		KeyRedisPassword:    &cfg.Redis.Password,
		KeyBinanceAPIKey:    &cfg.Binance.APIKey,
		KeyBinanceSecret:    &cfg.Binance.SecretKey,
		KeyTelegramToken:    &cfg.Alerts.Telegram.BotToken,
	}

	applied := 0
	for key, target := range targets {
		if value := secrets[key]; value != "" {
			*target = value
			applied++
		}
	}

	log.Info().Int("applied", applied).Msg("Credentials loaded from Vault")
	return nil
}

// ApplySecrets is a config.SecretsFunc that reads cfg.Vault and applies its secret
func ApplySecrets(ctx context.Context, cfg *config.Config) error {
	client, err := NewClient(cfg.Vault)
	if err != nil {
		return err
	}
	return client.Apply(ctx, cfg)
}
