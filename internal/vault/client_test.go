package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sharpefolio/internal/config"
)

type fakeVault struct {
	secrets map[string]map[string]interface{}
	sealed  atomic.Bool
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/v1/sys/health" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"initialized": true,
			"sealed":      f.sealed.Load(),
			"standby":     false,
			"version":     "1.15.0",
		})
		return
	}

	if r.Header.Get("X-Vault-Token") != "test-token" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	data, ok := f.secrets[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"data":     data,
			"metadata": map[string]interface{}{"version": 3},
		},
	})
}

func newFakeVault(t *testing.T) (*fakeVault, config.VaultConfig) {
	t.Helper()
	fake := &fakeVault{secrets: map[string]map[string]interface{}{
		"/v1/secret/data/sharpefolio": {
			KeyDatabasePassword: "db-secret",
			KeyBinanceAPIKey:    "binance-key",
			KeyTelegramToken:    "",
			"retries":           3,
		},
	}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	return fake, config.VaultConfig{
		Enabled: true,
		Address: server.URL,
		Token:   "test-token",
	}
}

func TestNewClient(t *testing.T) {
	t.Run("defaults mount and path", func(t *testing.T) {
		client, err := NewClient(config.VaultConfig{Address: "http://localhost:8200", Token: "test-token"})
		require.NoError(t, err)
		assert.Equal(t, "secret", client.mount)
		assert.Equal(t, "sharpefolio", client.path)
	})

	t.Run("trims slashes", func(t *testing.T) {
		client, err := NewClient(config.VaultConfig{
			Address: "http://localhost:8200",
			Token:   "test-token",
			Mount:   "/kv/",
			Path:    "/apps/sharpefolio/",
		})
		require.NoError(t, err)
		assert.Equal(t, "kv", client.mount)
		assert.Equal(t, "apps/sharpefolio", client.path)
	})

	t.Run("missing token", func(t *testing.T) {
		t.Setenv("VAULT_TOKEN", "")
		_, err := NewClient(config.VaultConfig{Address: "http://localhost:8200"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vault token is required")
	})
}

func TestClient_Secrets(t *testing.T) {
	_, cfg := newFakeVault(t)
	client, err := NewClient(cfg)
	require.NoError(t, err)

	secrets, err := client.Secrets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "db-secret", secrets[KeyDatabasePassword])
	assert.Equal(t, "binance-key", secrets[KeyBinanceAPIKey])
	assert.NotContains(t, secrets, "retries")
}

func TestClient_SecretsNotFound(t *testing.T) {
	_, cfg := newFakeVault(t)
	cfg.Path = "missing"
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Secrets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret/data/missing")
}

func TestClient_SecretsForbidden(t *testing.T) {
	_, cfg := newFakeVault(t)
	cfg.Token = "wrong-token"
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Secrets(context.Background())
	require.Error(t, err)
}

func TestClient_Health(t *testing.T) {
	fake, cfg := newFakeVault(t)
	client, err := NewClient(cfg)
	require.NoError(t, err)

	require.NoError(t, client.Health(context.Background()))

	fake.sealed.Store(true)
	err = client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed=true")
}

func TestClient_Apply(t *testing.T) {
	_, vaultCfg := newFakeVault(t)
	client, err := NewClient(vaultCfg)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Redis.Password = "keep-me"
	cfg.Alerts.Telegram.BotToken = "existing-token"

	require.NoError(t, client.Apply(context.Background(), cfg))

	assert.Equal(t, "db-secret", cfg.Database.Password)
	assert.Equal(t, "binance-key", cfg.Binance.APIKey)
	assert.Equal(t, "keep-me", cfg.Redis.Password)
	assert.Equal(t, "existing-token", cfg.Alerts.Telegram.BotToken)
}

func TestApplySecrets(t *testing.T) {
	_, vaultCfg := newFakeVault(t)
	cfg := &config.Config{Vault: vaultCfg}

	require.NoError(t, ApplySecrets(context.Background(), cfg))
	assert.Equal(t, "db-secret", cfg.Database.Password)

	t.Setenv("VAULT_TOKEN", "")
	cfg.Vault.Token = ""
	require.Error(t, ApplySecrets(context.Background(), cfg))
}
