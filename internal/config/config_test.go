package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainwatch/internal/chains"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Port:          "8080",
		Env:           "development",
		SyncTxLimit:   50,
		SyncTimeout:   time.Minute,
		HealthTimeout: 5 * time.Second,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultSyncTxLimit, cfg.SyncTxLimit)
	assert.Equal(t, DefaultSyncTimeout, cfg.SyncTimeout)
	assert.Equal(t, DefaultHealthTimeout, cfg.HealthTimeout)
	assert.Equal(t, DefaultPriceAPIURL, cfg.PriceAPIURL)
	assert.Zero(t, cfg.ResyncInterval, "scheduled job is off by default")
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Len(t, cfg.Chains(), len(chains.Defaults()))
}

func TestLoad_ChainOverrides(t *testing.T) {
	setEnv(t, "ENABLED_CHAINS", "Ethereum, solana,")
	setEnv(t, "CHAIN_ETHEREUM_RPC_URL", "https://eth.example.org")
	setEnv(t, "CHAIN_ETHEREUM_FALLBACK_URLS", "https://a.example.org, https://b.example.org")
	setEnv(t, "SYNC_TIMEOUT", "15s")
	setEnv(t, "KAFKA_BROKERS", "k1:9092,k2:9092")
	setEnv(t, "CORS_ORIGINS", "https://ops.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []chains.ID{chains.Ethereum, chains.Solana}, cfg.EnabledChains)
	assert.Equal(t, 15*time.Second, cfg.SyncTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://ops.example.org"}, cfg.CORSOrigins)

	got := cfg.Chains()
	require.Len(t, got, 2)
	assert.Equal(t, chains.Ethereum, got[0].ID)
	assert.Equal(t, "https://eth.example.org", got[0].RPCURL)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, got[0].FallbackURLs)
	assert.Equal(t, chains.Solana, got[1].ID)
	assert.NotEmpty(t, got[1].RPCURL, "chains without overrides keep their defaults")
}

func TestLoad_UnknownChain(t *testing.T) {
	setEnv(t, "ENABLED_CHAINS", "ethereum,dogecoin")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, chains.ErrUnknownChain)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT must be numeric"},
		{"bad env", func(c *Config) { c.Env = "prod" }, "ENV must be"},
		{"zero tx limit", func(c *Config) { c.SyncTxLimit = 0 }, "SYNC_TX_LIMIT"},
		{"zero sync timeout", func(c *Config) { c.SyncTimeout = 0 }, "SYNC_TIMEOUT"},
		{"negative resync", func(c *Config) { c.ResyncInterval = -time.Second }, "RESYNC_INTERVAL"},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"} }, "KAFKA_RISK_TOPIC"},
		{"bad rpc scheme", func(c *Config) {
			c.Endpoints = map[chains.ID]Endpoints{chains.Polygon: {RPCURL: "ftp://polygon.example.org"}}
		}, "chain polygon"},
		{"fallback without host", func(c *Config) {
			c.Endpoints = map[chains.ID]Endpoints{chains.Base: {FallbackURLs: []string{"https://"}}}
		}, "has no host"},
		{"websocket rpc", func(c *Config) {
			c.Endpoints = map[chains.ID]Endpoints{chains.Base: {RPCURL: "wss://base.example.org"}}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BAD", "ninety")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DUR_BAD", time.Second))
}
