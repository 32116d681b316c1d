// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/chainwatch/internal/chains"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // price cache (optional)

	// Event sinks and tracing
	KafkaBrokers   []string
	KafkaRiskTopic string
	OTLPEndpoint   string

	// External data
	PriceAPIURL    string
	PriceCacheTTL  time.Duration
	ExplorerAPIURL string
	ExplorerAPIKey string

	// Chains
	EnabledChains []chains.ID // empty means every known chain
	Endpoints     map[chains.ID]Endpoints

	// Sync
	SyncTxLimit    int
	SyncTimeout    time.Duration
	HealthTimeout  time.Duration
	RPCRatePerSec  float64
	ResyncInterval time.Duration // zero disables the scheduled job

	// Security
	RateLimitRPS int
	CORSOrigins  []string // empty allows any origin
}

// Endpoints overrides a chain's RPC endpoints.
type Endpoints struct {
	RPCURL       string
	FallbackURLs []string
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultPriceAPIURL    = "https://api.coingecko.com/api/v3"
	DefaultExplorerAPIURL = "https://api.etherscan.io/v2/api"
	DefaultKafkaTopic     = "chainwatch.risk"
	DefaultSyncTxLimit    = 50
	DefaultSyncTimeout    = 60 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
	DefaultPriceCacheTTL  = 5 * time.Minute
	DefaultRPCRatePerSec  = 10
	DefaultRateLimit      = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS"),
		KafkaRiskTopic: getEnv("KAFKA_RISK_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PriceAPIURL:    getEnv("PRICE_API_URL", DefaultPriceAPIURL),
		PriceCacheTTL:  getEnvDuration("PRICE_CACHE_TTL", DefaultPriceCacheTTL),
		ExplorerAPIURL: getEnv("EXPLORER_API_URL", DefaultExplorerAPIURL),
		ExplorerAPIKey: os.Getenv("EXPLORER_API_KEY"),
		SyncTxLimit:    int(getEnvInt64("SYNC_TX_LIMIT", DefaultSyncTxLimit)),
		SyncTimeout:    getEnvDuration("SYNC_TIMEOUT", DefaultSyncTimeout),
		HealthTimeout:  getEnvDuration("HEALTH_TIMEOUT", DefaultHealthTimeout),
		RPCRatePerSec:  getEnvFloat("RPC_RATE_PER_SEC", DefaultRPCRatePerSec),
		ResyncInterval: getEnvDuration("RESYNC_INTERVAL", 0),
		RateLimitRPS:   int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		CORSOrigins:    getEnvList("CORS_ORIGINS"),
		Endpoints:      make(map[chains.ID]Endpoints),
	}

	for _, id := range getEnvList("ENABLED_CHAINS") {
		cfg.EnabledChains = append(cfg.EnabledChains, chains.ID(strings.ToLower(id)))
	}
	for _, c := range chains.Defaults() {
		prefix := "CHAIN_" + strings.ToUpper(string(c.ID)) + "_"
		ep := Endpoints{
			RPCURL:       os.Getenv(prefix + "RPC_URL"),
			FallbackURLs: getEnvList(prefix + "FALLBACK_URLS"),
		}
		if ep.RPCURL != "" || len(ep.FallbackURLs) > 0 {
			cfg.Endpoints[c.ID] = ep
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production, got %q", c.Env)
	}
	if c.SyncTxLimit <= 0 {
		return fmt.Errorf("SYNC_TX_LIMIT must be positive")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT must be positive")
	}
	if c.HealthTimeout <= 0 {
		return fmt.Errorf("HEALTH_TIMEOUT must be positive")
	}
	if c.ResyncInterval < 0 {
		return fmt.Errorf("RESYNC_INTERVAL must not be negative")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaRiskTopic == "" {
		return fmt.Errorf("KAFKA_RISK_TOPIC is required when KAFKA_BROKERS is set")
	}

	known := make(map[chains.ID]bool)
	for _, d := range chains.Defaults() {
		known[d.ID] = true
	}
	for _, id := range c.EnabledChains {
		if !known[id] {
			return fmt.Errorf("ENABLED_CHAINS: %w: %s", chains.ErrUnknownChain, id)
		}
	}
	for id, ep := range c.Endpoints {
		urls := ep.FallbackURLs
		if ep.RPCURL != "" {
			urls = append([]string{ep.RPCURL}, urls...)
		}
		for _, u := range urls {
			if err := checkRPCURL(u); err != nil {
				return fmt.Errorf("chain %s: %w", id, err)
			}
		}
	}
	return nil
}

// Chains builds the chain configurations: the built-in defaults, limited to
// EnabledChains and with endpoint overrides applied.
func (c *Config) Chains() []chains.Config {
	enabled := make(map[chains.ID]bool)
	for _, id := range c.EnabledChains {
		enabled[id] = true
	}
	var out []chains.Config
	for _, d := range chains.Defaults() {
		if len(enabled) > 0 && !enabled[d.ID] {
			continue
		}
		if ep, ok := c.Endpoints[d.ID]; ok {
			if ep.RPCURL != "" {
				d.RPCURL = ep.RPCURL
			}
			if len(ep.FallbackURLs) > 0 {
				d.FallbackURLs = ep.FallbackURLs
			}
		}
		out = append(out, d)
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func checkRPCURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid RPC URL %q", raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("RPC URL %q must use http, https, ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("RPC URL %q has no host", raw)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
