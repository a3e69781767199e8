package app

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ambirelabs/walletcore/src/service"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Database configuration (required)
	DSN *string
	// Redis configuration (required)
	RedisAddr *string
	// Relayer backend base URL (required)
	RelayerURL *string
	// API secret for validating requests from frontend (required)
	APISecret *string

	// =========================== OPTIONAL ===========================

	// Logging configuration
	LogLevel *string

	// HTTP server configuration
	Port *string

	// CORS configuration
	AllowOrigins *[]string

	// Reconciliation polling interval in seconds
	PollingInterval *int

	// Migration configuration
	MigrationPath *string

	// Per-chain RPC and bundler endpoints (all have defaults)
	Chains map[int64]service.ChainConfig
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	loadRequiredConfig(config)
	loadOptionalConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatalf("REQUIRED: DB_URL not set in environment")
	}
	config.DSN = &dsn

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		log.Fatalf("REQUIRED: REDIS_URL not set in environment")
	}
	config.RedisAddr = &redisAddr

	relayerURL := os.Getenv("RELAYER_URL")
	if relayerURL == "" {
		log.Fatalf("REQUIRED: RELAYER_URL not set in environment")
	}
	config.RelayerURL = &relayerURL

	apiSecret := os.Getenv("API_SECRET")
	if apiSecret == "" {
		log.Fatalf("REQUIRED: API_SECRET not set in environment")
	}
	config.APISecret = &apiSecret

	loadCORSConfig(config)
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	pollingInterval := getPollingInterval()
	config.PollingInterval = &pollingInterval

	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	loadChainConfig(config)
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOrigins := splitList(os.Getenv("ALLOW_ORIGINS"))

	if len(allowOrigins) == 0 {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "development" || environment == "dev" {
			allowOrigins = []string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = &allowOrigins
}

// loadChainConfig loads per-chain endpoints with public node defaults. The
// bundler endpoint falls back to the chain's RPC endpoint when not set.
func loadChainConfig(config *AppConfig) {
	defaults := map[int64]struct {
		name   string
		rpcURL string
	}{
		11155111: {"SEPOLIA", "https://ethereum-sepolia-rpc.publicnode.com"},
		421614:   {"ARBITRUM_SEPOLIA", "https://arbitrum-sepolia-rpc.publicnode.com"},
		84532:    {"BASE_SEPOLIA", "https://base-sepolia-rpc.publicnode.com"},
		11155420: {"OPTIMISM_SEPOLIA", "https://optimism-sepolia-rpc.publicnode.com"},
		80002:    {"POLYGON_AMOY", "https://polygon-amoy-rpc.publicnode.com"},
	}

	config.Chains = make(map[int64]service.ChainConfig, len(defaults))
	for chainID, def := range defaults {
		rpcURL := getEnvWithDefault(def.name+"_RPC_URL", def.rpcURL)
		bundlerURL := getEnvWithDefault(def.name+"_BUNDLER_URL", rpcURL)
		batchMax := 0
		if raw := os.Getenv(def.name + "_BATCH_MAX_COUNT"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				batchMax = parsed
			}
		}
		config.Chains[chainID] = service.ChainConfig{
			RPCURL:        rpcURL,
			BundlerURL:    bundlerURL,
			BatchMaxCount: batchMax,
		}
	}
}

// getPollingInterval parses polling interval from environment with default fallback
func getPollingInterval() int {
	pollingIntervalStr := os.Getenv("POLLING_INTERVAL")
	if pollingIntervalStr == "" {
		return 60 // default to 1 minute
	}

	if parsed, err := strconv.Atoi(pollingIntervalStr); err == nil {
		return parsed
	}

	log.Printf("Warning: Invalid POLLING_INTERVAL value '%s', using default 60 seconds", pollingIntervalStr)
	return 60
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
