package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	// Environment implementation: "mock" or "nitro".
	TeeRuntime string

	// Outbound bridge: "direct" for plain HTTP, otherwise host:port of
	// the length-prefixed transport endpoint.
	BridgeAddr string

	CoreCollectionMint string
	ExtCollectionMint  string

	// Base58 Ed25519 key the boundary gateway signs envelopes with.
	// Empty disables gateway auth (development only).
	GatewayPubkey string

	// Extension module sources. WasmBaseURL selects the bridge loader,
	// otherwise WasmDir selects the file loader.
	WasmDir     string
	WasmBaseURL string

	// Comma-separated id=hash pairs registering trusted extensions.
	// Empty refuses every extension.
	TrustedWasmModules string
	// Comma-separated hex SHA-256 hashes of trusted TSA signing keys.
	TrustedTSAKeys string

	MaxSingleContentBytes uint64
	MaxConcurrentBytes    uint64

	WasmFuelLimit   uint64
	WasmMemoryBytes int64

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":4000"
	}
	return Config{
		HTTPAddr:               addr,
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		TeeRuntime:             envDefault("TEE_RUNTIME", "mock"),
		BridgeAddr:             envDefault("BRIDGE_ADDR", "127.0.0.1:8000"),
		CoreCollectionMint:     os.Getenv("COLLECTION_MINT"),
		ExtCollectionMint:      os.Getenv("EXT_COLLECTION_MINT"),
		GatewayPubkey:          os.Getenv("GATEWAY_PUBKEY"),
		WasmDir:                envDefault("WASM_DIR", "./wasm-modules"),
		WasmBaseURL:            os.Getenv("WASM_BASE_URL"),
		TrustedWasmModules:     os.Getenv("TRUSTED_WASM_MODULES"),
		TrustedTSAKeys:         os.Getenv("TRUSTED_TSA_KEYS"),
		MaxSingleContentBytes:  envUint64Default("MAX_SINGLE_CONTENT_BYTES", 2*1024*1024*1024),
		MaxConcurrentBytes:     envUint64Default("MAX_CONCURRENT_BYTES", 8*1024*1024*1024),
		WasmFuelLimit:          envUint64Default("WASM_FUEL_LIMIT", 100_000_000),
		WasmMemoryBytes:        int64(envUint64Default("WASM_MEMORY_BYTES", 64*1024*1024)),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envUint64Default(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil || parsed == 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
