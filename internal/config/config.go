// Package config provides gateway configuration loaded from environment
// variables with defaults and validation: server timeouts, logging, the
// SQLite path, the public-key directory, chain-client selection, rate
// limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-header settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// EthereumConfig holds the JSON-RPC anchoring settings (AGRI_ETH_*).
type EthereumConfig struct {
	RPCURL       string        // AGRI_ETH_RPC_URL
	FromAddress  string        // AGRI_ETH_FROM
	ToAddress    string        // AGRI_ETH_TO (defaults to AGRI_ETH_FROM)
	PollInterval time.Duration // AGRI_ETH_POLL_MS
	MaxWait      time.Duration // AGRI_ETH_MAX_WAIT_MS
}

// Signature verification modes.
const (
	SigModeCrypto = "crypto"
	SigModeStub   = "stub"
)

// ChainModeEthereum selects the JSON-RPC client; any other value selects
// the deterministic mock.
const ChainModeEthereum = "ethereum"

// Config holds all configuration values for the gateway.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Gateway
	SQLitePath    string // AGRI_SQLITE_PATH
	PublicKeysDir string // AGRI_PUBLIC_KEYS_DIR
	ChainMode     string // AGRI_CHAIN_MODE ("ethereum" or mock)
	SignatureMode string // AGRI_SIG_MODE ("crypto" or "stub")
	Ethereum      EthereumConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// Load reads configuration from the environment, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Gateway
		SQLitePath:    getenv("AGRI_SQLITE_PATH", "backend-cpp/data/agri_gateway.db"),
		PublicKeysDir: getenv("AGRI_PUBLIC_KEYS_DIR", "backend-cpp/keys/public"),
		ChainMode:     strings.ToLower(getenv("AGRI_CHAIN_MODE", "mock")),
		SignatureMode: strings.ToLower(getenv("AGRI_SIG_MODE", SigModeCrypto)),
		Ethereum: EthereumConfig{
			RPCURL:       getenv("AGRI_ETH_RPC_URL", "http://127.0.0.1:8545"),
			FromAddress:  getenv("AGRI_ETH_FROM", ""),
			ToAddress:    getenv("AGRI_ETH_TO", ""),
			PollInterval: getms("AGRI_ETH_POLL_MS", 1000*time.Millisecond),
			MaxWait:      getms("AGRI_ETH_MAX_WAIT_MS", 15000*time.Millisecond),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 50.0),
		RateBurst: getint("RATE_BURST", 100),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "telemetry-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.SignatureMode != SigModeStub {
		cfg.SignatureMode = SigModeCrypto
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.SQLitePath) == "" {
		return cfg, errors.New("AGRI_SQLITE_PATH must not be empty")
	}
	if cfg.Ethereum.PollInterval <= 0 || cfg.Ethereum.MaxWait <= 0 {
		return cfg, errors.New("AGRI_ETH_POLL_MS and AGRI_ETH_MAX_WAIT_MS must be positive")
	}
	if cfg.ChainMode == ChainModeEthereum {
		if !strings.HasPrefix(cfg.Ethereum.RPCURL, "http://") && !strings.HasPrefix(cfg.Ethereum.RPCURL, "https://") {
			return cfg, errors.New("AGRI_ETH_RPC_URL must be an http(s) URL")
		}
		if strings.TrimSpace(cfg.Ethereum.FromAddress) == "" {
			return cfg, errors.New("AGRI_ETH_FROM must be set in ethereum chain mode")
		}
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getms reads a bare-integer millisecond value (the AGRI_ETH_* convention).
func getms(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
