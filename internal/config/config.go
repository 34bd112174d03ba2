// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, the durable store location, sync and cache tuning, rate limiting,
// and observability.
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

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-contact-sync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SyncConfig tunes the queue drain.
type SyncConfig struct {
	RetryCeiling  int           // failed attempts before an item is dropped
	DrainInterval time.Duration // periodic drain tick while online
	FlagTTL       time.Duration // staleness cutoff for the in-progress flag
	ItemTimeout   time.Duration // per-item remote dispatch timeout
	PingInterval  time.Duration // connectivity probe interval
}

// CacheConfig tunes the scoped response cache.
type CacheConfig struct {
	TTL        time.Duration // request-cache entry lifetime
	QRTTL      time.Duration // QR-artifact entry lifetime
	SweepAge   time.Duration // eviction cutoff for the capacity sweep
	RefreshRPS float64       // background revalidations per second
}

// RemoteConfig locates the upstream contact API.
type RemoteConfig struct {
	BaseURL string        // REMOTE_BASE_URL
	Token   string        // REMOTE_TOKEN (bearer, optional)
	Timeout time.Duration // transport-level request timeout
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Durable store
	DBPath        string // SQLite path
	StoreMaxBytes int64  // 0 = unlimited

	// Engine
	Sync   SyncConfig
	Cache  CacheConfig
	Remote RemoteConfig

	// Rate limiting (manual sync trigger)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
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
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Durable store
		DBPath:        getenv("DB_PATH", "sync.db"),
		StoreMaxBytes: int64(getint("STORE_MAX_BYTES", 0)),

		// Engine
		Sync: SyncConfig{
			RetryCeiling:  getint("RETRY_CEILING", 10),
			DrainInterval: getdur("DRAIN_INTERVAL", 30*time.Second),
			FlagTTL:       getdur("SYNC_FLAG_TTL", 10*time.Minute),
			ItemTimeout:   getdur("SYNC_ITEM_TIMEOUT", 30*time.Second),
			PingInterval:  getdur("PING_INTERVAL", 15*time.Second),
		},
		Cache: CacheConfig{
			TTL:        getdur("CACHE_TTL", 30*time.Minute),
			QRTTL:      getdur("QR_CACHE_TTL", 24*time.Hour),
			SweepAge:   getdur("CACHE_SWEEP_AGE", time.Hour),
			RefreshRPS: getfloat("CACHE_REFRESH_RPS", 1.0),
		},
		Remote: RemoteConfig{
			BaseURL: getenv("REMOTE_BASE_URL", "http://localhost:9090/api"),
			Token:   getenv("REMOTE_TOKEN", ""),
			Timeout: getdur("REMOTE_TIMEOUT", 30*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 1),
		RateBurst: getint("RATE_BURST", 3),

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-contact-sync"),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.StoreMaxBytes < 0 {
		return cfg, errors.New("STORE_MAX_BYTES must be >= 0")
	}
	if cfg.Sync.RetryCeiling < 1 {
		return cfg, errors.New("RETRY_CEILING must be >= 1")
	}
	if cfg.Sync.DrainInterval <= 0 || cfg.Sync.FlagTTL <= 0 || cfg.Sync.ItemTimeout <= 0 || cfg.Sync.PingInterval <= 0 {
		return cfg, errors.New("sync intervals must be positive durations")
	}
	if cfg.Cache.TTL <= 0 || cfg.Cache.QRTTL <= 0 || cfg.Cache.SweepAge <= 0 {
		return cfg, errors.New("cache TTLs must be positive durations")
	}
	if cfg.Cache.RefreshRPS <= 0 {
		return cfg, errors.New("CACHE_REFRESH_RPS must be > 0")
	}
	if strings.TrimSpace(cfg.Remote.BaseURL) == "" {
		return cfg, errors.New("REMOTE_BASE_URL must not be empty")
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

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
