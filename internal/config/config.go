// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as backend endpoints, server timeouts, logging, rate limiting, polling,
// and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled       bool          // OTEL_ENABLED
	Endpoint      string        // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure      bool          // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName   string        // OTEL_SERVICE_NAME (e.g. "go-docchat-core")
	Environment   string        // OTEL_ENVIRONMENT, deployment.environment resource attribute
	SampleRatio   float64       // OTEL_TRACES_SAMPLER_ARG in [0..1]
	ExportTimeout time.Duration // OTEL_EXPORT_TIMEOUT, per-batch export deadline
}

// RemoteConfig defines the backend services the conversation core talks to.
type RemoteConfig struct {
	SessionStoreURL string        // SESSION_STORE_URL, chat/message persistence API
	QAEngineURL     string        // QA_ENGINE_URL, answer engine API
	DocServiceURL   string        // DOC_SERVICE_URL, document metadata/status API
	Timeout         time.Duration // per-request HTTP timeout
	RPS             float64       // outbound rate limit, tokens/sec (0 disables)
	Burst           int           // outbound burst size (>= 1)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 30s, must cover a full QA round-trip
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Backends
	Remote RemoteConfig

	// Conversation
	HistoryPath      string        // SQLite path for the local transcript cache
	DocumentID       string        // optional: scope the conversation to one document
	DocumentFilename string        // optional: seeds default chat titles
	TitleMaxRunes    int           // derived title cap (0 = package default)
	PollInterval     time.Duration // document status polling cadence

	// Rate limiting (inbound)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Backends
		Remote: RemoteConfig{
			SessionStoreURL: getenv("SESSION_STORE_URL", "http://localhost:8000"),
			QAEngineURL:     getenv("QA_ENGINE_URL", "http://localhost:8000"),
			DocServiceURL:   getenv("DOC_SERVICE_URL", "http://localhost:8000"),
			Timeout:         getdur("REMOTE_TIMEOUT", 15*time.Second),
			RPS:             getfloat("REMOTE_RPS", 0),
			Burst:           getint("REMOTE_BURST", 1),
		},

		// Conversation
		HistoryPath:      getenv("HISTORY_PATH", "history.db"),
		DocumentID:       getenv("DOCUMENT_ID", ""),
		DocumentFilename: getenv("DOCUMENT_FILENAME", ""),
		TitleMaxRunes:    getint("TITLE_MAX_RUNES", 0),
		PollInterval:     getdur("POLL_INTERVAL", 3*time.Second),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:       getbool("OTEL_ENABLED", false),
			Endpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:      getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:   getenv("OTEL_SERVICE_NAME", "go-docchat-core"),
			Environment:   getenv("OTEL_ENVIRONMENT", "dev"),
			SampleRatio:   getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			ExportTimeout: getdur("OTEL_EXPORT_TIMEOUT", 10*time.Second),
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
	for _, e := range []struct{ name, raw string }{
		{"SESSION_STORE_URL", cfg.Remote.SessionStoreURL},
		{"QA_ENGINE_URL", cfg.Remote.QAEngineURL},
		{"DOC_SERVICE_URL", cfg.Remote.DocServiceURL},
	} {
		u, err := url.Parse(e.raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return cfg, errors.New(e.name + " must be an absolute URL")
		}
	}
	if cfg.Remote.Timeout <= 0 {
		return cfg, errors.New("REMOTE_TIMEOUT must be > 0")
	}
	if cfg.Remote.RPS < 0 {
		return cfg, errors.New("REMOTE_RPS must be >= 0")
	}
	if cfg.Remote.Burst < 1 {
		return cfg, errors.New("REMOTE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.HistoryPath) == "" {
		return cfg, errors.New("HISTORY_PATH must not be empty")
	}
	if cfg.TitleMaxRunes < 0 {
		return cfg, errors.New("TITLE_MAX_RUNES must be >= 0")
	}
	if cfg.PollInterval <= 0 {
		return cfg, errors.New("POLL_INTERVAL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.OTEL.ExportTimeout <= 0 {
		return cfg, errors.New("OTEL_EXPORT_TIMEOUT must be > 0")
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
