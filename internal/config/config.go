// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, model and retrieval
// endpoints, pipeline limits, rate limiting, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-datachat-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig defines the language-model endpoint used by every model-backed
// pipeline step. Any OpenAI-compatible server works via BaseURL.
type LLMConfig struct {
	APIKey         string        // LLM_API_KEY
	BaseURL        string        // LLM_BASE_URL (empty = provider default)
	Model          string        // LLM_MODEL
	EmbeddingModel string        // LLM_EMBEDDING_MODEL
	Timeout        time.Duration // LLM_TIMEOUT per call
}

// QdrantConfig defines the vector-store endpoint for knowledge-base retrieval.
// Collections are tenant-scoped; only the base URL and limits live here.
type QdrantConfig struct {
	URL     string        // QDRANT_URL
	Timeout time.Duration // QDRANT_TIMEOUT per call
	TopK    int           // RAG_TOP_K passages per question
}

// PipelineConfig bounds the question-answering pipeline.
type PipelineConfig struct {
	MaxRows            int // default LIMIT injected into generated SQL and UI row cap
	SampleRows         int // rows handed to the summarizer / chart inference
	ChartMaxPoints     int // cap on chart series length
	CSVExportThreshold int // full row count at/above which a CSV download is attached
	RecentPairs        int // prior Q/A pairs included in prompt context
	SummaryMinMessages int // minimum transcript length before summaries start
	SummaryInterval    int // recompute summary every N messages
	MaxQuestionRunes   int // inbound question length cap
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // 0 disables the write deadline (required for SSE)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App databases
	DBPath      string // SQLite path for the application database
	TenantsPath string // JSON file describing the tenant directory

	// Auth
	JWTSecret string // HS256 signing secret for bearer tokens

	// Model / retrieval
	LLM      LLMConfig
	Qdrant   QdrantConfig
	Pipeline PipelineConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		// SSE turns hold the response open well past a normal write window.
		WriteTimeout:   getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:    getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:        strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App databases
		DBPath:      getenv("DB_PATH", "app.db"),
		TenantsPath: getenv("TENANTS_PATH", "tenants.json"),

		// Auth
		JWTSecret: getenv("JWT_SECRET", ""),

		// Model / retrieval
		LLM: LLMConfig{
			APIKey:         getenv("LLM_API_KEY", ""),
			BaseURL:        getenv("LLM_BASE_URL", ""),
			Model:          getenv("LLM_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getenv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:        getdur("LLM_TIMEOUT", 60*time.Second),
		},
		Qdrant: QdrantConfig{
			URL:     getenv("QDRANT_URL", "http://localhost:6333"),
			Timeout: getdur("QDRANT_TIMEOUT", 10*time.Second),
			TopK:    getint("RAG_TOP_K", 5),
		},
		Pipeline: PipelineConfig{
			MaxRows:            getint("PIPELINE_MAX_ROWS", 100),
			SampleRows:         getint("PIPELINE_SAMPLE_ROWS", 50),
			ChartMaxPoints:     getint("PIPELINE_CHART_MAX_POINTS", 200),
			CSVExportThreshold: getint("PIPELINE_CSV_THRESHOLD", 20),
			RecentPairs:        getint("PIPELINE_RECENT_PAIRS", 2),
			SummaryMinMessages: getint("PIPELINE_SUMMARY_MIN_MESSAGES", 6),
			SummaryInterval:    getint("PIPELINE_SUMMARY_INTERVAL", 12),
			MaxQuestionRunes:   getint("PIPELINE_MAX_QUESTION_RUNES", 2000),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-datachat-backend"),
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
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.WriteTimeout < 0 {
		return cfg, errors.New("WRITE_TIMEOUT must be >= 0 (0 disables the deadline)")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.TenantsPath) == "" {
		return cfg, errors.New("TENANTS_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		return cfg, errors.New("LLM_MODEL must not be empty")
	}
	if cfg.LLM.Timeout <= 0 || cfg.Qdrant.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT and QDRANT_TIMEOUT must be positive durations")
	}
	if cfg.Qdrant.TopK < 1 {
		return cfg, errors.New("RAG_TOP_K must be >= 1")
	}
	if cfg.Pipeline.MaxRows < 1 || cfg.Pipeline.SampleRows < 1 || cfg.Pipeline.ChartMaxPoints < 1 {
		return cfg, errors.New("pipeline row limits must be >= 1")
	}
	if cfg.Pipeline.CSVExportThreshold < 1 {
		return cfg, errors.New("PIPELINE_CSV_THRESHOLD must be >= 1")
	}
	if cfg.Pipeline.RecentPairs < 0 {
		return cfg, errors.New("PIPELINE_RECENT_PAIRS must be >= 0")
	}
	if cfg.Pipeline.SummaryMinMessages < 2 {
		return cfg, errors.New("PIPELINE_SUMMARY_MIN_MESSAGES must be >= 2")
	}
	if cfg.Pipeline.SummaryInterval < 1 {
		return cfg, errors.New("PIPELINE_SUMMARY_INTERVAL must be >= 1")
	}
	if cfg.Pipeline.MaxQuestionRunes < 1 {
		return cfg, errors.New("PIPELINE_MAX_QUESTION_RUNES must be >= 1")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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
