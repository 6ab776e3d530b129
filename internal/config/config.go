package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
)

type Config struct {
	// Database connection. DatabaseURL, when set, takes precedence over the
	// individual DB_* fields.
	DatabaseURL      string
	DBHost           string
	DBPort           int
	DBName           string
	DBUser           string
	DBPassword       string
	DBSSLMode        string
	DBConnectTimeout time.Duration

	// Schema filtering.
	Schemas    []string // empty means all non-system schemas
	PolicyFile string   // optional path to policy YAML

	// AI providers, tried in the fixed order Gemini, DeepSeek, Groq.
	Providers          ProviderKeys
	ProviderTimeout    time.Duration
	ProviderMaxRetries int

	// Optimization loop.
	QueryTimeout         time.Duration // baseline execution
	SandboxQueryTimeout  time.Duration // each sandbox test execution
	MaxAttempts          int
	ImprovementThreshold float64 // percent
	CloneRowLimit        int     // 0 copies every row
	ParallelTests        bool

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport       string // "stdio" (default) or "http"
	HTTPAddr        string // listen address for HTTP transport (default ":8080")
	HTTPBearerToken string // required when transport=http

	// Observability.
	OTelEnabled bool   // enable OpenTelemetry tracing and metrics
	AuditLog    string // path to NDJSON audit log file

	// CLI-only fields (not settable via env vars).
	QueryFile string // run one optimization and exit
}

// ProviderKeys holds credentials and model names per provider. A provider
// with an empty key is disabled.
type ProviderKeys struct {
	GeminiKey     string
	GeminiModel   string
	DeepSeekKey   string
	DeepSeekModel string
	GroqKey       string
	GroqModel     string
}

// Any reports whether at least one provider is configured.
func (k ProviderKeys) Any() bool {
	return k.GeminiKey != "" || k.DeepSeekKey != "" || k.GroqKey != ""
}

// ConnParams returns the discrete connection parameters.
func (c *Config) ConnParams() domain.ConnParams {
	return domain.ConnParams{
		Host:           c.DBHost,
		Port:           c.DBPort,
		Database:       c.DBName,
		User:           c.DBUser,
		Password:       c.DBPassword,
		SSLMode:        c.DBSSLMode,
		ConnectTimeout: c.DBConnectTimeout,
	}
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	DatabaseURL          *string
	LogLevel             *string
	QueryTimeout         *time.Duration
	MaxAttempts          *int
	ImprovementThreshold *float64
	PolicyFile           *string
	Transport            *string
	HTTPAddr             *string
	HTTPBearerToken      *string
	ParallelTests        bool
	OTelEnabled          bool
	AuditLog             string
	QueryFile            string
}

// Load builds a Config from environment variables, then applies CLI overrides,
// then validates the result.
func Load(overrides Overrides) (*Config, error) {
	cfg := defaults()

	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBPort:           5432,
		DBSSLMode:        "prefer",
		DBConnectTimeout: 10 * time.Second,
		Providers: ProviderKeys{
			GeminiModel:   "gemini-2.0-flash",
			DeepSeekModel: "deepseek-chat",
			GroqModel:     "llama-3.3-70b-versatile",
		},
		ProviderTimeout:      60 * time.Second,
		ProviderMaxRetries:   2,
		QueryTimeout:         5 * time.Minute,
		SandboxQueryTimeout:  60 * time.Second,
		MaxAttempts:          domain.DefaultMaxAttempts,
		ImprovementThreshold: domain.DefaultImprovementThreshold,
		Transport:            "stdio",
		HTTPAddr:             ":8080",
	}
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config) error {
	setString(&cfg.DBHost, "DB_HOST")
	setString(&cfg.DBName, "DB_NAME")
	setString(&cfg.DBUser, "DB_USER")
	setString(&cfg.DBPassword, "DB_PASSWORD")
	setString(&cfg.DBSSLMode, "DB_SSLMODE")
	if v := os.Getenv("DB_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid DB_PORT value %q: must be a port number", v)
		}
		cfg.DBPort = n
	}
	if err := setDuration(&cfg.DBConnectTimeout, "DB_CONNECT_TIMEOUT"); err != nil {
		return err
	}

	if err := loadProviderEnvVars(cfg); err != nil {
		return err
	}
	if err := loadLoopEnvVars(cfg); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	if v := os.Getenv("SCHEMAS"); v != "" {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				cfg.Schemas = append(cfg.Schemas, s)
			}
		}
	}

	cfg.PolicyFile = os.Getenv("POLICY_FILE")
	cfg.AuditLog = os.Getenv("AUDIT_LOG")

	setString(&cfg.Transport, "TRANSPORT")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	cfg.HTTPBearerToken = os.Getenv("HTTP_BEARER_TOKEN")

	return setBool(&cfg.OTelEnabled, "OTEL_ENABLED")
}

// loadProviderEnvVars reads provider credentials and the retry budget.
func loadProviderEnvVars(cfg *Config) error {
	p := &cfg.Providers
	p.GeminiKey = os.Getenv("GEMINI_API_KEY")
	p.DeepSeekKey = os.Getenv("DEEPSEEK_API_KEY")
	p.GroqKey = os.Getenv("GROQ_API_KEY")
	setString(&p.GeminiModel, "GEMINI_MODEL")
	setString(&p.DeepSeekModel, "DEEPSEEK_MODEL")
	setString(&p.GroqModel, "GROQ_MODEL")

	if err := setDuration(&cfg.ProviderTimeout, "PROVIDER_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("PROVIDER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid PROVIDER_MAX_RETRIES value %q: must be a non-negative integer", v)
		}
		cfg.ProviderMaxRetries = n
	}
	return nil
}

// loadLoopEnvVars reads timeouts and the refinement loop bounds.
func loadLoopEnvVars(cfg *Config) error {
	if err := setDuration(&cfg.QueryTimeout, "QUERY_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.SandboxQueryTimeout, "SANDBOX_QUERY_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_ATTEMPTS value %q: %w", v, err)
		}
		cfg.MaxAttempts = n
	}
	if v := os.Getenv("IMPROVEMENT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid IMPROVEMENT_THRESHOLD value %q: %w", v, err)
		}
		cfg.ImprovementThreshold = f
	}
	if v := os.Getenv("CLONE_ROW_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid CLONE_ROW_LIMIT value %q: must be a non-negative integer", v)
		}
		cfg.CloneRowLimit = n
	}
	return setBool(&cfg.ParallelTests, "PARALLEL_TESTS")
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.QueryTimeout != nil {
		cfg.QueryTimeout = *o.QueryTimeout
	}
	if o.MaxAttempts != nil {
		cfg.MaxAttempts = *o.MaxAttempts
	}
	if o.ImprovementThreshold != nil {
		cfg.ImprovementThreshold = *o.ImprovementThreshold
	}
	if o.PolicyFile != nil {
		cfg.PolicyFile = *o.PolicyFile
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.AuditLog != "" {
		cfg.AuditLog = o.AuditLog
	}

	cfg.QueryFile = o.QueryFile
	cfg.ParallelTests = cfg.ParallelTests || o.ParallelTests
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" && (cfg.DBHost == "" || cfg.DBName == "") {
		return fmt.Errorf("DB_HOST and DB_NAME are required (or set DATABASE_URL / --database-url)")
	}

	if !cfg.Providers.Any() {
		return domain.ErrNoProviders
	}

	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("invalid MAX_ATTEMPTS value %d: must be at least 1", cfg.MaxAttempts)
	}
	if cfg.ImprovementThreshold <= 0 || cfg.ImprovementThreshold > 100 {
		return fmt.Errorf("invalid IMPROVEMENT_THRESHOLD value %g: must be in (0, 100]", cfg.ImprovementThreshold)
	}
	if cfg.QueryTimeout <= 0 || cfg.SandboxQueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT and SANDBOX_QUERY_TIMEOUT must be positive")
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
