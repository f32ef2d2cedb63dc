// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Interpreter backends.
const (
	InterpreterCatalog = "catalog"
	InterpreterOpenAI  = "openai"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr      string // HTTP listen address (default ":8080")
	LogLevel        string // debug, info, warn, error (default "info")
	Env             string // "development" (default) or "production"
	HistoryDBPath   string // SQLite file for the question history
	DataSourcesPath string // YAML data source catalog; a missing file means the demo source

	// Interpretation backend.
	Interpreter            string // "catalog" (default) or "openai"
	InterpreterCatalogPath string // empty uses the built-in demo catalog
	OpenAIAPIKey           string
	OpenAIModel            string
	OpenAIBaseURL          string

	// Pipeline limits.
	InterpretTimeout       time.Duration
	ExecuteTimeout         time.Duration
	MaxClarificationRounds int // 0 means unlimited
	ResultMaxRows          int
	RecordRetention        time.Duration
	ClarificationIdle      time.Duration // 0 keeps unanswered dialogues forever
	HistoryWorkers         int

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// CORS
	CORSAllowedOrigins []string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:             os.Getenv("LISTEN_ADDR"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
		Env:                    os.Getenv("ENV"),
		HistoryDBPath:          os.Getenv("HISTORY_DB_PATH"),
		DataSourcesPath:        os.Getenv("DATA_SOURCES_PATH"),
		Interpreter:            strings.ToLower(strings.TrimSpace(os.Getenv("INTERPRETER"))),
		InterpreterCatalogPath: os.Getenv("INTERPRETER_CATALOG_PATH"),
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:            os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:          os.Getenv("OPENAI_BASE_URL"),
	}

	cfg.InterpretTimeout = cfg.durationEnv("INTERPRET_TIMEOUT", 15*time.Second)
	cfg.ExecuteTimeout = cfg.durationEnv("EXECUTE_TIMEOUT", 60*time.Second)
	cfg.RecordRetention = cfg.durationEnv("RECORD_RETENTION", time.Hour)
	if os.Getenv("CLARIFICATION_IDLE_TIMEOUT") == "0" {
		cfg.ClarificationIdle = 0
	} else {
		cfg.ClarificationIdle = cfg.durationEnv("CLARIFICATION_IDLE_TIMEOUT", time.Hour)
	}
	cfg.MaxClarificationRounds = cfg.intEnv("MAX_CLARIFICATION_ROUNDS", 0)
	cfg.ResultMaxRows = cfg.intEnv("RESULT_MAX_ROWS", 10000)
	cfg.HistoryWorkers = cfg.intEnv("HISTORY_WORKERS", 4)
	cfg.RateLimitBurst = cfg.intEnv("RATE_LIMIT_BURST", 100)

	cfg.RateLimitRPS = 50
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid RATE_LIMIT_RPS %q", v))
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "ask_history.sqlite"
	}
	if cfg.DataSourcesPath == "" {
		cfg.DataSourcesPath = "data_sources.yaml"
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = InterpreterCatalog
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	switch cfg.Interpreter {
	case InterpreterCatalog:
		if cfg.OpenAIAPIKey != "" {
			cfg.Warnings = append(cfg.Warnings, "OPENAI_API_KEY is set but INTERPRETER=catalog; the key is unused")
		}
	case InterpreterOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when INTERPRETER=openai")
		}
	default:
		return nil, fmt.Errorf("INTERPRETER must be %q or %q, got %q", InterpreterCatalog, InterpreterOpenAI, cfg.Interpreter)
	}
	if cfg.MaxClarificationRounds < 0 {
		return nil, fmt.Errorf("MAX_CLARIFICATION_ROUNDS must not be negative")
	}
	if cfg.ResultMaxRows <= 0 {
		return nil, fmt.Errorf("RESULT_MAX_ROWS must be positive")
	}
	if cfg.HistoryWorkers <= 0 {
		return nil, fmt.Errorf("HISTORY_WORKERS must be positive")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q, using %s", key, v, def))
		return def
	}
	return d
}

func (c *Config) intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q, using %d", key, v, def))
		return def
	}
	return n
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
