// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.advisr/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, model and extraction timeout for the slot extractor
//   - Conversation: session TTL, expiry sweep interval
//   - Server: listen address, rate limiting, proxy trust
//   - Storage: PostgreSQL connection for the persistence bridge (see storage.go)
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
// Validation: Range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidExtractTimeout indicates the extraction timeout is out of range.
	ErrInvalidExtractTimeout = errors.New("invalid extract timeout")

	// ErrInvalidSessionTTL indicates the session TTL is out of range.
	ErrInvalidSessionTTL = errors.New("invalid session TTL")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	// DefaultModelName is the default completion model for slot extraction.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultSessionTTLHours is how long a session remains reachable after creation.
	DefaultSessionTTLHours = 24

	// DefaultExtractTimeoutSeconds bounds a single slot-extraction call.
	DefaultExtractTimeoutSeconds = 20

	// DefaultSweepIntervalMinutes is the background expiry sweep period.
	DefaultSweepIntervalMinutes = 10
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider              string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "openai"
	ModelName             string  `mapstructure:"model_name" json:"model_name"` // e.g., "googleai/gemini-2.5-flash"
	Temperature           float32 `mapstructure:"temperature" json:"temperature"`
	ExtractTimeoutSeconds int     `mapstructure:"extract_timeout_seconds" json:"extract_timeout_seconds"`

	// Conversation lifecycle configuration
	SessionTTLHours      int `mapstructure:"session_ttl_hours" json:"session_ttl_hours"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes" json:"sweep_interval_minutes"`

	// Server configuration
	ServerAddr     string  `mapstructure:"server_addr" json:"server_addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	TrustProxy     bool    `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Persistence bridge configuration (see storage.go for connection helpers)
	PersistenceEnabled bool   `mapstructure:"persistence_enabled" json:"persistence_enabled"`
	PostgresHost       string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort       int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser       string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword   string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName     string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode    string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.advisr/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".advisr")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("extract_timeout_seconds", DefaultExtractTimeoutSeconds)

	// Conversation defaults
	viper.SetDefault("session_ttl_hours", DefaultSessionTTLHours)
	viper.SetDefault("sweep_interval_minutes", DefaultSweepIntervalMinutes)

	// Server defaults
	viper.SetDefault("server_addr", "127.0.0.1:3500")
	viper.SetDefault("rate_limit_rps", 5.0)
	viper.SetDefault("rate_limit_burst", 10)
	viper.SetDefault("trust_proxy", false)

	// Persistence defaults (bridge is optional; conversation works without it)
	viper.SetDefault("persistence_enabled", false)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "advisr")
	viper.SetDefault("postgres_password", "advisr_dev_password")
	viper.SetDefault("postgres_db_name", "advisr")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "ADVISR_PROVIDER")
	mustBind("model_name", "ADVISR_MODEL_NAME")
	mustBind("server_addr", "ADVISR_SERVER_ADDR")
	mustBind("trust_proxy", "ADVISR_TRUST_PROXY")
	mustBind("persistence_enabled", "ADVISR_PERSISTENCE_ENABLED")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// NOTE: OPENAI_API_KEY is read directly by the Genkit OpenAI plugin.
	// Validation checks their presence based on the selected provider.
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters for secrets longer than 8 bytes,
// fully masks shorter ones to prevent substring matching.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}
