// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (QUILL_ prefix, runtime override)
//  2. Config file (~/.quill/config.yaml)
//  3. Default values
//
// Security: sensitive fields (database password, HMAC secret, service
// token) are masked in MarshalJSON. Validation uses sentinel errors so
// callers can match with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for the ephemeral thread store and retrieval pipeline.
const (
	// DefaultThreadTTL is how long an ephemeral thread lives after creation.
	// Expiry is fixed at creation; reads never extend it.
	DefaultThreadTTL = 24 * time.Hour

	// DefaultReaperInterval is how often expired threads are swept.
	DefaultReaperInterval = 5 * time.Minute

	// DefaultSearchLimit is the vector index result limit per query.
	DefaultSearchLimit = 15

	// DefaultScoreThreshold is the minimum similarity for a hit to be kept.
	DefaultScoreThreshold = 0.5
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`   // Per-IP rate limiter burst (0 = default 60)

	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`           // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`       // e.g. "gemini-2.5-flash"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Ephemeral thread store
	ThreadTTL      time.Duration `mapstructure:"thread_ttl" json:"thread_ttl"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval" json:"reaper_interval"`

	// Retrieval pipeline
	SearchLimit    int     `mapstructure:"search_limit" json:"search_limit"`
	ScoreThreshold float64 `mapstructure:"score_threshold" json:"score_threshold"`

	// Per-tenant origin allowlist for the ephemeral surface.
	// Key: tenant ID, value: allowed origins. A tenant with no entry is
	// denied; absence never defaults to allow.
	OriginAllowlist map[string][]string `mapstructure:"origin_allowlist" json:"origin_allowlist"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Security (serve mode)
	HMACSecret   string `mapstructure:"hmac_secret" json:"hmac_secret"`     // SENSITIVE: masked in MarshalJSON
	ServiceToken string `mapstructure:"service_token" json:"service_token"` // SENSITIVE: masked in MarshalJSON

	// Observability
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`

	// Logging
	LogLevel  string `mapstructure:"log_level" json:"log_level"`   // debug, info, warn, error
	LogFormat string `mapstructure:"log_format" json:"log_format"` // text, json
}

// OTLPConfig configures trace export to a local OTLP HTTP collector.
type OTLPConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // host:port, empty disables tracing
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load reads configuration from file, environment, and defaults.
// A missing config file is not an error; defaults and env apply.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".quill"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("rate_burst", 60)

	v.SetDefault("provider", "gemini")
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("thread_ttl", DefaultThreadTTL)
	v.SetDefault("reaper_interval", DefaultReaperInterval)

	v.SetDefault("search_limit", DefaultSearchLimit)
	v.SetDefault("score_threshold", DefaultScoreThreshold)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quill")
	v.SetDefault("postgres_db_name", "quill")
	v.SetDefault("postgres_ssl_mode", "prefer")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// PostgresURL returns the postgres:// URL form of the connection settings,
// suitable for golang-migrate.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := u.Query()
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresConnectionString returns the keyword/value form consumed by pgx.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDBName, c.PostgresSSLMode)
}

// OriginAllowed reports whether origin is allowlisted for the tenant.
// Fail closed: a tenant without an allowlist entry is always denied.
func (c *Config) OriginAllowed(tenantID, origin string) bool {
	origins, ok := c.OriginAllowlist[tenantID]
	if !ok {
		return false
	}
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}

// MarshalJSON masks sensitive fields so configs can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	if masked.HMACSecret != "" {
		masked.HMACSecret = "***"
	}
	if masked.ServiceToken != "" {
		masked.ServiceToken = "***"
	}
	return json.Marshal(masked)
}
