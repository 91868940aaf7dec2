package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration validation, matched with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidThreadTTL indicates the thread TTL is out of range.
	ErrInvalidThreadTTL = errors.New("invalid thread TTL")

	// ErrInvalidReaperInterval indicates the reaper interval is out of range.
	ErrInvalidReaperInterval = errors.New("invalid reaper interval")

	// ErrInvalidSearchLimit indicates the search limit is out of range.
	ErrInvalidSearchLimit = errors.New("invalid search limit")

	// ErrInvalidScoreThreshold indicates the score threshold is out of range.
	ErrInvalidScoreThreshold = errors.New("invalid score threshold")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")

	// ErrMissingHMACSecret indicates serve mode was started without an
	// identity-token signing secret.
	ErrMissingHMACSecret = errors.New("HMAC secret is required in serve mode")
)

// MinHMACSecretLength is the minimum byte length for the identity-token
// signing secret. Shorter secrets are trivially brute-forced.
const MinHMACSecretLength = 32

// Validate checks configuration ranges and returns the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("%w: %q (expected gemini or ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.ThreadTTL <= 0 {
		return fmt.Errorf("%w: %v (must be positive)", ErrInvalidThreadTTL, c.ThreadTTL)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("%w: %v (must be positive)", ErrInvalidReaperInterval, c.ReaperInterval)
	}

	if c.SearchLimit < 1 || c.SearchLimit > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidSearchLimit, c.SearchLimit)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: %v (must be in [0, 1])", ErrInvalidScoreThreshold, c.ScoreThreshold)
	}

	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.HMACSecret != "" && len(c.HMACSecret) < MinHMACSecretLength {
		return fmt.Errorf("%w: %d bytes (minimum %d)", ErrInvalidHMACSecret, len(c.HMACSecret), MinHMACSecretLength)
	}

	return nil
}

// ValidateServe checks the additional requirements of serve mode. The
// identified surface cannot verify callers without a signing secret.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.HMACSecret == "" {
		return ErrMissingHMACSecret
	}
	return nil
}
