// Package security validates client supplied values before they become
// rate limit identifiers.
package security

import (
	"errors"
	"strings"
	"unicode"
)

// Sanitization errors
var (
	ErrEmptyAPIKey      = errors.New("API key cannot be empty")
	ErrAPIKeyTooLong    = errors.New("API key exceeds maximum length")
	ErrAPIKeyCharacters = errors.New("API key contains non-printable or whitespace characters")
)

// DefaultMaxAPIKeyLength bounds keys so "api:"+key fits the audit column.
const DefaultMaxAPIKeyLength = 256

// Config holds sanitizer configuration.
type Config struct {
	MaxAPIKeyLength int
}

// DefaultConfig returns the default sanitizer configuration.
func DefaultConfig() Config {
	return Config{MaxAPIKeyLength: DefaultMaxAPIKeyLength}
}

// Sanitizer validates API keys used to identify callers.
type Sanitizer struct {
	config Config
}

// NewSanitizer creates a new Sanitizer.
func NewSanitizer(cfg Config) *Sanitizer {
	if cfg.MaxAPIKeyLength <= 0 {
		cfg.MaxAPIKeyLength = DefaultMaxAPIKeyLength
	}
	return &Sanitizer{config: cfg}
}

// APIKey trims surrounding whitespace and validates what remains.
func (s *Sanitizer) APIKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrEmptyAPIKey
	}
	if len(key) > s.config.MaxAPIKeyLength {
		return "", ErrAPIKeyTooLong
	}
	for _, r := range key {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", ErrAPIKeyCharacters
		}
	}
	return key, nil
}
