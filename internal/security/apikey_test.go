package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizer_APIKey(t *testing.T) {
	sanitizer := NewSanitizer(DefaultConfig())

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"plain key", "my-api-key-123", "my-api-key-123", nil},
		{"trims whitespace", "  key_1  ", "key_1", nil},
		{"punctuation allowed", "sk.live:AbC/+=", "sk.live:AbC/+=", nil},
		{"empty", "", "", ErrEmptyAPIKey},
		{"only whitespace", " \t ", "", ErrEmptyAPIKey},
		{"max length", strings.Repeat("k", DefaultMaxAPIKeyLength), strings.Repeat("k", DefaultMaxAPIKeyLength), nil},
		{"too long", strings.Repeat("k", DefaultMaxAPIKeyLength+1), "", ErrAPIKeyTooLong},
		{"inner space", "my key", "", ErrAPIKeyCharacters},
		{"control character", "key\x00", "", ErrAPIKeyCharacters},
		{"newline", "key\nX-Injected: 1", "", ErrAPIKeyCharacters},
		{"non ascii", "ключ", "", ErrAPIKeyCharacters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizer.APIKey(tt.raw)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSanitizer_DefaultsLength(t *testing.T) {
	sanitizer := NewSanitizer(Config{})

	_, err := sanitizer.APIKey(strings.Repeat("k", DefaultMaxAPIKeyLength))
	assert.NoError(t, err)

	_, err = sanitizer.APIKey(strings.Repeat("k", DefaultMaxAPIKeyLength+1))
	assert.ErrorIs(t, err, ErrAPIKeyTooLong)
}
