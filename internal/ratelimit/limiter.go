// Package ratelimit provides sliding window log rate limiting.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a limiter is built with a non-positive limit or window.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Decision is the verdict for one request.
type Decision struct {
	Allowed bool
	// Limit is the configured number of requests per window.
	Limit int
	// Remaining counts the admissions left after this one; zero on rejection.
	Remaining int
	// RetryAfter is how long until the oldest logged request leaves the
	// window. Set only on rejection.
	RetryAfter time.Duration
	// ResetAfter is how long until the oldest logged request expires, or the
	// full window when nothing was logged.
	ResetAfter time.Duration
	// ResetAt is ResetAfter anchored to the limiter clock reading the
	// decision was made at.
	ResetAt time.Time
}

// Limiter decides whether a caller may make another request.
type Limiter interface {
	// Allow records the request when admitted. Rejections are reported
	// through the Decision; an error means no decision could be made.
	Allow(ctx context.Context, identifier string) (*Decision, error)

	// Reset forgets every logged request for identifier.
	Reset(ctx context.Context, identifier string) error

	Close() error
}

// Config sets how many requests a caller may make in any trailing Window.
type Config struct {
	Requests int
	Window   time.Duration
}

// DefaultConfig allows 5 requests per minute.
func DefaultConfig() Config {
	return Config{
		Requests: 5,
		Window:   time.Minute,
	}
}

// Validate reports whether the configuration can drive a limiter.
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("%w: requests must be positive, got %d", ErrInvalidConfig, c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}
