// Package testutil holds helpers for tests that talk to real backing services.
package testutil

import (
	"os"
	"testing"
)

// EnvOrDefault returns the variable's value, or def when it is unset or empty.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SkipIfNoRedis skips unless TEST_REDIS=true.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()
	requireService(t, "TEST_REDIS", "Redis")
}

// SkipIfNoPostgres skips unless TEST_POSTGRES=true.
func SkipIfNoPostgres(t *testing.T) {
	t.Helper()
	requireService(t, "TEST_POSTGRES", "PostgreSQL")
}

func requireService(t *testing.T, flag, name string) {
	t.Helper()
	if testing.Short() {
		t.Skipf("%s test skipped in short mode", name)
	}
	if os.Getenv(flag) != "true" {
		t.Skipf("%s test skipped: set %s=true with a local instance running", name, flag)
	}
}
