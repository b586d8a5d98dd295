package ratelimit

import (
	"context"
	"time"
)

// HistoryStore holds, per identifier, the timestamps of admitted requests
// oldest first. Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Get returns the identifier's log, or an empty log if none exists yet.
	Get(ctx context.Context, identifier string) ([]time.Time, error)

	// Replace overwrites the identifier's log. An empty log may drop the key.
	Replace(ctx context.Context, identifier string, log []time.Time) error

	// Delete removes the identifier's log.
	Delete(ctx context.Context, identifier string) error
}

// Updater is implemented by stores that can run a read-modify-write cycle
// atomically on their own side, such as a store shared by several processes.
type Updater interface {
	Update(ctx context.Context, identifier string, fn func(log []time.Time) []time.Time) error
}

// Sweeper is implemented by stores that keep idle identifiers in memory.
type Sweeper interface {
	// Sweep removes identifiers whose newest timestamp is not after cutoff
	// and returns how many were removed.
	Sweep(cutoff time.Time) int

	// Len returns the number of tracked identifiers.
	Len() int
}

// prune returns a fresh slice holding the entries of log strictly after cutoff.
// An entry exactly at cutoff is expired.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	kept := make([]time.Time, 0, len(log)+1)
	for _, ts := range log {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
