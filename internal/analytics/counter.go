// Package analytics aggregates rate limit rejections per caller and hands
// them to a Flusher in batches.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// flushTimeout bounds a single call to Flusher.FlushRejections.
const flushTimeout = 5 * time.Second

// Flusher persists aggregated rejection counts keyed by caller identifier.
type Flusher interface {
	FlushRejections(ctx context.Context, counts map[string]int64) error
}

// Config holds configuration for the RejectionCounter.
type Config struct {
	FlushInterval time.Duration // How often to flush accumulated counts
	BatchSize     int           // Flush once this many rejections are pending
	ChannelBuffer int           // Size of the rejection channel buffer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 10 * time.Second,
		BatchSize:     100,
		ChannelBuffer: 10000,
	}
}

// RejectionCounter counts rejections without blocking the request path.
// Events are dropped when the buffer is full.
type RejectionCounter struct {
	flusher Flusher
	cfg     Config

	events  chan string
	counts  map[string]int64
	pending int
	mu      sync.Mutex

	dropped atomic.Int64
	stopped atomic.Bool

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewRejectionCounter starts a RejectionCounter. Call Stop to flush and
// release its goroutine.
func NewRejectionCounter(cfg Config, flusher Flusher) *RejectionCounter {
	defaults := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = defaults.ChannelBuffer
	}

	c := &RejectionCounter{
		flusher:  flusher,
		cfg:      cfg,
		events:   make(chan string, cfg.ChannelBuffer),
		counts:   make(map[string]int64),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go c.run()
	return c
}

// RecordRejection records one rejected request for identifier.
func (c *RejectionCounter) RecordRejection(identifier string) {
	if c.stopped.Load() {
		return
	}

	select {
	case c.events <- identifier:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many rejections were discarded because the buffer was full.
func (c *RejectionCounter) Dropped() int64 {
	return c.dropped.Load()
}

// Stop drains buffered events, flushes them and waits for the loop to exit.
// It is safe to call more than once.
func (c *RejectionCounter) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopChan)
		<-c.doneChan
	})
}

// GetPendingStats returns a snapshot of counts not yet flushed.
func (c *RejectionCounter) GetPendingStats() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]int64, len(c.counts))
	for id, n := range c.counts {
		snapshot[id] = n
	}
	return snapshot
}

func (c *RejectionCounter) run() {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case id := <-c.events:
			if c.add(id) {
				c.flush()
			}

		case <-ticker.C:
			c.flush()

		case <-c.stopChan:
			c.drain()
			c.flush()
			return
		}
	}
}

// add counts one event and reports whether the batch is full.
func (c *RejectionCounter) add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[id]++
	c.pending++
	return c.pending >= c.cfg.BatchSize
}

func (c *RejectionCounter) drain() {
	for {
		select {
		case id := <-c.events:
			c.add(id)
		default:
			return
		}
	}
}

func (c *RejectionCounter) flush() {
	c.mu.Lock()
	if len(c.counts) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.counts
	c.counts = make(map[string]int64)
	c.pending = 0
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	// The flusher reports its own failures; a lost batch only affects the audit.
	_ = c.flusher.FlushRejections(ctx, batch)
}
