// Package services implements the read side of the rejection audit.
package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/emadnahed/ratelimiter/internal/models"
	"github.com/emadnahed/ratelimiter/internal/repository"
)

// Limits applied to TopRejected.
const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100
)

// ErrInvalidLimit is returned for a limit outside 1..MaxTopLimit.
var ErrInvalidLimit = errors.New("limit must be between 1 and 100")

// CallerRejections is the rejection total reported for one caller.
type CallerRejections struct {
	CallerID       string     `json:"caller_id"`
	RejectedCount  int64      `json:"rejected_count"`
	PendingCount   int64      `json:"pending_count,omitempty"`
	LastRejectedAt *time.Time `json:"last_rejected_at,omitempty"`
}

// Total returns persisted plus pending rejections.
func (c CallerRejections) Total() int64 {
	return c.RejectedCount + c.PendingCount
}

// PendingStatsProvider provides access to rejections not yet flushed.
type PendingStatsProvider interface {
	GetPendingStats() map[string]int64
}

// RejectionService defines the interface for rejection audit queries.
type RejectionService interface {
	TopRejected(ctx context.Context, limit int) ([]CallerRejections, error)
}

// RejectionServiceImpl implements RejectionService.
type RejectionServiceImpl struct {
	repo            repository.RejectionRepository
	pendingProvider PendingStatsProvider
}

// NewRejectionService creates a RejectionService. provider may be nil.
func NewRejectionService(repo repository.RejectionRepository, provider PendingStatsProvider) *RejectionServiceImpl {
	return &RejectionServiceImpl{
		repo:            repo,
		pendingProvider: provider,
	}
}

// TopRejected returns the most rejected callers. Pending counts are merged
// into the persisted totals, so a caller may appear before its first flush.
//
// Candidates are the persisted top limit plus every caller with pending
// rejections, each with its full stored total. Any other caller's total is
// at most the limit-th persisted count, so it cannot displace a candidate.
func (s *RejectionServiceImpl) TopRejected(ctx context.Context, limit int) ([]CallerRejections, error) {
	if limit < 1 || limit > MaxTopLimit {
		return nil, ErrInvalidLimit
	}

	top, err := s.repo.TopRejected(ctx, limit)
	if err != nil {
		return nil, err
	}

	byCaller := make(map[string]*CallerRejections, len(top))
	add := func(st models.RejectionStat) {
		last := st.LastRejectedAt
		byCaller[st.CallerID] = &CallerRejections{
			CallerID:       st.CallerID,
			RejectedCount:  st.RejectedCount,
			LastRejectedAt: &last,
		}
	}
	for _, st := range top {
		add(st)
	}

	var pending map[string]int64
	if s.pendingProvider != nil {
		pending = s.pendingProvider.GetPendingStats()
	}

	var missing []string
	for id := range pending {
		if _, ok := byCaller[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		stored, err := s.repo.RejectionsFor(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, st := range stored {
			add(st)
		}
	}

	for id, n := range pending {
		c, ok := byCaller[id]
		if !ok {
			c = &CallerRejections{CallerID: id}
			byCaller[id] = c
		}
		c.PendingCount = n
	}

	out := make([]CallerRejections, 0, len(byCaller))
	for _, c := range byCaller {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total() != out[j].Total() {
			return out[i].Total() > out[j].Total()
		}
		return out[i].CallerID < out[j].CallerID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
