package analytics

import (
	"context"

	"github.com/emadnahed/ratelimiter/internal/metrics"
	"github.com/emadnahed/ratelimiter/pkg/logger"
)

// RejectionRepository persists rejection counts.
type RejectionRepository interface {
	BatchIncrementRejections(ctx context.Context, counts map[string]int64) error
}

// RepositoryFlusher implements Flusher on top of a RejectionRepository.
type RepositoryFlusher struct {
	repo RejectionRepository
	log  *logger.Logger
}

// NewRepositoryFlusher creates a new RepositoryFlusher. log may be nil.
func NewRepositoryFlusher(repo RejectionRepository, log *logger.Logger) *RepositoryFlusher {
	return &RepositoryFlusher{
		repo: repo,
		log:  log,
	}
}

// FlushRejections writes counts to the repository and records the outcome.
func (f *RepositoryFlusher) FlushRejections(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	err := f.repo.BatchIncrementRejections(ctx, counts)
	metrics.RecordAuditFlush(err)
	if err != nil {
		if f.log != nil {
			f.log.Error("failed to flush rejection counts", "error", err, "callers", len(counts))
		}
		return err
	}

	if f.log != nil {
		var total int64
		for _, n := range counts {
			total += n
		}
		f.log.Debug("flushed rejection counts", "callers", len(counts), "rejections", total)
	}
	return nil
}
