package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/emadnahed/ratelimiter/internal/models"
)

// MockRejectionRepository is a mock implementation of repository.RejectionRepository.
type MockRejectionRepository struct {
	mock.Mock
}

func (m *MockRejectionRepository) BatchIncrementRejections(ctx context.Context, counts map[string]int64) error {
	args := m.Called(ctx, counts)
	return args.Error(0)
}

func (m *MockRejectionRepository) TopRejected(ctx context.Context, limit int) ([]models.RejectionStat, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RejectionStat), args.Error(1)
}

func (m *MockRejectionRepository) RejectionsFor(ctx context.Context, callerIDs []string) ([]models.RejectionStat, error) {
	args := m.Called(ctx, callerIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RejectionStat), args.Error(1)
}

func (m *MockRejectionRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// mockPendingStatsProvider implements PendingStatsProvider for testing.
type mockPendingStatsProvider struct {
	stats map[string]int64
}

func (m *mockPendingStatsProvider) GetPendingStats() map[string]int64 {
	return m.stats
}

func TestRejectionServiceImpl_TopRejected(t *testing.T) {
	ctx := context.Background()
	last := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns persisted stats", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 10).Return([]models.RejectionStat{
			{CallerID: "ip:1.2.3.4", RejectedCount: 7, LastRejectedAt: last},
			{CallerID: "api:key", RejectedCount: 2, LastRejectedAt: last},
		}, nil)

		svc := NewRejectionService(repo, nil)
		got, err := svc.TopRejected(ctx, 10)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ip:1.2.3.4", got[0].CallerID)
		assert.Equal(t, int64(7), got[0].RejectedCount)
		require.NotNil(t, got[0].LastRejectedAt)
		assert.Equal(t, last, *got[0].LastRejectedAt)
		repo.AssertExpectations(t)
	})

	t.Run("merges pending counts and reorders", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 2).Return([]models.RejectionStat{
			{CallerID: "ip:a", RejectedCount: 5, LastRejectedAt: last},
			{CallerID: "ip:b", RejectedCount: 4, LastRejectedAt: last},
		}, nil)
		provider := &mockPendingStatsProvider{stats: map[string]int64{
			"ip:b": 3,
			"ip:c": 1,
		}}
		repo.On("RejectionsFor", ctx, []string{"ip:c"}).Return([]models.RejectionStat{}, nil)

		svc := NewRejectionService(repo, provider)
		got, err := svc.TopRejected(ctx, 2)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ip:b", got[0].CallerID)
		assert.Equal(t, int64(3), got[0].PendingCount)
		assert.Equal(t, int64(7), got[0].Total())
		assert.Equal(t, "ip:a", got[1].CallerID)
	})

	t.Run("includes callers known only from pending counts", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 10).Return([]models.RejectionStat{}, nil)
		provider := &mockPendingStatsProvider{stats: map[string]int64{"ip:new": 2}}
		repo.On("RejectionsFor", ctx, []string{"ip:new"}).Return([]models.RejectionStat{}, nil)

		svc := NewRejectionService(repo, provider)
		got, err := svc.TopRejected(ctx, 10)

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, CallerRejections{CallerID: "ip:new", PendingCount: 2}, got[0])
	})

	t.Run("pending rejections lift a caller outside the stored top", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 1).Return([]models.RejectionStat{
			{CallerID: "ip:a", RejectedCount: 60, LastRejectedAt: last},
		}, nil)
		repo.On("RejectionsFor", ctx, []string{"ip:b"}).Return([]models.RejectionStat{
			{CallerID: "ip:b", RejectedCount: 50, LastRejectedAt: last},
		}, nil)
		provider := &mockPendingStatsProvider{stats: map[string]int64{"ip:b": 20}}

		svc := NewRejectionService(repo, provider)
		got, err := svc.TopRejected(ctx, 1)

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "ip:b", got[0].CallerID)
		assert.Equal(t, int64(50), got[0].RejectedCount)
		assert.Equal(t, int64(20), got[0].PendingCount)
		assert.Equal(t, int64(70), got[0].Total())
		require.NotNil(t, got[0].LastRejectedAt)
		repo.AssertExpectations(t)
	})

	t.Run("stored totals of pending callers are looked up once", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 3).Return([]models.RejectionStat{
			{CallerID: "ip:a", RejectedCount: 9, LastRejectedAt: last},
		}, nil)
		repo.On("RejectionsFor", ctx, []string{"ip:b", "ip:c"}).Return([]models.RejectionStat{
			{CallerID: "ip:c", RejectedCount: 4, LastRejectedAt: last},
		}, nil).Once()
		provider := &mockPendingStatsProvider{stats: map[string]int64{"ip:a": 1, "ip:c": 1, "ip:b": 2}}

		svc := NewRejectionService(repo, provider)
		got, err := svc.TopRejected(ctx, 3)

		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int64{10, 5, 2}, []int64{got[0].Total(), got[1].Total(), got[2].Total()})
		assert.Equal(t, []string{"ip:a", "ip:c", "ip:b"}, []string{got[0].CallerID, got[1].CallerID, got[2].CallerID})
		assert.Nil(t, got[2].LastRejectedAt, "never flushed")
		repo.AssertExpectations(t)
	})

	t.Run("returns lookup error", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 10).Return([]models.RejectionStat{}, nil)
		repo.On("RejectionsFor", ctx, []string{"ip:x"}).Return(nil, errors.New("database error"))
		provider := &mockPendingStatsProvider{stats: map[string]int64{"ip:x": 1}}

		_, err := NewRejectionService(repo, provider).TopRejected(ctx, 10)
		assert.EqualError(t, err, "database error")
	})

	t.Run("rejects invalid limits", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		svc := NewRejectionService(repo, nil)

		for _, limit := range []int{0, -1, MaxTopLimit + 1} {
			_, err := svc.TopRejected(ctx, limit)
			assert.ErrorIs(t, err, ErrInvalidLimit)
		}
		repo.AssertNotCalled(t, "TopRejected", mock.Anything, mock.Anything)
	})

	t.Run("returns repository error", func(t *testing.T) {
		repo := &MockRejectionRepository{}
		repo.On("TopRejected", ctx, 10).Return(nil, errors.New("database error"))

		svc := NewRejectionService(repo, nil)
		_, err := svc.TopRejected(ctx, 10)

		assert.EqualError(t, err, "database error")
	})
}
