package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-bank/internal/models"
	"github.com/wfunc/coin-bank/internal/repository"
)

type mockRepo struct {
	mock.Mock
	mu      sync.Mutex
	entries []*models.JournalEntry
}

func (m *mockRepo) CreateBatch(ctx context.Context, entries []*models.JournalEntry) error {
	args := m.Called(len(entries))
	if args.Error(0) == nil {
		m.mu.Lock()
		m.entries = append(m.entries, entries...)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockRepo) List(ctx context.Context, f repository.JournalFilter, p *repository.Pagination) ([]*models.JournalEntry, error) {
	return nil, nil
}

func (m *mockRepo) Latest(ctx context.Context) (*models.JournalEntry, error) { return nil, nil }

func (m *mockRepo) Summary(ctx context.Context, since time.Time) ([]repository.KindSummary, error) {
	return nil, nil
}

func (m *mockRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) { return 0, nil }

func (m *mockRepo) stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecordAndFlush(t *testing.T) {
	repo := &mockRepo{}
	repo.On("CreateBatch", 3).Return(nil).Once()

	w := NewWriter(repo, 8, nil)
	w.Start()

	w.Record(models.JournalKindCoin, 5, 5, "5", nil)
	w.Record(models.JournalKindCoin, 10, 15, "10", nil)
	w.Record(models.JournalKindAdjust, -1, 14, "button", models.JSONData{"button": "subtract"})
	assert.Equal(t, 3, w.Pending())
	// 记录不触发写库
	repo.AssertNotCalled(t, "CreateBatch", mock.Anything)

	w.Flush()
	assert.Equal(t, 0, w.Pending())
	w.Close()

	repo.AssertExpectations(t)
	require.Equal(t, 3, repo.stored())
	assert.NotEmpty(t, repo.entries[0].EntryID)
	assert.NotEqual(t, repo.entries[0].EntryID, repo.entries[1].EntryID)
	assert.Equal(t, uint64(3), w.Stats().Stored)
}

func TestCloseFlushesRemainder(t *testing.T) {
	repo := &mockRepo{}
	repo.On("CreateBatch", 1).Return(nil)

	w := NewWriter(repo, 8, nil)
	w.Start()
	w.Record(models.JournalKindMotor, 0, 0, "motor", nil)
	w.Close()
	w.Close()

	assert.Equal(t, 1, repo.stored())
}

func TestBufferOverflowDrops(t *testing.T) {
	w := NewWriter(&mockRepo{}, 2, nil)
	for i := 0; i < 5; i++ {
		w.Record(models.JournalKindCoin, 1, uint32(i+1), "1", nil)
	}
	assert.Equal(t, 2, w.Pending())
	assert.Equal(t, uint64(3), w.Dropped())
}

func TestFailedBatchCounted(t *testing.T) {
	repo := &mockRepo{}
	repo.On("CreateBatch", 2).Return(errors.New("disk full"))

	w := NewWriter(repo, 8, nil)
	w.Start()
	w.Record(models.JournalKindCoin, 1, 1, "1", nil)
	w.Record(models.JournalKindCoin, 1, 2, "1", nil)
	w.Flush()
	w.Close()

	assert.Equal(t, Stats{Failed: 2}, w.Stats())
}

func TestRecentWithoutRepository(t *testing.T) {
	w := NewWriter(nil, 3, nil)
	for i := 1; i <= 5; i++ {
		w.Record(models.JournalKindCoin, 1, uint32(i), "1", nil)
	}
	w.Flush()
	assert.Equal(t, 0, w.Pending())

	recent := w.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, uint32(5), recent[0].TotalAfter)
	assert.Equal(t, uint32(3), recent[2].TotalAfter)

	assert.Len(t, w.Recent(2), 2)
	w.Close()
}

func TestFlushAfterCloseDrops(t *testing.T) {
	repo := &mockRepo{}
	repo.On("CreateBatch", 1).Return(nil)

	w := NewWriter(repo, 8, nil)
	w.Start()
	w.Record(models.JournalKindCoin, 1, 1, "1", nil)
	w.Close()

	// 关闭后主循环仍可能提交
	w.Record(models.JournalKindCoin, 1, 2, "1", nil)
	assert.NotPanics(t, w.Flush)
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, uint64(1), w.Dropped())
	assert.Equal(t, 1, repo.stored())
}

func TestStopWhileLoopRunning(t *testing.T) {
	repo := &mockRepo{}
	repo.On("CreateBatch", mock.Anything).Return(nil).Maybe()
	w := NewWriter(repo, 8, nil)
	w.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			w.Record(models.JournalKindCoin, 1, uint32(i+1), "1", nil)
			w.Flush()
		}
	}()

	w.Stop()
	<-done
	w.Flush()
	w.Close()

	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, uint64(100), uint64(repo.stored())+w.Dropped())
}
