package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/models"
	"gorm.io/gorm"
)

// JournalRepositoryTestSuite 流水仓储测试套件
type JournalRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo JournalRepository
	base time.Time
}

func (s *JournalRepositoryTestSuite) SetupTest() {
	s.db = SetupTestDB(s.T())
	s.repo = NewJournalRepository(s.db)
	s.base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *JournalRepositoryTestSuite) seed() {
	var entries []*models.JournalEntry
	total := uint32(0)
	for i := 0; i < 5; i++ {
		total += 50
		entries = append(entries, &models.JournalEntry{
			EntryID:    fmt.Sprintf("coin-%d", i),
			Kind:       models.JournalKindCoin,
			Delta:      50,
			TotalAfter: total,
			Source:     "50",
			OccurredAt: s.base.Add(time.Duration(i) * time.Minute),
		})
	}
	entries = append(entries, &models.JournalEntry{
		EntryID:    "adjust-0",
		Kind:       models.JournalKindAdjust,
		Delta:      -100,
		TotalAfter: total - 100,
		Source:     "api",
		Meta:       models.JSONData{"operator": "alice"},
		OccurredAt: s.base.Add(10 * time.Minute),
	})
	s.Require().NoError(s.repo.CreateBatch(context.Background(), entries))
}

func (s *JournalRepositoryTestSuite) TestCreateBatchEmpty() {
	s.NoError(s.repo.CreateBatch(context.Background(), nil))
}

func (s *JournalRepositoryTestSuite) TestListNewestFirst() {
	s.seed()
	p := NewPagination(1, 4)

	entries, err := s.repo.List(context.Background(), JournalFilter{}, p)
	s.Require().NoError(err)
	s.Equal(int64(6), p.Total)
	s.Require().Len(entries, 4)
	s.Equal("adjust-0", entries[0].EntryID)
	s.Equal("coin-4", entries[1].EntryID)
	s.Equal("alice", entries[0].Meta["operator"])

	p = NewPagination(2, 4)
	entries, err = s.repo.List(context.Background(), JournalFilter{}, p)
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *JournalRepositoryTestSuite) TestListFilters() {
	s.seed()
	ctx := context.Background()

	entries, err := s.repo.List(ctx, JournalFilter{Kind: models.JournalKindAdjust}, nil)
	s.Require().NoError(err)
	s.Len(entries, 1)

	entries, err = s.repo.List(ctx, JournalFilter{Since: s.base.Add(2 * time.Minute), Until: s.base.Add(4 * time.Minute)}, nil)
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *JournalRepositoryTestSuite) TestLatest() {
	_, err := s.repo.Latest(context.Background())
	s.True(errors.Is(err, errors.ErrNotFound))

	s.seed()
	latest, err := s.repo.Latest(context.Background())
	s.Require().NoError(err)
	s.Equal(uint32(150), latest.TotalAfter)
}

func (s *JournalRepositoryTestSuite) TestSummary() {
	s.seed()
	rows, err := s.repo.Summary(context.Background(), time.Time{})
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(KindSummary{Kind: models.JournalKindAdjust, Count: 1, Sum: -100}, rows[0])
	s.Equal(KindSummary{Kind: models.JournalKindCoin, Count: 5, Sum: 250}, rows[1])
}

func (s *JournalRepositoryTestSuite) TestDeleteBefore() {
	s.seed()
	n, err := s.repo.DeleteBefore(context.Background(), s.base.Add(3*time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	p := NewPagination(1, 10)
	_, err = s.repo.List(context.Background(), JournalFilter{}, p)
	s.Require().NoError(err)
	s.Equal(int64(3), p.Total)
}

func TestJournalRepositorySuite(t *testing.T) {
	suite.Run(t, new(JournalRepositoryTestSuite))
}
