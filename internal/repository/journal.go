package repository

import (
	"context"
	"time"

	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/models"
	"gorm.io/gorm"
)

// JournalFilter 流水查询条件
type JournalFilter struct {
	Kind  models.JournalKind
	Since time.Time
	Until time.Time
}

// KindSummary 按类型汇总
type KindSummary struct {
	Kind  models.JournalKind `json:"kind"`
	Count int64              `json:"count"`
	Sum   int64              `json:"sum"`
}

// JournalRepository 账本流水仓储
type JournalRepository interface {
	CreateBatch(ctx context.Context, entries []*models.JournalEntry) error
	List(ctx context.Context, filter JournalFilter, p *Pagination) ([]*models.JournalEntry, error)
	Latest(ctx context.Context) (*models.JournalEntry, error)
	Summary(ctx context.Context, since time.Time) ([]KindSummary, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type journalRepo struct {
	*BaseRepo
}

// NewJournalRepository 创建流水仓储
func NewJournalRepository(db *gorm.DB) JournalRepository {
	return &journalRepo{BaseRepo: NewBaseRepo(db)}
}

// CreateBatch 批量写入
func (r *journalRepo) CreateBatch(ctx context.Context, entries []*models.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(entries, 100).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "写入流水")
	}
	return nil
}

func (r *journalRepo) scoped(ctx context.Context, filter JournalFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.JournalEntry{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if !filter.Since.IsZero() {
		query = query.Where("occurred_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("occurred_at < ?", filter.Until)
	}
	return query
}

// List 分页查询，按发生时间倒序
func (r *journalRepo) List(ctx context.Context, filter JournalFilter, p *Pagination) ([]*models.JournalEntry, error) {
	if p == nil {
		p = NewPagination(1, 20)
	}
	if err := r.scoped(ctx, filter).Count(&p.Total).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "统计流水")
	}

	var entries []*models.JournalEntry
	err := r.scoped(ctx, filter).
		Order("occurred_at DESC, id DESC").
		Scopes(Paginate(p)).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "查询流水")
	}
	return entries, nil
}

// Latest 最近一条流水
func (r *journalRepo) Latest(ctx context.Context) (*models.JournalEntry, error) {
	var entries []*models.JournalEntry
	err := r.db.WithContext(ctx).Order("occurred_at DESC, id DESC").Limit(1).Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "查询流水")
	}
	if len(entries) == 0 {
		return nil, errors.New(errors.ErrNotFound, "暂无流水")
	}
	return entries[0], nil
}

// Summary 按类型汇总次数与金额
func (r *journalRepo) Summary(ctx context.Context, since time.Time) ([]KindSummary, error) {
	var rows []KindSummary
	err := r.scoped(ctx, JournalFilter{Since: since}).
		Select("kind, COUNT(*) AS count, COALESCE(SUM(delta), 0) AS sum").
		Group("kind").
		Order("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "汇总流水")
	}
	return rows, nil
}

// DeleteBefore 清理旧流水
func (r *journalRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("occurred_at < ?", before).Delete(&models.JournalEntry{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrDatabaseQuery, "清理流水")
	}
	return result.RowsAffected, nil
}
