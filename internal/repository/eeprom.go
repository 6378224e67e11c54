package repository

import (
	"context"
	stderrors "errors"

	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EEPROMRepository 存储镜像仓储
type EEPROMRepository interface {
	// Load 读取镜像，不存在时返回 ErrNotFound
	Load(ctx context.Context, name string) (*models.EEPROMImage, error)
	// Save 写入镜像并累加提交次数
	Save(ctx context.Context, name string, data []byte) error
}

type eepromRepo struct {
	*BaseRepo
}

// NewEEPROMRepository 创建存储镜像仓储
func NewEEPROMRepository(db *gorm.DB) EEPROMRepository {
	return &eepromRepo{BaseRepo: NewBaseRepo(db)}
}

func (r *eepromRepo) Load(ctx context.Context, name string) (*models.EEPROMImage, error) {
	var image models.EEPROMImage
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&image).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf(errors.ErrNotFound, "存储镜像 %s 不存在", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "加载存储镜像")
	}
	return &image, nil
}

func (r *eepromRepo) Save(ctx context.Context, name string, data []byte) error {
	image := models.EEPROMImage{Name: name, Data: data, Commits: 1}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"data":       data,
			"commits":    gorm.Expr("commits + 1"),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&image).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrStorageWrite, "写回存储镜像")
	}
	return nil
}
