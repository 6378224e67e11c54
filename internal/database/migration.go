package database

import (
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/logger"
	"github.com/wfunc/coin-bank/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.EEPROMImage{},
		&models.JournalEntry{},
	}
}

// AutoMigrate 迁移全局数据库
func AutoMigrate() error {
	if DB == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}

	// 多个进程共用同一个sqlite文件时串行迁移
	if dbPath := sqlitePath(DB); dbPath != "" {
		lock, err := acquireMigrationLock(dbPath)
		if err != nil {
			return err
		}
		defer lock.release()
	}

	return Migrate(DB)
}

// Migrate 对指定连接执行迁移
func Migrate(db *gorm.DB) error {
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			return errors.Wrapf(err, errors.ErrDatabaseQuery, "迁移 %T 失败", model)
		}
	}
	logger.Info("数据库迁移完成", zap.Int("models", len(Models())))
	return nil
}
