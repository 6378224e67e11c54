package database

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 迁移锁参数
const (
	lockSuffix   = ".migration.lock"
	lockAttempts = 30
	lockRetry    = time.Second
	lockStale    = 5 * time.Minute
)

// migrationLock sqlite文件的跨进程迁移锁
type migrationLock struct {
	path string
	file *os.File
}

// acquireMigrationLock 以独占创建锁文件的方式获取迁移锁，过期锁会被接管
func acquireMigrationLock(dbPath string) (*migrationLock, error) {
	path := dbPath + lockSuffix

	for attempt := 1; attempt <= lockAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			logger.Debug("获取迁移锁成功", zap.String("lock", path))
			return &migrationLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrapf(err, errors.ErrDatabaseConnect, "创建迁移锁 %s", path)
		}
		if removeIfStale(path, lockStale) {
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", attempt))
		time.Sleep(lockRetry)
	}

	return nil, errors.New(errors.ErrTimeout, "无法获取迁移锁，可能有其他进程正在执行迁移")
}

// release 释放迁移锁
func (l *migrationLock) release() {
	if l == nil {
		return
	}
	l.file.Close()
	os.Remove(l.path)
	logger.Debug("释放迁移锁", zap.String("lock", l.path))
}

// removeIfStale 锁文件超过age未更新时删除，返回是否删除
func removeIfStale(path string, age time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= age {
		return false
	}
	logger.Warn("迁移锁文件过期，删除", zap.String("lock", path), zap.Time("modified", info.ModTime()))
	return os.Remove(path) == nil
}

// sqlitePath 返回连接对应的sqlite文件路径，内存库或其他驱动返回空
func sqlitePath(db *gorm.DB) string {
	if db == nil {
		return ""
	}
	switch db.Dialector.Name() {
	case "sqlite", "sqlite3":
	default:
		return ""
	}

	sqlDB, err := db.DB()
	if err != nil {
		return ""
	}
	var (
		seq        int
		name, file string
	)
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}

// CleanupStaleLocks 启动前清理上次异常退出遗留的迁移锁
func CleanupStaleLocks(cfg *config.DatabaseConfig) {
	switch cfg.Driver {
	case "sqlite", "sqlite3":
	default:
		return
	}
	if cfg.DSN == "" || strings.HasPrefix(cfg.DSN, "file:") || strings.Contains(cfg.DSN, ":memory:") {
		return
	}
	if removeIfStale(cfg.DSN+lockSuffix, 2*lockStale) {
		logger.Info("已清理过期锁文件", zap.String("db", cfg.DSN))
	}
}
