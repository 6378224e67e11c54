package storage

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/repository"
)

// commitTimeout 单次写回数据库的超时
const commitTimeout = 5 * time.Second

// DatabaseMedium 把EEPROM镜像保存为数据库中的一行。
// 读写作用于内存副本，Commit时整体写回。
type DatabaseMedium struct {
	mu    sync.RWMutex
	repo  repository.EEPROMRepository
	name  string
	image []byte
}

// OpenDatabaseMedium 加载指定名称的镜像，不存在时创建擦除状态的镜像
func OpenDatabaseMedium(ctx context.Context, repo repository.EEPROMRepository, name string, capacity int) (*DatabaseMedium, error) {
	image := make([]byte, capacity)
	for i := range image {
		image[i] = erasedByte
	}

	row, err := repo.Load(ctx, name)
	switch {
	case err == nil:
		copy(image, row.Data)
	case errors.Is(err, errors.ErrNotFound):
		if err := repo.Save(ctx, name, image); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &DatabaseMedium{repo: repo, name: name, image: image}, nil
}

// ReadAt 读取
func (m *DatabaseMedium) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkRange(int64(len(m.image)), len(p), off); err != nil {
		return 0, err
	}
	return copy(p, m.image[off:]), nil
}

// WriteAt 写入内存副本
func (m *DatabaseMedium) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(int64(len(m.image)), len(p), off); err != nil {
		return 0, err
	}
	return copy(m.image[off:], p), nil
}

// Size 容量
func (m *DatabaseMedium) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.image))
}

// Commit 把镜像写回数据库
func (m *DatabaseMedium) Commit() error {
	m.mu.RLock()
	data := make([]byte, len(m.image))
	copy(data, m.image)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	return m.repo.Save(ctx, m.name, data)
}
