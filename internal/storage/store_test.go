package storage

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/models"
	"github.com/wfunc/coin-bank/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) (repository.EEPROMRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.EEPROMImage{}))
	return repository.NewEEPROMRepository(db), db
}

func TestStoreRoundTrip(t *testing.T) {
	medium := NewMemoryMedium(64)
	store, err := NewStore(medium, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(1234))
	assert.Equal(t, uint32(1234), store.Load())
	assert.True(t, store.Valid())
	assert.Equal(t, 1, medium.Commits())

	// 记录布局：标记在前，余额在后，小端序
	raw := make([]byte, RecordSize)
	_, err = medium.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xB1, 0xC0}, raw[:2])
	assert.Equal(t, uint32(1234), binary.LittleEndian.Uint32(raw[2:]))
}

func TestStoreErasedMediumLoadsZero(t *testing.T) {
	store, err := NewStore(NewMemoryMedium(64), nil)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), store.Load())
	assert.False(t, store.Valid())
}

func TestStoreBadMarkerLoadsZero(t *testing.T) {
	medium := NewMemoryMedium(64)
	_, err := medium.WriteAt([]byte{0x12, 0x34, 0x10, 0x00, 0x00, 0x00}, 0)
	require.NoError(t, err)

	store, err := NewStore(medium, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), store.Load())
}

func TestStoreMaxValue(t *testing.T) {
	store, err := NewStore(NewMemoryMedium(RecordSize), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(^uint32(0)))
	assert.Equal(t, ^uint32(0), store.Load())
}

func TestStoreCapacityTooSmall(t *testing.T) {
	_, err := NewStore(NewMemoryMedium(4), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageCapacity))
}

func TestMediumOutOfRange(t *testing.T) {
	medium := NewMemoryMedium(8)
	_, err := medium.WriteAt(make([]byte, 4), 6)
	assert.True(t, errors.Is(err, errors.ErrStorageCapacity))

	_, err = medium.ReadAt(make([]byte, 1), -1)
	assert.True(t, errors.Is(err, errors.ErrStorageCapacity))
}

func TestFileMediumSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.bin")

	medium, err := OpenFileMedium(path, 64)
	require.NoError(t, err)
	store, err := NewStore(medium, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), store.Load())
	require.NoError(t, store.Save(98765))
	require.NoError(t, medium.Close())

	reopened, err := OpenFileMedium(path, 64)
	require.NoError(t, err)
	defer reopened.Close()

	store, err = NewStore(reopened, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(98765), store.Load())
	assert.Equal(t, int64(64), reopened.Size())
}

func TestFileMediumCommitAfterClose(t *testing.T) {
	medium, err := OpenFileMedium(filepath.Join(t.TempDir(), "eeprom.bin"), 64)
	require.NoError(t, err)
	require.NoError(t, medium.Close())

	err = medium.Commit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageWrite))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestDatabaseMediumSurvivesReopen(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	medium, err := OpenDatabaseMedium(ctx, repo, "main", 64)
	require.NoError(t, err)
	store, err := NewStore(medium, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), store.Load())

	require.NoError(t, store.Save(4242))
	require.NoError(t, store.Save(4343))

	reopened, err := OpenDatabaseMedium(ctx, repo, "main", 64)
	require.NoError(t, err)
	store, err = NewStore(reopened, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(4343), store.Load())

	var row models.EEPROMImage
	require.NoError(t, db.Where("name = ?", "main").First(&row).Error)
	assert.Len(t, row.Data, 64)
	// 创建擦除镜像 + 两次保存
	assert.Equal(t, uint64(3), row.Commits)
}

func TestDatabaseMediumUncommittedWritesAreLost(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	medium, err := OpenDatabaseMedium(ctx, repo, "scratch", 16)
	require.NoError(t, err)
	_, err = medium.WriteAt([]byte{1, 2, 3}, 0)
	require.NoError(t, err)

	reopened, err := OpenDatabaseMedium(ctx, repo, "scratch", 16)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = reopened.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, buf)
}
