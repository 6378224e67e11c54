package storage

import (
	"io"
	"os"
	"sync"

	"github.com/wfunc/coin-bank/internal/errors"
)

// erasedByte 未写入的EEPROM单元读出值
const erasedByte = 0xFF

// Medium 按字节寻址、容量固定的非易失介质
type Medium interface {
	io.ReaderAt
	io.WriterAt
	// Size 介质总容量（字节）
	Size() int64
	// Commit 把写入落到物理介质
	Commit() error
}

func checkRange(size int64, n int, off int64) error {
	if off < 0 || off+int64(n) > size {
		return errors.Newf(errors.ErrStorageCapacity, "访问 [%d, %d) 超出容量 %d", off, off+int64(n), size)
	}
	return nil
}

// MemoryMedium 内存镜像介质，初始为擦除状态
type MemoryMedium struct {
	mu      sync.RWMutex
	data    []byte
	commits int
}

// NewMemoryMedium 创建内存介质
func NewMemoryMedium(capacity int) *MemoryMedium {
	data := make([]byte, capacity)
	for i := range data {
		data[i] = erasedByte
	}
	return &MemoryMedium{data: data}
}

// ReadAt 读取
func (m *MemoryMedium) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkRange(int64(len(m.data)), len(p), off); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt 写入
func (m *MemoryMedium) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(int64(len(m.data)), len(p), off); err != nil {
		return 0, err
	}
	return copy(m.data[off:], p), nil
}

// Size 容量
func (m *MemoryMedium) Size() int64 {
	return int64(len(m.data))
}

// Commit 内存介质无需落盘，只计数
func (m *MemoryMedium) Commit() error {
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()
	return nil
}

// Commits 提交次数（用于观察写入磨损）
func (m *MemoryMedium) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// FileMedium 以固定大小文件模拟EEPROM
type FileMedium struct {
	mu   sync.Mutex
	file *os.File
	size int64
}

// OpenFileMedium 打开或创建镜像文件；新文件填充为擦除状态
func OpenFileMedium(path string, capacity int) (*FileMedium, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStorageRead, "打开镜像文件 %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrStorageRead)
	}

	// 文件不足容量时补齐擦除字节，保留已有内容
	if info.Size() < int64(capacity) {
		pad := make([]byte, int64(capacity)-info.Size())
		for i := range pad {
			pad[i] = erasedByte
		}
		if _, err := f.WriteAt(pad, info.Size()); err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.ErrStorageWrite)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.ErrStorageWrite)
		}
	}

	return &FileMedium{file: f, size: int64(capacity)}, nil
}

// ReadAt 读取
func (m *FileMedium) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(m.size, len(p), off); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.ReadAt(p, off)
}

// WriteAt 写入
func (m *FileMedium) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(m.size, len(p), off); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.WriteAt(p, off)
}

// Size 容量
func (m *FileMedium) Size() int64 {
	return m.size
}

// Commit 同步到磁盘
func (m *FileMedium) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrStorageWrite, "同步存储镜像")
	}
	return nil
}

// Close 关闭文件
func (m *FileMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
