// Package storage 负责余额的掉电保存。
//
// 记录布局固定在偏移0：[2字节完整性标记][4字节余额]，均为小端序。
// 标记不匹配或介质读取失败时余额按0处理，从不阻止启动。
package storage

import (
	"encoding/binary"

	"github.com/wfunc/coin-bank/internal/errors"
	"go.uber.org/zap"
)

const (
	// Marker 完整性标记
	Marker uint16 = 0xC0B1

	markerSize = 2
	totalSize  = 4
	// RecordSize 记录总长度
	RecordSize = markerSize + totalSize
)

// Store 余额持久化
type Store struct {
	medium Medium
	offset int64
	logger *zap.Logger
}

// NewStore 创建持久化存储
func NewStore(medium Medium, logger *zap.Logger) (*Store, error) {
	if medium.Size() < RecordSize {
		return nil, errors.Newf(errors.ErrStorageCapacity, "需要 %d 字节，容量 %d", RecordSize, medium.Size())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{medium: medium, logger: logger}, nil
}

// Save 写入标记和余额并提交
func (s *Store) Save(total uint32) error {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint16(buf[:markerSize], Marker)
	binary.LittleEndian.PutUint32(buf[markerSize:], total)

	if _, err := s.medium.WriteAt(buf[:], s.offset); err != nil {
		return errors.Wrap(err, errors.ErrStorageWrite, "写入余额记录")
	}
	if err := s.medium.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrStorageWrite, "提交余额记录")
	}

	s.logger.Debug("余额已保存", zap.Uint32("total", total))
	return nil
}

// Load 读取余额；记录无效或缺失时返回0
func (s *Store) Load() uint32 {
	total, ok := s.load()
	if !ok {
		return 0
	}
	return total
}

// Valid 判断介质中是否有有效记录
func (s *Store) Valid() bool {
	_, ok := s.load()
	return ok
}

func (s *Store) load() (uint32, bool) {
	var marker [markerSize]byte
	if _, err := s.medium.ReadAt(marker[:], s.offset); err != nil {
		s.logger.Warn("读取完整性标记失败，余额按0处理", zap.Error(err))
		return 0, false
	}
	if got := binary.LittleEndian.Uint16(marker[:]); got != Marker {
		s.logger.Warn("完整性标记不匹配，余额按0处理", zap.Uint16("marker", got))
		return 0, false
	}

	var total [totalSize]byte
	if _, err := s.medium.ReadAt(total[:], s.offset+markerSize); err != nil {
		s.logger.Warn("读取余额失败，余额按0处理", zap.Error(err))
		return 0, false
	}
	return binary.LittleEndian.Uint32(total[:]), true
}
