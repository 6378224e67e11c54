// Package clock 提供主循环使用的毫秒计时。
//
// 所有时间戳都是32位无符号毫秒数，约49.7天回绕一次。比较必须使用
// Elapsed（无符号减法），不能直接比较两个时间戳的大小。
package clock

import (
	"sync/atomic"
	"time"
)

// Millis 毫秒时间戳
type Millis uint32

// Clock 单调时钟
type Clock interface {
	Now() Millis
}

// Elapsed 返回since到now经过的毫秒数，跨越回绕时依然正确
func Elapsed(now, since Millis) uint32 {
	return uint32(now - since)
}

// Reached 判断自since起是否已经过去至少d
func Reached(now, since Millis, d time.Duration) bool {
	return Elapsed(now, since) >= ToMillis(d)
}

// ToMillis 把时长转换为毫秒数（负数按0处理）
func ToMillis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Millisecond)
}

// System 基于进程启动时刻的单调时钟
type System struct {
	start time.Time
}

// NewSystem 创建系统时钟
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Now 当前毫秒数（time.Since使用单调读数）
func (s *System) Now() Millis {
	return Millis(uint64(time.Since(s.start) / time.Millisecond))
}

// Manual 手动推进的时钟，用于测试和自检
type Manual struct {
	now atomic.Uint32
}

// NewManual 创建手动时钟
func NewManual(start Millis) *Manual {
	m := &Manual{}
	m.now.Store(uint32(start))
	return m
}

// Now 当前毫秒数
func (m *Manual) Now() Millis {
	return Millis(m.now.Load())
}

// Advance 推进时钟
func (m *Manual) Advance(d time.Duration) Millis {
	return Millis(m.now.Add(ToMillis(d)))
}

// Set 直接设置时钟
func (m *Manual) Set(t Millis) {
	m.now.Store(uint32(t))
}
