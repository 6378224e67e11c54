// Package sensor 实现投币传感器与按键的边沿去抖检测。
package sensor

import (
	"time"

	"github.com/wfunc/coin-bank/internal/clock"
)

// DefaultThreshold 默认检测阈值（0-1023，读数不高于阈值视为有币遮挡）
const DefaultThreshold uint16 = 640

// AnalogReader 模拟量读取能力
type AnalogReader interface {
	ReadAnalog(pin int) uint16
}

// DigitalReader 数字量读取能力（true为按下）
type DigitalReader interface {
	ReadDigital(pin int) bool
}

// Denomination 面额
type Denomination struct {
	Name  string
	Value uint32 // 最小货币单位
}

// Edge 上升沿+时间间隔去抖
type Edge struct {
	lastTriggered clock.Millis
	latched       bool
	fired         bool
}

// Update 输入当前是否激活，返回是否产生一次事件。
// 每次都记录观测状态；只有上一次观测为未激活（上升沿）且距离上次事件至少interval时触发。
// 被间隔吞掉的上升沿不会在之后持续激活时补发。
func (e *Edge) Update(active bool, now clock.Millis, interval uint32) bool {
	rising := active && !e.latched
	e.latched = active
	if !rising {
		return false
	}
	if e.fired && clock.Elapsed(now, e.lastTriggered) < interval {
		return false
	}
	e.fired = true
	e.lastTriggered = now
	return true
}

// Latched 最近一次观测是否为激活状态
func (e *Edge) Latched() bool { return e.latched }

// LastTriggered 最近一次触发时间
func (e *Edge) LastTriggered() clock.Millis { return e.lastTriggered }

// Channel 单个面额的传感器通道
type Channel struct {
	Pin          int
	Denomination Denomination
	Threshold    uint16
	edge         Edge
}

// Occupied 判断读数是否表示有币
func (c *Channel) Occupied(magnitude uint16) bool {
	return magnitude <= c.Threshold
}

// Debouncer 投币检测器，按优先级顺序扫描通道
type Debouncer struct {
	reader   AnalogReader
	channels []*Channel
	debounce uint32
}

// NewDebouncer 创建投币检测器，channels顺序即扫描优先级
func NewDebouncer(reader AnalogReader, debounce time.Duration, channels ...*Channel) *Debouncer {
	for _, ch := range channels {
		if ch.Threshold == 0 {
			ch.Threshold = DefaultThreshold
		}
	}
	return &Debouncer{
		reader:   reader,
		channels: channels,
		debounce: clock.ToMillis(debounce),
	}
}

// Poll 扫描所有通道，每次调用最多报告一枚硬币
func (d *Debouncer) Poll(now clock.Millis) (Denomination, bool) {
	for _, ch := range d.channels {
		occupied := ch.Occupied(d.reader.ReadAnalog(ch.Pin))
		if ch.edge.Update(occupied, now, d.debounce) {
			return ch.Denomination, true
		}
	}
	return Denomination{}, false
}

// SetDebounce 调整去抖间隔（在tick边界调用）
func (d *Debouncer) SetDebounce(debounce time.Duration) {
	d.debounce = clock.ToMillis(debounce)
}

// SetThreshold 调整指定引脚通道的阈值
func (d *Debouncer) SetThreshold(pin int, threshold uint16) {
	for _, ch := range d.channels {
		if ch.Pin == pin {
			ch.Threshold = threshold
		}
	}
}

// Channels 返回通道列表（只读用途）
func (d *Debouncer) Channels() []*Channel {
	return d.channels
}
