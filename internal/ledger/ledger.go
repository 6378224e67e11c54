// Package ledger 保存唯一的权威余额并检测里程碑。
package ledger

import (
	"math"

	"github.com/wfunc/coin-bank/internal/errors"
)

// DefaultMilestoneInterval 默认里程碑间隔（最小货币单位）
const DefaultMilestoneInterval uint32 = 1000

// Ledger 账本，只有它能修改余额
type Ledger struct {
	total    uint32
	interval uint32
}

// New 创建账本
func New(milestoneInterval uint32) *Ledger {
	if milestoneInterval == 0 {
		milestoneInterval = DefaultMilestoneInterval
	}
	return &Ledger{interval: milestoneInterval}
}

// Restore 使用持久化的余额初始化
func (l *Ledger) Restore(total uint32) {
	l.total = total
}

// Total 当前余额快照
func (l *Ledger) Total() uint32 {
	return l.total
}

// Interval 里程碑间隔
func (l *Ledger) Interval() uint32 {
	return l.interval
}

// SetInterval 调整里程碑间隔（0保持不变）
func (l *Ledger) SetInterval(interval uint32) {
	if interval > 0 {
		l.interval = interval
	}
}

// Apply 应用一次带符号的变动，返回是否跨越里程碑。
// 结果为负或超出32位存储宽度时拒绝，余额保持不变。
func (l *Ledger) Apply(delta int64) (bool, error) {
	after := int64(l.total) + delta
	if after < 0 {
		return false, errors.Newf(errors.ErrLedgerUnderflow, "余额 %d, 变动 %d", l.total, delta)
	}
	if after > math.MaxUint32 {
		return false, errors.Newf(errors.ErrLedgerOverflow, "余额 %d, 变动 %d", l.total, delta)
	}

	before := l.total
	l.total = uint32(after)
	return l.total/l.interval > before/l.interval, nil
}

// Deposit 投币入账
func (l *Ledger) Deposit(value uint32) (bool, error) {
	return l.Apply(int64(value))
}

// Split 把余额拆分为主单位和两位辅单位
func Split(total, minorPerMajor uint32) (major, minor uint32) {
	if minorPerMajor == 0 {
		minorPerMajor = 100
	}
	return total / minorPerMajor, total % minorPerMajor
}
