// Package motor 实现H桥电机的非阻塞脉冲序列。
package motor

import (
	"time"

	"github.com/wfunc/coin-bank/internal/clock"
	"go.uber.org/zap"
)

// FullSpeed 脉冲模式下的速度输出
const FullSpeed uint8 = 255

// Driver H桥驱动能力：两路方向输出加一路速度输出
type Driver interface {
	Drive(forward, backward bool, speed uint8) error
}

// Direction 转动方向
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Pulse 脉冲相位
type Pulse int

const (
	PulseOn Pulse = iota
	PulseOff
)

func (p Pulse) String() string {
	if p == PulseOff {
		return "off"
	}
	return "on"
}

// Options 脉冲参数
type Options struct {
	OnDuration     time.Duration
	OffDuration    time.Duration
	ForwardPulses  int
	BackwardPulses int
	Sequences      int
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		OnDuration:     100 * time.Millisecond,
		OffDuration:    100 * time.Millisecond,
		ForwardPulses:  4,
		BackwardPulses: 1,
		Sequences:      2,
	}
}

// State 序列状态
type State struct {
	Running     bool         `json:"running"`
	Direction   Direction    `json:"direction"`
	Pulse       Pulse        `json:"pulse"`
	Origin      clock.Millis `json:"origin"`
	SeqPulses   int          `json:"seq_pulses"`   // 当前序列已完成脉冲
	TotalPulses int          `json:"total_pulses"` // 本次运行已完成脉冲
	Sequences   int          `json:"sequences"`
	Flips       int          `json:"flips"` // 方向切换次数
}

// Sequencer 电机脉冲状态机
type Sequencer struct {
	driver Driver
	logger *zap.Logger
	opts   Options
	on     uint32
	off    uint32
	state  State

	runs      int
	driveErrs int
}

// NewSequencer 创建序列器
func NewSequencer(driver Driver, opts Options, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sequencer{driver: driver, logger: logger}
	s.Retune(opts)
	return s
}

// Retune 更新参数；运行中修改计数参数从下一次判断起生效
func (s *Sequencer) Retune(opts Options) {
	s.opts = opts
	s.on = clock.ToMillis(opts.OnDuration)
	s.off = clock.ToMillis(opts.OffDuration)
}

// Running 是否在运行
func (s *Sequencer) Running() bool {
	return s.state.Running
}

// State 状态快照
func (s *Sequencer) State() State {
	return s.state
}

// Runs 已完成的运行次数
func (s *Sequencer) Runs() int { return s.runs }

// DriveErrors 驱动输出失败次数
func (s *Sequencer) DriveErrors() int { return s.driveErrs }

func (s *Sequencer) initialDirection() Direction {
	if s.opts.ForwardPulses == 0 {
		return Backward
	}
	return Forward
}

// Start 启动一次运行；运行中调用被忽略并返回false
func (s *Sequencer) Start(now clock.Millis) bool {
	if s.state.Running {
		return false
	}
	s.state = State{
		Running:   true,
		Direction: s.initialDirection(),
		Pulse:     PulseOn,
		Origin:    now,
	}
	s.drive(true)
	s.logger.Debug("电机序列启动", zap.Int("forward", s.opts.ForwardPulses),
		zap.Int("backward", s.opts.BackwardPulses), zap.Int("sequences", s.opts.Sequences))
	return true
}

// Step 推进一步；本次运行刚结束时返回true
func (s *Sequencer) Step(now clock.Millis) bool {
	st := &s.state
	if !st.Running {
		return false
	}

	switch st.Pulse {
	case PulseOn:
		if clock.Elapsed(now, st.Origin) < s.on {
			return false
		}
		st.Pulse = PulseOff
		st.Origin = now
		s.drive(false)
		return false

	case PulseOff:
		if clock.Elapsed(now, st.Origin) < s.off {
			return false
		}
		st.TotalPulses++
		st.SeqPulses++

		if st.Direction == Forward && st.SeqPulses >= s.opts.ForwardPulses && s.opts.BackwardPulses > 0 {
			s.setDirection(Backward)
		}
		if st.SeqPulses >= s.opts.ForwardPulses+s.opts.BackwardPulses {
			st.Sequences++
			st.SeqPulses = 0
			s.setDirection(s.initialDirection())
			if st.Sequences >= s.opts.Sequences {
				st.Running = false
				s.drive(false)
				s.runs++
				s.logger.Debug("电机序列完成", zap.Int("pulses", st.TotalPulses), zap.Int("flips", st.Flips))
				return true
			}
		}

		st.Pulse = PulseOn
		st.Origin = now
		s.drive(true)
	}
	return false
}

// Halt 立即切断输出（仅用于进程退出）
func (s *Sequencer) Halt() {
	if !s.state.Running {
		return
	}
	s.state.Running = false
	s.drive(false)
	s.logger.Warn("电机序列被中止", zap.Int("pulses", s.state.TotalPulses))
}

func (s *Sequencer) setDirection(d Direction) {
	if s.state.Direction != d {
		s.state.Direction = d
		s.state.Flips++
	}
}

func (s *Sequencer) drive(on bool) {
	var err error
	switch {
	case !on:
		err = s.driver.Drive(false, false, 0)
	case s.state.Direction == Forward:
		err = s.driver.Drive(true, false, FullSpeed)
	default:
		err = s.driver.Drive(false, true, FullSpeed)
	}
	if err != nil {
		s.driveErrs++
		s.logger.Warn("电机输出失败", zap.Error(err))
	}
}
