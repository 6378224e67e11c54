// Package animation 实现里程碑庆祝动画：三轮烟花扩散后全屏闪烁。
//
// 引擎每次Step最多推进一个状态，由经过时间驱动，不做任何等待。
// 非空闲期间动画独占帧输出。
package animation

import (
	"math"
	"math/rand"
	"time"

	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/display"
)

// Phase 动画阶段
type Phase int

const (
	PhaseIdle  Phase = iota // 空闲
	PhaseBurst              // 烟花扩散
	PhaseFlash              // 全屏闪烁
)

func (p Phase) String() string {
	switch p {
	case PhaseBurst:
		return "burst"
	case PhaseFlash:
		return "flash"
	default:
		return "idle"
	}
}

// 默认参数
const (
	DefaultStepInterval  = 40 * time.Millisecond
	DefaultFlashInterval = 120 * time.Millisecond
	DefaultBursts        = 3
	DefaultMaxRadius     = 7
	DefaultFlashSteps    = 6
)

// Palette 烟花颜色
var Palette = [6]display.Color{
	{R: 255},
	{G: 255},
	{B: 255},
	{R: 255, G: 255},
	{R: 255, B: 255},
	{G: 255, B: 255},
}

// 圆环采样：每10度一个点
const ringSamples = 36

var ringCos, ringSin [ringSamples]float64

func init() {
	for i := 0; i < ringSamples; i++ {
		rad := float64(i*10) * math.Pi / 180
		ringCos[i] = math.Cos(rad)
		ringSin[i] = math.Sin(rad)
	}
}

// Options 动画参数
type Options struct {
	StepInterval  time.Duration
	FlashInterval time.Duration
	Bursts        int
	MaxRadius     int
	FlashSteps    int
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		StepInterval:  DefaultStepInterval,
		FlashInterval: DefaultFlashInterval,
		Bursts:        DefaultBursts,
		MaxRadius:     DefaultMaxRadius,
		FlashSteps:    DefaultFlashSteps,
	}
}

// State 动画状态
type State struct {
	Phase     Phase
	Origin    clock.Millis
	Burst     int
	CenterX   int
	CenterY   int
	Color     display.Color
	Radius    int
	FlashStep int
	due       bool // 刚进入阶段，下一次Step立即绘制
}

// Engine 动画状态机
type Engine struct {
	opts   Options
	step   uint32
	flash  uint32
	width  int
	height int
	rng    *rand.Rand
	state  State

	triggered int
	ignored   int
}

// NewEngine 创建动画引擎；rng为nil时使用固定种子
func NewEngine(width, height int, opts Options, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	e := &Engine{width: width, height: height, rng: rng}
	e.Retune(opts)
	return e
}

// Retune 更新时间参数，下一次Step生效
func (e *Engine) Retune(opts Options) {
	if opts.Bursts <= 0 {
		opts.Bursts = DefaultBursts
	}
	if opts.MaxRadius < 0 {
		opts.MaxRadius = DefaultMaxRadius
	}
	if opts.FlashSteps < 0 {
		opts.FlashSteps = DefaultFlashSteps
	}
	e.opts = opts
	e.step = clock.ToMillis(opts.StepInterval)
	e.flash = clock.ToMillis(opts.FlashInterval)
}

// Active 是否正在播放
func (e *Engine) Active() bool {
	return e.state.Phase != PhaseIdle
}

// State 当前状态快照
func (e *Engine) State() State {
	return e.state
}

// Triggered 已启动的动画次数
func (e *Engine) Triggered() int { return e.triggered }

// Ignored 播放中被忽略的触发次数
func (e *Engine) Ignored() int { return e.ignored }

// Trigger 启动动画；播放中再次触发被忽略并返回false
func (e *Engine) Trigger(now clock.Millis) bool {
	if e.Active() {
		e.ignored++
		return false
	}
	e.triggered++
	e.state = State{Phase: PhaseBurst, Origin: now, due: true}
	e.newBurst()
	return true
}

func (e *Engine) newBurst() {
	e.state.CenterX = e.pick(e.width, 3)
	e.state.CenterY = e.pick(e.height, 2)
	e.state.Color = Palette[e.rng.Intn(len(Palette))]
	e.state.Radius = 0
}

// pick 在[margin, size-margin)中随机取值，尺寸不足时退化为中心附近
func (e *Engine) pick(size, margin int) int {
	span := size - 2*margin
	if span <= 0 {
		return size / 2
	}
	return margin + e.rng.Intn(span)
}

// Step 推进一步，帧内容被改写时返回true
func (e *Engine) Step(now clock.Millis, f *display.Frame) bool {
	s := &e.state
	if s.Phase == PhaseIdle {
		return false
	}

	interval := e.step
	if s.Phase == PhaseFlash {
		interval = e.flash
	}
	if !s.due && clock.Elapsed(now, s.Origin) < interval {
		return false
	}
	s.due = false
	s.Origin = now

	switch s.Phase {
	case PhaseBurst:
		f.Clear()
		e.drawRing(f)
		s.Radius++
		if s.Radius > e.opts.MaxRadius {
			s.Burst++
			if s.Burst < e.opts.Bursts {
				e.newBurst()
			} else {
				s.Phase = PhaseFlash
				s.FlashStep = 0
			}
		}
	case PhaseFlash:
		if s.FlashStep >= e.opts.FlashSteps {
			f.Clear()
			e.state = State{}
			return true
		}
		if s.FlashStep%2 == 0 {
			f.Fill(display.White)
		} else {
			f.Clear()
		}
		s.FlashStep++
	}
	return true
}

func (e *Engine) drawRing(f *display.Frame) {
	s := &e.state
	r := float64(s.Radius)
	for i := 0; i < ringSamples; i++ {
		x := s.CenterX + int(math.Round(r*ringCos[i]))
		y := s.CenterY + int(math.Round(r*ringSin[i]))
		f.Set(x, y, s.Color)
	}
}
