// Package controller 实现单线程协作式主循环。
//
// 每次tick读取一次时钟，依次推进投币检测、按键、外部命令、动画/渲染和电机序列，
// 每个状态机最多前进一步，任何一步都不阻塞。其他goroutine只能通过有界命令队列、
// 只读状态快照和非阻塞帧订阅与主循环交互。
package controller

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/wfunc/coin-bank/internal/animation"
	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/ledger"
	"github.com/wfunc/coin-bank/internal/models"
	"github.com/wfunc/coin-bank/internal/motor"
	"github.com/wfunc/coin-bank/internal/sensor"
	"github.com/wfunc/coin-bank/internal/storage"
	"go.uber.org/zap"
)

// journalFlushInterval 空闲时提交流水的最长间隔（毫秒）
const journalFlushInterval uint32 = 1000

// 流水来源
const (
	SourceButton = "button"
	SourceAPI    = "api"
)

// Deps 主循环依赖的外部能力
type Deps struct {
	Clock   clock.Clock
	Analog  sensor.AnalogReader
	Digital sensor.DigitalReader
	Driver  motor.Driver
	Sink    display.Sink
	Store   *storage.Store
	Journal *journal.Writer // 可为nil
	Rand    *rand.Rand      // 可为nil
	Logger  *zap.Logger     // 模块日志
	Events  *zap.Logger     // 调试事件日志，关闭时为空日志器
}

// Controller 主循环
type Controller struct {
	clk     clock.Clock
	sink    display.Sink
	store   *storage.Store
	journal *journal.Writer
	logger  *zap.Logger
	events  *zap.Logger

	opts      Options
	ledger    *ledger.Ledger
	debouncer *sensor.Debouncer
	buttons   *sensor.Buttons
	renderer  *display.Renderer
	anim      *animation.Engine
	seq       *motor.Sequencer
	frame     *display.Frame
	width     int
	height    int

	cmds chan Command

	dirty       bool
	flushed     bool
	errorActive bool
	errorSince  clock.Millis
	text        string
	textTotal   uint32
	lastJournal clock.Millis

	stats Stats

	snapMu   sync.RWMutex
	snapshot Snapshot
	shown    []display.Color // 最近一次输出的帧

	obsMu     sync.Mutex
	observers map[int]chan Update
	nextObs   int
}

// Stats 主循环计数
type Stats struct {
	Ticks             uint64 `json:"ticks"`
	Coins             uint64 `json:"coins"`
	Adjustments       uint64 `json:"adjustments"`
	Rejected          uint64 `json:"rejected"`
	Milestones        uint64 `json:"milestones"`
	IgnoredMilestones uint64 `json:"ignored_milestones"`
	MotorRuns         uint64 `json:"motor_runs"`
	Renders           uint64 `json:"renders"`
	Flushes           uint64 `json:"flushes"`
	SinkErrors        uint64 `json:"sink_errors"`
	PersistFailures   uint64 `json:"persist_failures"`
	DroppedUpdates    uint64 `json:"dropped_updates"`
}

// New 创建主循环，余额从持久化存储恢复
func New(deps Deps, opts Options) (*Controller, error) {
	if deps.Clock == nil || deps.Analog == nil || deps.Digital == nil ||
		deps.Driver == nil || deps.Sink == nil || deps.Store == nil {
		return nil, errors.New(errors.ErrInvalidParam, "主循环缺少必需的依赖")
	}
	if opts.Display.Width <= 0 || opts.Display.Height <= 0 {
		return nil, errors.Newf(errors.ErrInvalidParam, "点阵尺寸无效: %dx%d", opts.Display.Width, opts.Display.Height)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = zap.NewNop()
	}

	channels := make([]*sensor.Channel, 0, len(opts.Channels))
	for _, ch := range opts.Channels {
		channels = append(channels, &sensor.Channel{
			Pin:          ch.Pin,
			Denomination: sensor.Denomination{Name: ch.Name, Value: ch.Value},
			Threshold:    opts.channelThreshold(ch),
		})
	}

	c := &Controller{
		clk:       deps.Clock,
		sink:      deps.Sink,
		store:     deps.Store,
		journal:   deps.Journal,
		logger:    deps.Logger,
		events:    deps.Events,
		opts:      opts,
		ledger:    ledger.New(opts.MilestoneInterval),
		debouncer: sensor.NewDebouncer(deps.Analog, opts.SensorDebounce, channels...),
		buttons:   sensor.NewButtons(deps.Digital, opts.Buttons, opts.ButtonDebounce),
		renderer:  display.NewRenderer(opts.Display),
		anim:      animation.NewEngine(opts.Display.Width, opts.Display.Height, opts.Animation, deps.Rand),
		seq:       motor.NewSequencer(deps.Driver, opts.Motor, deps.Events),
		frame:     display.NewFrame(opts.Display.Width, opts.Display.Height),
		width:     opts.Display.Width,
		height:    opts.Display.Height,
		cmds:      make(chan Command, opts.QueueSize),
		dirty:     true,
		shown:     make([]display.Color, opts.Display.Width*opts.Display.Height),
		observers: make(map[int]chan Update),
	}

	total := c.store.Load()
	c.ledger.Restore(total)
	c.logger.Info("余额已恢复",
		zap.Uint32("total", total),
		zap.String("display", c.renderer.Text(total)),
		zap.Bool("valid_record", c.store.Valid()))

	c.publish(c.clk.Now())
	return c, nil
}

// Run 按TickInterval驱动主循环直到ctx取消，退出前切断电机并保存余额
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	c.logger.Info("主循环启动", zap.Duration("tick", c.opts.TickInterval))
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-ticker.C:
			c.Tick(c.clk.Now())
		}
	}
}

func (c *Controller) shutdown() {
	c.seq.Halt()
	c.persist("shutdown")
	if c.journal != nil {
		c.journal.Flush()
	}
	c.logger.Info("主循环已停止",
		zap.Uint32("total", c.ledger.Total()),
		zap.Uint64("ticks", c.stats.Ticks))
}

// Tick 执行一次迭代
func (c *Controller) Tick(now clock.Millis) {
	c.stats.Ticks++

	// 投币检测优先
	if d, ok := c.debouncer.Poll(now); ok {
		c.deposit(now, d)
	}

	switch c.buttons.Poll(now) {
	case sensor.ButtonAdd:
		_ = c.adjust(now, int64(c.opts.AdjustStep), SourceButton)
	case sensor.ButtonSubtract:
		_ = c.adjust(now, -int64(c.opts.AdjustStep), SourceButton)
	case sensor.ButtonMotor:
		_ = c.startMotor(now)
	}

	select {
	case cmd := <-c.cmds:
		c.execute(now, cmd)
	default:
	}

	c.stepDisplay(now)

	if c.seq.Step(now) {
		c.motorFinished()
	}

	// 动画和电机都空闲时才提交积压的投币流水
	if c.journal != nil && !c.anim.Active() && !c.seq.Running() &&
		clock.Elapsed(now, c.lastJournal) >= journalFlushInterval {
		c.lastJournal = now
		c.journal.Flush()
	}

	c.publish(now)
	if c.flushed {
		c.flushed = false
		c.notify()
	}
}

func (c *Controller) deposit(now clock.Millis, d sensor.Denomination) {
	crossed, err := c.ledger.Deposit(d.Value)
	if err != nil {
		c.stats.Rejected++
		c.logger.Warn("投币入账被拒绝", zap.String("coin", d.Name), zap.Error(err))
		c.record(models.JournalKindRejected, int64(d.Value), d.Name, nil)
		return
	}
	c.stats.Coins++
	c.dirty = true
	c.events.Debug("投币", zap.String("coin", d.Name), zap.Uint32("total", c.ledger.Total()))
	c.record(models.JournalKindCoin, int64(d.Value), d.Name, nil)
	if crossed {
		c.milestone(now, d.Name)
	}
}

// adjust 手动调整，成功后在此处保存余额
func (c *Controller) adjust(now clock.Millis, delta int64, source string) error {
	crossed, err := c.ledger.Apply(delta)
	if err != nil {
		c.stats.Rejected++
		c.errorActive = true
		c.errorSince = now
		c.dirty = true
		c.events.Debug("调整被拒绝", zap.Int64("delta", delta), zap.Error(err))
		c.record(models.JournalKindRejected, delta, source, models.JSONData{"reason": err.Error()})
		return err
	}

	c.stats.Adjustments++
	c.dirty = true
	c.events.Debug("手动调整", zap.Int64("delta", delta), zap.String("source", source),
		zap.Uint32("total", c.ledger.Total()))
	c.record(models.JournalKindAdjust, delta, source, nil)
	if crossed {
		c.milestone(now, source)
	}
	c.persist("adjust")
	if c.journal != nil {
		c.journal.Flush()
	}
	return nil
}

func (c *Controller) milestone(now clock.Millis, source string) {
	c.stats.Milestones++
	c.record(models.JournalKindMilestone, 0, source, models.JSONData{"interval": c.ledger.Interval()})
	if !c.opts.AnimationEnabled {
		return
	}
	if !c.anim.Trigger(now) {
		c.stats.IgnoredMilestones++
		c.events.Debug("动画播放中，忽略里程碑", zap.Uint32("total", c.ledger.Total()))
		return
	}
	c.events.Debug("里程碑动画启动", zap.Uint32("total", c.ledger.Total()))
}

func (c *Controller) startMotor(now clock.Millis) error {
	if !c.seq.Start(now) {
		c.events.Debug("电机运行中，忽略启动")
		return errors.New(errors.ErrMotorBusy)
	}
	return nil
}

func (c *Controller) motorFinished() {
	c.stats.MotorRuns++
	st := c.seq.State()
	c.persist("motor")
	c.record(models.JournalKindMotor, 0, "motor", models.JSONData{
		"pulses":    st.TotalPulses,
		"sequences": st.Sequences,
		"flips":     st.Flips,
	})
	if c.journal != nil {
		c.journal.Flush()
	}
}

// stepDisplay 动画播放时由动画独占帧输出，否则在内容变化时重绘余额
func (c *Controller) stepDisplay(now clock.Millis) {
	if c.anim.Active() {
		if c.anim.Step(now, c.frame) {
			c.flush()
		}
		if !c.anim.Active() {
			// 动画结束后恢复余额显示
			c.dirty = true
		}
		return
	}

	if c.errorActive && clock.Reached(now, c.errorSince, c.opts.ErrorHold) {
		c.errorActive = false
		c.dirty = true
	}
	if !c.dirty {
		return
	}

	c.frame.Clear()
	if c.errorActive {
		c.renderer.RenderError(c.frame, c.ledger.Total())
	} else {
		c.renderer.Render(c.frame, c.ledger.Total())
	}
	c.stats.Renders++
	c.dirty = false
	c.flush()
}

func (c *Controller) flush() {
	c.stats.Flushes++
	if err := c.frame.Flush(c.sink); err != nil {
		c.stats.SinkErrors++
		c.events.Debug("帧输出失败", zap.Error(err))
	}
	c.snapMu.Lock()
	copy(c.shown, c.frame.Pixels())
	c.snapMu.Unlock()
	c.flushed = true
}

func (c *Controller) persist(reason string) error {
	total := c.ledger.Total()
	if err := c.store.Save(total); err != nil {
		c.stats.PersistFailures++
		c.logger.Error("保存余额失败", zap.String("reason", reason), zap.Uint32("total", total), zap.Error(err))
		return err
	}
	c.events.Debug("余额已保存", zap.String("reason", reason), zap.Uint32("total", total))
	return nil
}

func (c *Controller) record(kind models.JournalKind, delta int64, source string, meta models.JSONData) {
	if c.journal == nil {
		return
	}
	c.journal.Record(kind, delta, c.ledger.Total(), source, meta)
}

// retune 在tick边界应用新参数。
// 点阵尺寸和通道数量由硬件决定，不随热更新改变。
func (c *Controller) retune(opts Options) {
	if opts.Display.Width != c.opts.Display.Width || opts.Display.Height != c.opts.Display.Height {
		c.logger.Warn("点阵尺寸不支持热更新，保持原值",
			zap.Int("width", c.opts.Display.Width), zap.Int("height", c.opts.Display.Height))
		opts.Display.Width = c.opts.Display.Width
		opts.Display.Height = c.opts.Display.Height
	}
	if opts.QueueSize != c.opts.QueueSize {
		opts.QueueSize = c.opts.QueueSize
	}

	c.debouncer.SetDebounce(opts.SensorDebounce)
	for _, ch := range opts.Channels {
		c.debouncer.SetThreshold(ch.Pin, opts.channelThreshold(ch))
	}
	c.buttons.SetDebounce(opts.ButtonDebounce)
	c.ledger.SetInterval(opts.MilestoneInterval)
	c.renderer = display.NewRenderer(opts.Display)
	c.anim.Retune(opts.Animation)
	c.seq.Retune(opts.Motor)
	c.opts = opts
	c.text = ""
	c.dirty = true
	c.logger.Info("主循环参数已更新")
}
