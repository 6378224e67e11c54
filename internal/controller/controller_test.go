package controller

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/hardware"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/models"
	"github.com/wfunc/coin-bank/internal/storage"
)

// 默认通道引脚：50->3, 10->2, 5->1, 1->0；按键：加4 减5 电机6
const (
	pin50    = 3
	pin10    = 2
	pin5     = 1
	pin1     = 0
	pinAdd   = 4
	pinSub   = 5
	pinMotor = 6
)

type harness struct {
	t       *testing.T
	clk     *clock.Manual
	board   *hardware.MockBoard
	medium  *storage.MemoryMedium
	store   *storage.Store
	journal *journal.Writer
	opts    Options
	ctrl    *Controller
}

func newHarness(t *testing.T, start clock.Millis, initial uint32, tune func(*Options)) *harness {
	t.Helper()
	opts := DefaultOptions()
	if tune != nil {
		tune(&opts)
	}

	h := &harness{
		t:       t,
		clk:     clock.NewManual(start),
		board:   hardware.NewMockBoard(opts.Display.Width * opts.Display.Height),
		medium:  storage.NewMemoryMedium(64),
		journal: journal.NewWriter(nil, 64, nil),
		opts:    opts,
	}
	t.Cleanup(func() { h.board.Close() })

	var err error
	h.store, err = storage.NewStore(h.medium, nil)
	require.NoError(t, err)
	if initial > 0 {
		require.NoError(t, h.store.Save(initial))
	}

	h.ctrl, err = New(Deps{
		Clock:   h.clk,
		Analog:  h.board,
		Digital: h.board,
		Driver:  h.board,
		Sink:    h.board,
		Store:   h.store,
		Journal: h.journal,
	}, opts)
	require.NoError(t, err)
	return h
}

func (h *harness) tick() {
	h.ctrl.Tick(h.clk.Now())
}

// run 以step为间隔推进d
func (h *harness) run(d, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.clk.Advance(step)
		h.tick()
	}
}

func (h *harness) coin(pin int) {
	h.board.SetAnalog(pin, 100)
	h.tick()
	h.board.SetAnalog(pin, hardware.IdleAnalog)
	h.clk.Advance(20 * time.Millisecond)
	h.tick()
}

func (h *harness) press(pin int) {
	h.board.SetButton(pin, true)
	h.tick()
	h.board.SetButton(pin, false)
	h.clk.Advance(20 * time.Millisecond)
	h.tick()
}

func (h *harness) expected(total uint32, failed bool) []display.Color {
	f := display.NewFrame(h.opts.Display.Width, h.opts.Display.Height)
	r := display.NewRenderer(h.opts.Display)
	if failed {
		r.RenderError(f, total)
	} else {
		r.Render(f, total)
	}
	return f.Pixels()
}

func kinds(entries []models.JournalEntry) []models.JournalKind {
	out := make([]models.JournalKind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

func TestNewRestoresTotal(t *testing.T) {
	h := newHarness(t, 0, 12345, nil)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(12345), snap.Total)
	assert.Equal(t, "123.45", snap.Text)

	// 首次tick即绘制余额
	h.tick()
	assert.Equal(t, h.expected(12345, false), h.board.Shown())
	assert.Equal(t, 1, h.board.Shows())

	// 无变化不重绘
	h.run(50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 1, h.board.Shows())
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, DefaultOptions())
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))
}

func TestDepositsSum(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	for _, pin := range []int{pin50, pin10, pin5, pin1, pin50} {
		h.coin(pin)
	}

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(116), snap.Total)
	assert.Equal(t, "1.16", snap.Text)
	assert.Equal(t, uint64(5), snap.Stats.Coins)
	assert.Equal(t, h.expected(116, false), h.board.Shown())

	// 投币路径不写持久化存储
	assert.Equal(t, 0, h.medium.Commits())

	recent := h.journal.Recent(10)
	require.Len(t, recent, 5)
	assert.Equal(t, models.JournalKindCoin, recent[0].Kind)
	assert.Equal(t, "50", recent[0].Source)
	assert.Equal(t, uint32(116), recent[0].TotalAfter)
}

func TestCoinHeldCountsOnce(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	h.board.SetAnalog(pin10, 200)
	h.run(200*time.Millisecond, time.Millisecond)
	h.board.SetAnalog(pin10, hardware.IdleAnalog)
	h.run(20*time.Millisecond, time.Millisecond)

	assert.Equal(t, uint32(10), h.ctrl.Snapshot().Total)
}

func TestMilestoneRunsAnimationThenRestoresTotal(t *testing.T) {
	h := newHarness(t, 0, 990, nil)
	h.tick()

	h.board.SetAnalog(pin10, 100)
	h.tick()
	h.board.SetAnalog(pin10, hardware.IdleAnalog)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(1000), snap.Total)
	assert.Equal(t, "burst", snap.Animation)
	assert.Equal(t, uint64(1), snap.Stats.Milestones)
	// 动画占用帧输出
	assert.NotEqual(t, h.expected(1000, false), h.board.Shown())

	h.run(3*time.Second, 5*time.Millisecond)

	snap = h.ctrl.Snapshot()
	assert.Equal(t, "idle", snap.Animation)
	assert.Equal(t, h.expected(1000, false), h.board.Shown())
	assert.Contains(t, kinds(h.journal.Recent(10)), models.JournalKindMilestone)
}

func TestMilestoneIgnoredWhileAnimating(t *testing.T) {
	h := newHarness(t, 0, 990, nil)

	h.coin(pin10) // 1000
	for i := 0; i < 20; i++ {
		h.coin(pin50) // 2000 在第20枚
	}

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(2000), snap.Total)
	assert.Equal(t, uint64(2), snap.Stats.Milestones)
	assert.Equal(t, uint64(1), snap.Stats.IgnoredMilestones)
}

func TestAnimationDisabled(t *testing.T) {
	h := newHarness(t, 0, 990, func(o *Options) { o.AnimationEnabled = false })

	h.coin(pin10)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, "idle", snap.Animation)
	assert.Equal(t, uint64(1), snap.Stats.Milestones)
	assert.Equal(t, h.expected(1000, false), h.board.Shown())
}

func TestSubtractUnderflowShowsError(t *testing.T) {
	h := newHarness(t, 0, 50, nil)
	h.tick()

	h.board.SetButton(pinSub, true)
	h.tick()
	h.board.SetButton(pinSub, false)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(50), snap.Total)
	assert.True(t, snap.ErrorActive)
	assert.Equal(t, uint64(1), snap.Stats.Rejected)
	assert.Equal(t, h.expected(50, true), h.board.Shown())
	assert.Equal(t, 1, h.medium.Commits()) // 只有预置的一次保存

	h.run(790*time.Millisecond, 10*time.Millisecond)
	assert.True(t, h.ctrl.Snapshot().ErrorActive)

	h.run(20*time.Millisecond, 10*time.Millisecond)
	assert.False(t, h.ctrl.Snapshot().ErrorActive)
	assert.Equal(t, h.expected(50, false), h.board.Shown())

	recent := h.journal.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, models.JournalKindRejected, recent[0].Kind)
	assert.Equal(t, int64(-100), recent[0].Delta)
}

func TestButtonsAdjustAndPersist(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	h.press(pinAdd)
	h.press(pinAdd)
	h.press(pinSub)

	assert.Equal(t, uint32(100), h.ctrl.Snapshot().Total)
	assert.Equal(t, 3, h.medium.Commits())
	assert.Equal(t, uint32(100), h.store.Load())
	assert.Equal(t, []models.JournalKind{
		models.JournalKindAdjust, models.JournalKindAdjust, models.JournalKindAdjust,
	}, kinds(h.journal.Recent(3)))
}

func TestMotorRunPersistsOnFinish(t *testing.T) {
	h := newHarness(t, 0, 0, nil)
	h.coin(pin50)

	h.board.SetButton(pinMotor, true)
	h.tick()
	h.board.SetButton(pinMotor, false)
	assert.True(t, h.ctrl.Snapshot().Motor.Running)

	h.run(1999*time.Millisecond, time.Millisecond)
	assert.True(t, h.ctrl.Snapshot().Motor.Running)
	assert.Equal(t, 0, h.medium.Commits())

	h.run(time.Millisecond, time.Millisecond)
	snap := h.ctrl.Snapshot()
	assert.False(t, snap.Motor.Running)
	assert.Equal(t, 10, snap.Motor.TotalPulses)
	assert.Equal(t, 4, snap.Motor.Flips)
	assert.Equal(t, uint64(1), snap.Stats.MotorRuns)
	assert.Equal(t, 1, h.medium.Commits())
	assert.Equal(t, uint32(50), h.store.Load())

	drives := h.board.Drives()
	assert.Len(t, drives, 21)
	assert.Equal(t, hardware.DriveCall{}, drives[len(drives)-1])

	recent := h.journal.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, models.JournalKindMotor, recent[0].Kind)
	assert.Equal(t, 10, recent[0].Meta["pulses"])
}

func TestMotorAcrossClockWraparound(t *testing.T) {
	h := newHarness(t, clock.Millis(0xFFFFFF00), 0, nil)

	h.board.SetButton(pinMotor, true)
	h.tick()
	h.board.SetButton(pinMotor, false)

	h.run(2*time.Second, time.Millisecond)
	snap := h.ctrl.Snapshot()
	assert.False(t, snap.Motor.Running)
	assert.Equal(t, uint64(1), snap.Stats.MotorRuns)
	assert.Less(t, uint32(snap.Now), uint32(0x1000))
}

func TestStartMotorWhileRunningIsBusy(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	require.NoError(t, h.ctrl.Submit(Command{Kind: CommandStartMotor}))
	h.tick()

	cmd := Command{Kind: CommandStartMotor, result: make(chan error, 1)}
	require.NoError(t, h.ctrl.Submit(cmd))
	h.tick()
	err := <-cmd.result
	assert.True(t, errors.Is(err, errors.ErrMotorBusy))
}

func TestCommandQueueFull(t *testing.T) {
	h := newHarness(t, 0, 0, func(o *Options) { o.QueueSize = 1 })

	require.NoError(t, h.ctrl.Submit(Command{Kind: CommandPersist}))
	err := h.ctrl.Submit(Command{Kind: CommandPersist})
	assert.True(t, errors.Is(err, errors.ErrQueueFull))
	assert.Equal(t, 1, h.ctrl.Pending())

	h.tick()
	assert.Equal(t, 0, h.ctrl.Pending())
	assert.Equal(t, 1, h.medium.Commits())
}

func TestAdjustTimesOutWithoutLoop(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := h.ctrl.Adjust(ctx, 100, "")
	assert.True(t, errors.Is(err, errors.ErrTimeout))

	// 命令仍在队列中，主循环恢复后照常执行
	h.tick()
	assert.Equal(t, uint32(100), h.ctrl.Snapshot().Total)
}

// gatedSink 在Show中等待放行，用于停住主循环的一次tick
type gatedSink struct {
	*hardware.MockBoard
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSink) Show() error {
	g.entered <- struct{}{}
	<-g.release
	return g.MockBoard.Show()
}

func TestAdjustResultVisibleInSnapshot(t *testing.T) {
	opts := DefaultOptions()
	board := hardware.NewMockBoard(opts.Display.Width * opts.Display.Height)
	defer board.Close()
	medium := storage.NewMemoryMedium(64)
	store, err := storage.NewStore(medium, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(500))

	clk := clock.NewManual(0)
	ctrl, err := New(Deps{
		Clock:   clk,
		Analog:  board,
		Digital: board,
		Driver:  board,
		Sink:    board,
		Store:   store,
	}, opts)
	require.NoError(t, err)
	ctrl.Tick(clk.Now())

	// 首帧之后换上会阻塞的输出，下一次渲染发生在命令执行之后
	sink := &gatedSink{MockBoard: board, entered: make(chan struct{}), release: make(chan struct{})}
	ctrl.sink = sink

	result := make(chan error, 1)
	go func() { result <- ctrl.Adjust(context.Background(), 100, SourceAPI) }()
	require.Eventually(t, func() bool { return ctrl.Pending() == 1 }, time.Second, time.Millisecond)

	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		ctrl.Tick(clk.Advance(time.Millisecond))
	}()

	<-sink.entered
	require.NoError(t, <-result)
	// 调用方返回时tick仍停在渲染中
	assert.Equal(t, uint32(600), ctrl.Snapshot().Total)
	assert.Equal(t, "6.00", ctrl.Snapshot().Text)

	close(sink.release)
	<-ticked
	assert.Equal(t, uint32(600), ctrl.Snapshot().Total)
}

func TestAdjustRejectsZero(t *testing.T) {
	h := newHarness(t, 0, 0, nil)
	err := h.ctrl.Adjust(context.Background(), 0, SourceAPI)
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))
}

func TestRunExecutesCommandsAndPersistsOnShutdown(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	require.NoError(t, h.ctrl.Adjust(callCtx, 250, SourceAPI))
	err := h.ctrl.Adjust(callCtx, -1000, SourceAPI)
	assert.True(t, errors.Is(err, errors.ErrLedgerUnderflow))
	require.NoError(t, h.ctrl.Persist(callCtx))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("主循环未退出")
	}

	assert.Equal(t, uint32(250), h.store.Load())
	// 调整 + 请求 + 退出
	assert.Equal(t, 3, h.medium.Commits())
}

func TestSubscribeReceivesFlushedFrames(t *testing.T) {
	h := newHarness(t, 0, 0, nil)
	updates, cancel := h.ctrl.Subscribe(4)
	defer cancel()

	h.tick()
	h.coin(pin5)

	var last Update
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Equal(t, uint32(5), last.Snapshot.Total)
	assert.Equal(t, 32, last.Width)
	assert.Equal(t, 8, last.Height)
	assert.Equal(t, h.expected(5, false), last.Pixels)
	assert.Equal(t, h.expected(5, false), h.ctrl.Frame().Pixels)

	cancel()
	_, ok := <-updates
	assert.False(t, ok)
}

func TestSinkErrorsAreCounted(t *testing.T) {
	h := newHarness(t, 0, 0, nil)
	h.board.SetShowError(stderrors.New("strip offline"))

	h.tick()
	h.coin(pin1)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(1), snap.Total)
	assert.Equal(t, uint64(2), snap.Stats.SinkErrors)
}

func TestRetuneAtTickBoundary(t *testing.T) {
	h := newHarness(t, 0, 0, nil)

	opts := h.opts
	opts.AdjustStep = 500
	opts.Display.Width = 64 // 尺寸不支持热更新
	require.NoError(t, h.ctrl.Retune(opts))

	h.tick()
	h.press(pinAdd)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, uint32(500), snap.Total)
	assert.Equal(t, 32, h.ctrl.Frame().Width)
	assert.Len(t, h.board.Shown(), 256)
}

func TestOptionsFromConfigChannels(t *testing.T) {
	opts := DefaultOptions()
	require.Len(t, opts.Channels, 4)
	assert.Equal(t, []int{3, 2, 1, 0}, opts.CoinPins())
	assert.Equal(t, uint16(640), opts.channelThreshold(opts.Channels[0]))
	assert.Equal(t, uint16(500), opts.channelThreshold(ChannelOptions{Threshold: 500}))
	assert.Equal(t, display.Color{R: 0xFF}, opts.Display.ErrorColor)
}
