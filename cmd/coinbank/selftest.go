package main

import (
	"fmt"
	"io"
	"time"

	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/controller"
	"github.com/wfunc/coin-bank/internal/hardware"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/storage"
	"go.uber.org/zap"
)

// selftestLimit 单个步骤最多推进的模拟时间
const selftestLimit = 60 * time.Second

// bench 自检环境：模拟时钟 + 模拟板卡 + 内存介质
type bench struct {
	out    io.Writer
	opts   controller.Options
	clk    *clock.Manual
	board  *hardware.MockBoard
	medium *storage.MemoryMedium
	store  *storage.Store
	ctrl   *controller.Controller
	step   time.Duration
	failed int
}

// runSelftest 同步驱动主循环走完投币、里程碑、下溢、电机流程，返回退出码
func runSelftest(cfg *config.Config, out io.Writer) int {
	b, err := newBench(cfg, out)
	if err != nil {
		fmt.Fprintf(out, "自检初始化失败: %v\n", err)
		return 1
	}
	defer b.board.Close()

	b.checkDeposits()
	b.checkMilestone()
	b.checkUnderflow()
	b.checkMotor()

	snap := b.ctrl.Snapshot()
	fmt.Fprintf(out, "余额=%d 显示=%s 投币=%d 里程碑=%d 提交=%d\n",
		snap.Total, snap.Text, snap.Stats.Coins, snap.Stats.Milestones, b.medium.Commits())
	if b.failed > 0 {
		fmt.Fprintf(out, "自检失败: %d 项\n", b.failed)
		return 1
	}
	fmt.Fprintln(out, "自检通过")
	return 0
}

func newBench(cfg *config.Config, out io.Writer) (*bench, error) {
	opts, err := controller.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	b := &bench{
		out:    out,
		opts:   opts,
		clk:    clock.NewManual(0),
		board:  hardware.NewMockBoard(opts.Display.Width * opts.Display.Height),
		medium: storage.NewMemoryMedium(64),
		step:   opts.TickInterval,
	}
	if b.step <= 0 {
		b.step = 5 * time.Millisecond
	}

	b.store, err = storage.NewStore(b.medium, zap.NewNop())
	if err != nil {
		return nil, err
	}
	b.ctrl, err = controller.New(controller.Deps{
		Clock:   b.clk,
		Analog:  b.board,
		Digital: b.board,
		Driver:  b.board,
		Sink:    b.board,
		Store:   b.store,
		Journal: journal.NewWriter(nil, 256, zap.NewNop()),
		Logger:  zap.NewNop(),
	}, opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *bench) report(name string, ok bool, format string, args ...interface{}) {
	status := "PASS"
	if !ok {
		status = "FAIL"
		b.failed++
	}
	fmt.Fprintf(b.out, "[%s] %s: %s\n", status, name, fmt.Sprintf(format, args...))
}

// advance 推进d并逐tick执行
func (b *bench) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += b.step {
		b.clk.Advance(b.step)
		b.ctrl.Tick(b.clk.Now())
	}
}

// until 推进直到cond成立或超时
func (b *bench) until(cond func(controller.Snapshot) bool) bool {
	for elapsed := time.Duration(0); elapsed < selftestLimit; elapsed += b.step {
		if cond(b.ctrl.Snapshot()) {
			return true
		}
		b.clk.Advance(b.step)
		b.ctrl.Tick(b.clk.Now())
	}
	return cond(b.ctrl.Snapshot())
}

func (b *bench) coin(pin int) {
	b.board.SetAnalog(pin, 0)
	b.ctrl.Tick(b.clk.Now())
	b.board.SetAnalog(pin, hardware.IdleAnalog)
	b.advance(b.opts.SensorDebounce + b.step)
}

func (b *bench) press(pin int) {
	b.board.SetButton(pin, true)
	b.ctrl.Tick(b.clk.Now())
	b.board.SetButton(pin, false)
	b.advance(b.opts.ButtonDebounce + b.step)
}

func (b *bench) checkDeposits() {
	var want uint32
	for _, ch := range b.opts.Channels {
		b.coin(ch.Pin)
		want += ch.Value
	}
	snap := b.ctrl.Snapshot()
	b.report("投币", snap.Total == want && b.medium.Commits() == 0,
		"余额 %d (期望 %d)，投币路径未写存储", snap.Total, want)
}

func (b *bench) checkMilestone() {
	interval := b.opts.MilestoneInterval
	if interval == 0 || len(b.opts.Channels) == 0 {
		b.report("里程碑", true, "未配置里程碑，跳过")
		return
	}
	biggest := b.opts.Channels[0]
	for _, ch := range b.opts.Channels[1:] {
		if ch.Value > biggest.Value {
			biggest = ch
		}
	}

	before := b.ctrl.Snapshot().Stats.Milestones
	target := (b.ctrl.Snapshot().Total/interval + 1) * interval
	for b.ctrl.Snapshot().Total < target {
		b.coin(biggest.Pin)
	}
	snap := b.ctrl.Snapshot()
	crossed := snap.Stats.Milestones > before

	idle := b.until(func(s controller.Snapshot) bool { return s.Animation == "idle" })
	b.report("里程碑", crossed && idle,
		"跨越 %d，动画结束后显示 %s", target, b.ctrl.Snapshot().Text)
}

func (b *bench) checkUnderflow() {
	snap := b.ctrl.Snapshot()
	err := b.ctrl.Submit(controller.Command{
		Kind:   controller.CommandAdjust,
		Delta:  -int64(snap.Total) - 1,
		Source: "selftest",
	})
	if err != nil {
		b.report("下溢", false, "提交失败: %v", err)
		return
	}
	b.advance(b.step)
	after := b.ctrl.Snapshot()
	shown := after.ErrorActive
	cleared := b.until(func(s controller.Snapshot) bool { return !s.ErrorActive })
	b.report("下溢", shown && cleared && after.Total == snap.Total && after.Stats.Rejected > snap.Stats.Rejected,
		"扣减被拒绝，余额保持 %d", after.Total)
}

func (b *bench) checkMotor() {
	before := b.ctrl.Snapshot()
	b.press(b.opts.Buttons.Motor)
	started := b.ctrl.Snapshot().Motor.Running
	done := b.until(func(s controller.Snapshot) bool { return !s.Motor.Running })
	after := b.ctrl.Snapshot()
	b.report("电机", started && done && after.Stats.MotorRuns == before.Stats.MotorRuns+1 && b.store.Load() == after.Total,
		"完成 %d 次运行，已保存余额 %d", after.Stats.MotorRuns, b.store.Load())
}
