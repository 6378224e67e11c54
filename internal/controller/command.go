package controller

import (
	"context"

	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/errors"
	"go.uber.org/zap"
)

// CommandKind 命令类型
type CommandKind int

const (
	CommandAdjust CommandKind = iota + 1
	CommandStartMotor
	CommandRetune
	CommandPersist
)

// String 命令名称
func (k CommandKind) String() string {
	switch k {
	case CommandAdjust:
		return "adjust"
	case CommandStartMotor:
		return "start_motor"
	case CommandRetune:
		return "retune"
	case CommandPersist:
		return "persist"
	default:
		return "unknown"
	}
}

// Command 其他goroutine提交给主循环的命令，每个tick最多执行一条
type Command struct {
	Kind    CommandKind
	Delta   int64
	Source  string
	Options *Options
	result  chan error
}

// Submit 非阻塞提交命令，队列满时返回ErrQueueFull
func (c *Controller) Submit(cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	default:
		c.logger.Warn("命令队列已满", zap.Stringer("command", cmd.Kind))
		return errors.Newf(errors.ErrQueueFull, "命令 %s", cmd.Kind)
	}
}

// Pending 队列中等待执行的命令数
func (c *Controller) Pending() int {
	return len(c.cmds)
}

// Adjust 提交手动调整并等待主循环执行结果
func (c *Controller) Adjust(ctx context.Context, delta int64, source string) error {
	if delta == 0 {
		return errors.New(errors.ErrInvalidParam, "调整金额不能为0")
	}
	if source == "" {
		source = SourceAPI
	}
	return c.call(ctx, Command{Kind: CommandAdjust, Delta: delta, Source: source})
}

// StartMotor 提交电机启动，运行中返回ErrMotorBusy
func (c *Controller) StartMotor(ctx context.Context) error {
	return c.call(ctx, Command{Kind: CommandStartMotor})
}

// Persist 请求立即保存余额
func (c *Controller) Persist(ctx context.Context) error {
	return c.call(ctx, Command{Kind: CommandPersist})
}

// Retune 提交新参数，不等待执行
func (c *Controller) Retune(opts Options) error {
	return c.Submit(Command{Kind: CommandRetune, Options: &opts})
}

func (c *Controller) call(ctx context.Context, cmd Command) error {
	cmd.result = make(chan error, 1)
	if err := c.Submit(cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrTimeout, "等待主循环执行命令")
	}
}

func (c *Controller) execute(now clock.Millis, cmd Command) {
	var err error
	switch cmd.Kind {
	case CommandAdjust:
		err = c.adjust(now, cmd.Delta, cmd.Source)
	case CommandStartMotor:
		err = c.startMotor(now)
	case CommandPersist:
		if perr := c.persist("request"); perr != nil {
			err = errors.Wrap(perr, errors.ErrStorageWrite, "保存余额失败")
		}
	case CommandRetune:
		if cmd.Options == nil {
			err = errors.New(errors.ErrInvalidParam, "缺少参数")
			break
		}
		c.retune(*cmd.Options)
	default:
		err = errors.Newf(errors.ErrUnknownCommand, "命令 %d", cmd.Kind)
	}
	if cmd.result != nil {
		// 调用方被唤醒后读取的快照必须已包含本条命令的结果
		c.publish(now)
		cmd.result <- err
	}
}
