package hardware

import (
	stderrors "errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/logger"
	"go.uber.org/zap"
)

// BridgeOptions 串口桥参数
type BridgeOptions struct {
	Pixels            int           // 像素总数
	QueueSize         int           // 电机指令队列长度
	HeartbeatInterval time.Duration // 0表示不发心跳

	// OnFault 下位机故障回调，在读协程中调用，可为nil
	OnFault func(*FaultEvent)
}

// Bridge 串口板卡：后台读写，主循环侧全部非阻塞
type Bridge struct {
	port   SerialPort
	opts   BridgeOptions
	logger *zap.Logger

	seq      atomic.Uint32
	analog   [MaxPins]atomic.Uint32
	buttons  atomic.Uint32
	lastSeen atomic.Int64

	pixels  []display.Color // 仅主循环写
	frameCh chan []byte     // 最新像素帧，容量1
	cmdCh   chan []byte

	framesIn, framesOut, dropped, replaced atomic.Uint64
	writeErrs, nacks, faults               atomic.Uint64

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBridge 创建串口桥，Start后开始收发
func NewBridge(port SerialPort, opts BridgeOptions, log *zap.Logger) *Bridge {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if log == nil {
		log = logger.WithModule("hardware")
	}
	b := &Bridge{
		port:    port,
		opts:    opts,
		logger:  log,
		pixels:  make([]display.Color, opts.Pixels),
		frameCh: make(chan []byte, 1),
		cmdCh:   make(chan []byte, opts.QueueSize),
		stopCh:  make(chan struct{}),
	}
	for i := range b.analog {
		b.analog[i].Store(uint32(IdleAnalog))
	}
	return b
}

// Start 启动读写协程
func (b *Bridge) Start() {
	b.wg.Add(2)
	go b.readLoop()
	go b.writeLoop()
	b.logger.Info("串口桥已启动", zap.Int("pixels", b.opts.Pixels))
}

// Close 停止协程并关闭串口
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		err = b.port.Close()
		b.wg.Wait()
		b.logger.Info("串口桥已关闭")
	})
	return err
}

// ReadAnalog 最近一次上报的模拟量，未上报时为空闲值
func (b *Bridge) ReadAnalog(pin int) uint16 {
	if pin < 0 || pin >= MaxPins {
		return IdleAnalog
	}
	return uint16(b.analog[pin].Load())
}

// ReadDigital 最近一次上报的按键电平
func (b *Bridge) ReadDigital(pin int) bool {
	if pin < 0 || pin >= MaxPins {
		return false
	}
	return b.buttons.Load()&(1<<uint(pin)) != 0
}

// Drive 电机输出指令入队；队列满时返回错误，不阻塞
func (b *Bridge) Drive(forward, backward bool, speed uint8) error {
	raw := NewFrame(CmdMotorDrive, b.nextSeq(), EncodeMotorDrive(forward, backward, speed)).ToBytes()
	select {
	case b.cmdCh <- raw:
		return nil
	default:
		return errors.New(errors.ErrQueueFull, "motor command queue full")
	}
}

// SetPixel 设置待发送帧中的像素
func (b *Bridge) SetPixel(index int, c display.Color) {
	if index < 0 || index >= len(b.pixels) {
		return
	}
	b.pixels[index] = c
}

// Show 提交整帧；尚未发出的旧帧被替换
func (b *Bridge) Show() error {
	payload := EncodePixels(b.pixels)
	if len(payload)+int(MinFrameLen) > int(MaxFrameLen) {
		return errors.Newf(errors.ErrInvalidParam, "pixel frame too large: %d bytes", len(payload))
	}
	raw := NewFrame(CmdPixelFrame, b.nextSeq(), payload).ToBytes()

	select {
	case b.frameCh <- raw:
		return nil
	default:
	}
	select {
	case <-b.frameCh:
		b.replaced.Add(1)
	default:
	}
	select {
	case b.frameCh <- raw:
	default:
		b.replaced.Add(1)
	}
	return nil
}

// Online 最近是否收到过下位机数据
func (b *Bridge) Online() bool {
	last := b.lastSeen.Load()
	if last == 0 {
		return false
	}
	window := 3 * b.opts.HeartbeatInterval
	if window <= 0 {
		window = 3 * time.Second
	}
	return time.Since(time.Unix(0, last)) < window
}

// Stats 统计
func (b *Bridge) Stats() Stats {
	return Stats{
		Online:         b.Online(),
		FramesIn:       b.framesIn.Load(),
		FramesOut:      b.framesOut.Load(),
		FramesDropped:  b.dropped.Load(),
		FramesReplaced: b.replaced.Load(),
		WriteErrors:    b.writeErrs.Load(),
		Nacks:          b.nacks.Load(),
		Faults:         b.faults.Load(),
	}
}

func (b *Bridge) nextSeq() uint16 {
	return uint16(b.seq.Add(1))
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// readLoop 读取循环
func (b *Bridge) readLoop() {
	defer b.wg.Done()
	buf := make([]byte, 1024)
	var decoder FrameDecoder

	for {
		if b.stopped() {
			return
		}

		n, err := b.port.Read(buf)
		if n > 0 {
			if dropped := decoder.Feed(buf[:n], b.handleFrame); dropped > 0 {
				b.dropped.Add(uint64(dropped))
				b.logger.Warn("丢弃损坏帧", zap.Int("count", dropped))
			}
		}
		if err != nil {
			if b.stopped() {
				return
			}
			if !stderrors.Is(err, io.EOF) {
				b.logger.Error("串口读取失败", zap.Error(err))
			}
			// 读超时或错误后稍作等待，避免空转
			select {
			case <-b.stopCh:
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}

// handleFrame 处理接收到的帧
func (b *Bridge) handleFrame(f *Frame) {
	b.framesIn.Add(1)
	b.lastSeen.Store(time.Now().UnixNano())

	switch f.Command {
	case EventAnalogReport:
		samples, err := DecodeAnalogReport(f.Data)
		if err != nil {
			b.logger.Warn("模拟量上报格式错误", zap.Error(err))
			return
		}
		for _, s := range samples {
			if int(s.Pin) < MaxPins {
				b.analog[s.Pin].Store(uint32(s.Value))
			}
		}
	case EventButtonReport:
		mask, err := DecodeButtonReport(f.Data)
		if err != nil {
			b.logger.Warn("按键上报格式错误", zap.Error(err))
			return
		}
		b.buttons.Store(uint32(mask))
	case EventFaultReport:
		b.faults.Add(1)
		fault, err := DecodeFault(f.Data)
		if err != nil {
			b.logger.Warn("故障上报格式错误", zap.Error(err))
			return
		}
		b.logger.Error("下位机故障",
			zap.Uint8("code", fault.FaultCode),
			zap.Uint8("level", fault.Level))
		if b.opts.OnFault != nil {
			b.opts.OnFault(fault)
		}
	case CmdNACK:
		b.nacks.Add(1)
		b.logger.Warn("下位机拒绝指令", zap.Uint16("seq", f.Sequence), zap.Binary("data", f.Data))
	case CmdACK, CmdHeartbeat, EventStatusReport:
		logger.LogSerialFrame("receive", f.Command, f.Sequence, len(f.Data))
	default:
		b.logger.Warn("未知命令", zap.String("cmd", CommandName(f.Command)))
	}
}

// writeLoop 写入循环：电机指令优先于像素帧
func (b *Bridge) writeLoop() {
	defer b.wg.Done()

	var heartbeat <-chan time.Time
	if b.opts.HeartbeatInterval > 0 {
		ticker := time.NewTicker(b.opts.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case raw := <-b.cmdCh:
			b.write(raw)
			continue
		default:
		}

		select {
		case <-b.stopCh:
			return
		case raw := <-b.cmdCh:
			b.write(raw)
		case raw := <-b.frameCh:
			b.write(raw)
		case <-heartbeat:
			b.write(NewFrame(CmdHeartbeat, b.nextSeq(), nil).ToBytes())
		}
	}
}

// write 写出一帧，可重试的失败只重发一次
func (b *Bridge) write(raw []byte) {
	err := b.writeOnce(raw)
	if err != nil && errors.IsRetryable(err) {
		b.writeErrs.Add(1)
		b.logger.Warn("串口写入失败，重发", zap.Error(err))
		err = b.writeOnce(raw)
	}
	if err != nil {
		b.writeErrs.Add(1)
		b.logger.Error("串口写入失败", zap.Error(err))
		return
	}
	b.framesOut.Add(1)
	if raw[3] != CmdPixelFrame {
		logger.LogSerialFrame("send", raw[3], uint16(raw[4])<<8|uint16(raw[5]), len(raw))
	}
}

func (b *Bridge) writeOnce(raw []byte) error {
	n, err := b.port.Write(raw)
	if stderrors.Is(err, io.ErrClosedPipe) || stderrors.Is(err, os.ErrClosed) {
		// 串口已关闭，重发无意义
		return errors.New(errors.ErrCanceled).WithCause(err)
	}
	if err != nil {
		return errors.New(errors.ErrSerialPortWrite).WithCause(err)
	}
	if n != len(raw) {
		return errors.Newf(errors.ErrSerialPortWrite, "incomplete write: %d/%d", n, len(raw))
	}
	return nil
}
