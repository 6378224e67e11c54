package hardware

import (
	"math/rand"
	"sync"
	"time"

	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/logger"
	"go.uber.org/zap"
)

// DriveCall 一次电机输出
type DriveCall struct {
	Forward  bool
	Backward bool
	Speed    uint8
}

// MockBoard 进程内模拟板卡（用于测试和无硬件运行）
type MockBoard struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	analog  [MaxPins]uint16
	buttons uint16

	motor    DriveCall
	drives   []DriveCall
	driveErr error

	pending []display.Color
	shown   []display.Color
	shows   int
	showErr error

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMockBoard 创建模拟板卡
func NewMockBoard(pixels int) *MockBoard {
	m := &MockBoard{
		logger:  logger.WithModule("hardware"),
		pending: make([]display.Color, pixels),
		shown:   make([]display.Color, pixels),
		stopCh:  make(chan struct{}),
	}
	for i := range m.analog {
		m.analog[i] = IdleAnalog
	}
	return m
}

// ReadAnalog 读取模拟量
func (m *MockBoard) ReadAnalog(pin int) uint16 {
	if pin < 0 || pin >= MaxPins {
		return IdleAnalog
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.analog[pin]
}

// ReadDigital 读取按键
func (m *MockBoard) ReadDigital(pin int) bool {
	if pin < 0 || pin >= MaxPins {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buttons&(1<<uint(pin)) != 0
}

// SetAnalog 设置模拟量
func (m *MockBoard) SetAnalog(pin int, value uint16) {
	if pin < 0 || pin >= MaxPins {
		return
	}
	m.mu.Lock()
	m.analog[pin] = value
	m.mu.Unlock()
}

// SetButton 设置按键电平
func (m *MockBoard) SetButton(pin int, pressed bool) {
	if pin < 0 || pin >= MaxPins {
		return
	}
	m.mu.Lock()
	if pressed {
		m.buttons |= 1 << uint(pin)
	} else {
		m.buttons &^= 1 << uint(pin)
	}
	m.mu.Unlock()
}

// Drive 记录电机输出
func (m *MockBoard) Drive(forward, backward bool, speed uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.driveErr != nil {
		return m.driveErr
	}
	m.motor = DriveCall{Forward: forward, Backward: backward, Speed: speed}
	m.drives = append(m.drives, m.motor)
	return nil
}

// SetDriveError 让后续电机输出失败（nil恢复）
func (m *MockBoard) SetDriveError(err error) {
	m.mu.Lock()
	m.driveErr = err
	m.mu.Unlock()
}

// Motor 当前电机输出
func (m *MockBoard) Motor() DriveCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motor
}

// Drives 电机输出历史
func (m *MockBoard) Drives() []DriveCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DriveCall, len(m.drives))
	copy(out, m.drives)
	return out
}

// SetPixel 设置待刷新像素
func (m *MockBoard) SetPixel(index int, c display.Color) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.pending) {
		m.pending[index] = c
	}
}

// Show 刷新整帧
func (m *MockBoard) Show() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.showErr != nil {
		return m.showErr
	}
	copy(m.shown, m.pending)
	m.shows++
	return nil
}

// SetShowError 让后续刷新失败（nil恢复）
func (m *MockBoard) SetShowError(err error) {
	m.mu.Lock()
	m.showErr = err
	m.mu.Unlock()
}

// Shown 最近一次刷新的像素
func (m *MockBoard) Shown() []display.Color {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]display.Color, len(m.shown))
	copy(out, m.shown)
	return out
}

// Shows 刷新次数
func (m *MockBoard) Shows() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shows
}

// Stats 统计
func (m *MockBoard) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Mock: true, Online: true, FramesOut: uint64(m.shows + len(m.drives))}
}

// SimulateCoins 后台随机模拟投币：拉低某个通道一段时间后释放
func (m *MockBoard) SimulateCoins(pins []int, every, hold time.Duration, rng *rand.Rand) {
	if len(pins) == 0 || every <= 0 {
		return
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
			}

			pin := pins[rng.Intn(len(pins))]
			m.SetAnalog(pin, 100)
			m.logger.Debug("模拟投币", zap.Int("pin", pin))

			select {
			case <-m.stopCh:
				m.SetAnalog(pin, IdleAnalog)
				return
			case <-time.After(hold):
			}
			m.SetAnalog(pin, IdleAnalog)
		}
	}()
}

// Close 停止模拟
func (m *MockBoard) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
	return nil
}
