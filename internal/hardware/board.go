package hardware

import (
	"time"

	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/logger"
	"github.com/wfunc/coin-bank/internal/motor"
	"github.com/wfunc/coin-bank/internal/sensor"
	"go.uber.org/zap"
)

// MaxPins 支持的引脚数量
const MaxPins = 16

// IdleAnalog 未遮挡时的模拟量读数
const IdleAnalog uint16 = 1023

// Board 主循环所需的全部硬件能力
type Board interface {
	sensor.AnalogReader
	sensor.DigitalReader
	motor.Driver
	display.Sink
	Stats() Stats
	Close() error
}

// Stats 板卡统计
type Stats struct {
	Mock           bool   `json:"mock"`
	Online         bool   `json:"online"`
	FramesIn       uint64 `json:"frames_in"`
	FramesOut      uint64 `json:"frames_out"`
	FramesDropped  uint64 `json:"frames_dropped"`
	FramesReplaced uint64 `json:"frames_replaced"` // 未发出即被新帧覆盖的像素帧
	WriteErrors    uint64 `json:"write_errors"`
	Nacks          uint64 `json:"nacks"`
	Faults         uint64 `json:"faults"`
}

// Open 按配置创建板卡：模拟模式返回MockBoard，否则打开串口并启动Bridge。
// onFault在Bridge启动前设置，模拟板卡不会上报故障。
func Open(cfg config.SerialConfig, pixels int, coinPins []int, onFault func(*FaultEvent)) (Board, error) {
	log := logger.WithModule("hardware")

	if cfg.MockMode {
		board := NewMockBoard(pixels)
		if cfg.SimulateCoins {
			board.SimulateCoins(coinPins, 3*time.Second, 50*time.Millisecond, nil)
		}
		log.Info("使用模拟板卡", zap.Bool("simulate_coins", cfg.SimulateCoins))
		return board, nil
	}

	port, err := OpenSerial(cfg)
	if err != nil {
		return nil, err
	}
	bridge := NewBridge(port, BridgeOptions{
		Pixels:            pixels,
		QueueSize:         cfg.QueueSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnFault:           onFault,
	}, log)
	bridge.Start()
	log.Info("串口连接成功", zap.String("port", cfg.Port), zap.Int("baud_rate", cfg.BaudRate))
	return bridge, nil
}
