// Package hardware 连接负责引脚的下位机。
//
// 下位机通过帧协议上报传感器与按键电平，并接收电机输出和像素帧。
// Bridge 在后台收发，对主循环暴露的读取和写入都不阻塞。
package hardware

import (
	"io"
	"strings"

	"github.com/tarm/serial"
	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/errors"
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
}

// parseParity 解析校验位
func parseParity(s string) serial.Parity {
	switch strings.ToLower(s) {
	case "o", "odd":
		return serial.ParityOdd
	case "e", "even":
		return serial.ParityEven
	case "m", "mark":
		return serial.ParityMark
	case "s", "space":
		return serial.ParitySpace
	default:
		return serial.ParityNone
	}
}

// parseStopBits 解析停止位
func parseStopBits(n int) serial.StopBits {
	switch n {
	case 2:
		return serial.Stop2
	case 15:
		return serial.Stop1Half
	default:
		return serial.Stop1
	}
}

// OpenSerial 按配置打开串口
func OpenSerial(cfg config.SerialConfig) (SerialPort, error) {
	size := byte(cfg.DataBits)
	if size == 0 {
		size = 8
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        size,
		Parity:      parseParity(cfg.Parity),
		StopBits:    parseStopBits(cfg.StopBits),
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "打开串口 %s", cfg.Port)
	}
	return port, nil
}
