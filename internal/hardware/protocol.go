package hardware

import (
	"encoding/binary"
	"fmt"

	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/errors"
)

// 帧定义
const (
	FrameHeader byte   = 0xAA
	FrameTail   byte   = 0x55
	MinFrameLen uint16 = 9 // 帧头(1) + 长度(2) + 命令(1) + 序列号(2) + CRC(2) + 帧尾(1)
	MaxFrameLen uint16 = 4096
)

// 命令码定义
const (
	// 主机→板卡
	CmdMotorDrive  byte = 0x04 // 电机方向与速度
	CmdPixelFrame  byte = 0x05 // 整帧像素
	CmdStatusQuery byte = 0x21 // 状态查询

	// 板卡→主机
	EventButtonReport byte = 0x13 // 按键电平
	EventAnalogReport byte = 0x14 // 模拟量采样
	EventStatusReport byte = 0x22 // 状态上报
	EventFaultReport  byte = 0x23 // 故障上报

	// 系统指令
	CmdHeartbeat byte = 0x31 // 心跳包
	CmdACK       byte = 0x80 // ACK确认
	CmdNACK      byte = 0x81 // NACK拒绝
)

// 电机输出位
const (
	MotorForwardBit  byte = 0x01
	MotorBackwardBit byte = 0x02
)

// CommandName 命令码名称（日志用）
func CommandName(cmd byte) string {
	switch cmd {
	case CmdMotorDrive:
		return "motor_drive"
	case CmdPixelFrame:
		return "pixel_frame"
	case CmdStatusQuery:
		return "status_query"
	case EventButtonReport:
		return "button_report"
	case EventAnalogReport:
		return "analog_report"
	case EventStatusReport:
		return "status_report"
	case EventFaultReport:
		return "fault_report"
	case CmdHeartbeat:
		return "heartbeat"
	case CmdACK:
		return "ack"
	case CmdNACK:
		return "nack"
	default:
		return fmt.Sprintf("0x%02X", cmd)
	}
}

// Frame 数据帧结构
type Frame struct {
	Header   byte   // 帧头
	Length   uint16 // 整帧长度
	Command  byte   // 命令码
	Sequence uint16 // 序列号
	Data     []byte // 数据
	CRC16    uint16 // CRC校验
	Tail     byte   // 帧尾
}

// NewFrame 创建新的数据帧
func NewFrame(cmd byte, seq uint16, data []byte) *Frame {
	f := &Frame{
		Header:   FrameHeader,
		Command:  cmd,
		Sequence: seq,
		Data:     data,
		Tail:     FrameTail,
	}
	f.Length = MinFrameLen + uint16(len(data))
	f.CRC16 = f.CalculateCRC()
	return f
}

// ToBytes 将帧转换为字节数组（多字节字段大端序）
func (f *Frame) ToBytes() []byte {
	buf := make([]byte, f.Length)
	buf[0] = f.Header
	binary.BigEndian.PutUint16(buf[1:], f.Length)
	buf[3] = f.Command
	binary.BigEndian.PutUint16(buf[4:], f.Sequence)
	idx := 6 + copy(buf[6:], f.Data)
	binary.BigEndian.PutUint16(buf[idx:], f.CRC16)
	buf[idx+2] = f.Tail
	return buf
}

// FromBytes 从字节数组解析帧
func (f *Frame) FromBytes(data []byte) error {
	if len(data) < int(MinFrameLen) {
		return errors.Newf(errors.ErrFrameCorrupted, "frame too short: %d < %d", len(data), MinFrameLen)
	}
	if data[0] != FrameHeader {
		return errors.Newf(errors.ErrFrameCorrupted, "invalid frame header: 0x%02X", data[0])
	}

	f.Header = data[0]
	f.Length = binary.BigEndian.Uint16(data[1:3])
	if f.Length < MinFrameLen || f.Length > MaxFrameLen {
		return errors.Newf(errors.ErrFrameCorrupted, "invalid frame length: %d", f.Length)
	}
	if len(data) < int(f.Length) {
		return errors.Newf(errors.ErrFrameCorrupted, "incomplete frame: %d < %d", len(data), f.Length)
	}
	if data[f.Length-1] != FrameTail {
		return errors.Newf(errors.ErrFrameCorrupted, "invalid frame tail: 0x%02X", data[f.Length-1])
	}

	f.Command = data[3]
	f.Sequence = binary.BigEndian.Uint16(data[4:6])
	f.Data = nil
	if dataLen := f.Length - MinFrameLen; dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[6:6+dataLen])
	}
	crcIdx := f.Length - 3
	f.CRC16 = binary.BigEndian.Uint16(data[crcIdx : crcIdx+2])
	f.Tail = data[f.Length-1]

	if calc := f.CalculateCRC(); calc != f.CRC16 {
		return errors.Newf(errors.ErrFrameCorrupted, "CRC mismatch: calc=0x%04X, recv=0x%04X", calc, f.CRC16)
	}
	return nil
}

// CalculateCRC 计算从命令码到数据的CRC16
func (f *Frame) CalculateCRC() uint16 {
	crc := crc16Update(0, []byte{f.Command, byte(f.Sequence >> 8), byte(f.Sequence)})
	return crc16Update(crc, f.Data)
}

// CRC16XMODEM CRC16-XMODEM算法
func CRC16XMODEM(data []byte) uint16 {
	return crc16Update(0, data)
}

func crc16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// FrameDecoder 从字节流中切分帧，跳过噪声和损坏帧
type FrameDecoder struct {
	buf     []byte
	dropped int
}

// Feed 追加数据并回调每个完整帧，返回本次丢弃的损坏帧数
func (d *FrameDecoder) Feed(p []byte, handle func(*Frame)) int {
	d.buf = append(d.buf, p...)
	dropped := 0

	for len(d.buf) >= int(MinFrameLen) {
		// 查找帧头
		idx := -1
		for i, b := range d.buf {
			if b == FrameHeader {
				idx = i
				break
			}
		}
		if idx < 0 {
			d.buf = d.buf[:0]
			break
		}
		if idx > 0 {
			d.buf = d.buf[idx:]
		}
		if len(d.buf) < 3 {
			break
		}

		frameLen := binary.BigEndian.Uint16(d.buf[1:3])
		if frameLen < MinFrameLen || frameLen > MaxFrameLen {
			d.buf = d.buf[1:]
			dropped++
			continue
		}
		if len(d.buf) < int(frameLen) {
			break
		}

		frame := &Frame{}
		if err := frame.FromBytes(d.buf[:frameLen]); err != nil {
			d.buf = d.buf[1:]
			dropped++
			continue
		}
		handle(frame)
		d.buf = d.buf[frameLen:]
	}

	// 压缩缓冲区，避免底层数组无限增长
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	d.dropped += dropped
	return dropped
}

// Dropped 累计丢弃的损坏帧数
func (d *FrameDecoder) Dropped() int {
	return d.dropped
}

// Buffered 尚未组成完整帧的字节数
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// EncodeMotorDrive 电机输出负载：[方向位][速度]
func EncodeMotorDrive(forward, backward bool, speed uint8) []byte {
	var bits byte
	if forward {
		bits |= MotorForwardBit
	}
	if backward {
		bits |= MotorBackwardBit
	}
	return []byte{bits, speed}
}

// DecodeMotorDrive 解析电机输出负载
func DecodeMotorDrive(data []byte) (forward, backward bool, speed uint8, err error) {
	if len(data) < 2 {
		return false, false, 0, errors.Newf(errors.ErrInvalidResponse, "motor payload too short: %d", len(data))
	}
	return data[0]&MotorForwardBit != 0, data[0]&MotorBackwardBit != 0, data[1], nil
}

// EncodePixels 像素负载：按物理顺序的RGB三元组
func EncodePixels(pixels []display.Color) []byte {
	buf := make([]byte, 0, len(pixels)*3)
	for _, c := range pixels {
		buf = append(buf, c.R, c.G, c.B)
	}
	return buf
}

// DecodePixels 解析像素负载
func DecodePixels(data []byte) ([]display.Color, error) {
	if len(data)%3 != 0 {
		return nil, errors.Newf(errors.ErrInvalidResponse, "pixel payload not RGB aligned: %d", len(data))
	}
	pixels := make([]display.Color, len(data)/3)
	for i := range pixels {
		pixels[i] = display.Color{R: data[i*3], G: data[i*3+1], B: data[i*3+2]}
	}
	return pixels, nil
}

// AnalogSample 单通道采样
type AnalogSample struct {
	Pin   byte
	Value uint16
}

// EncodeAnalogReport 模拟量负载：[数量][引脚, 值(2字节)]...
func EncodeAnalogReport(samples []AnalogSample) []byte {
	buf := make([]byte, 1, 1+len(samples)*3)
	buf[0] = byte(len(samples))
	for _, s := range samples {
		buf = append(buf, s.Pin, byte(s.Value>>8), byte(s.Value))
	}
	return buf
}

// DecodeAnalogReport 解析模拟量负载
func DecodeAnalogReport(data []byte) ([]AnalogSample, error) {
	if len(data) < 1 {
		return nil, errors.New(errors.ErrInvalidResponse, "empty analog report")
	}
	n := int(data[0])
	if len(data) < 1+n*3 {
		return nil, errors.Newf(errors.ErrInvalidResponse, "analog report truncated: want %d samples", n)
	}
	samples := make([]AnalogSample, n)
	for i := range samples {
		off := 1 + i*3
		samples[i] = AnalogSample{Pin: data[off], Value: binary.BigEndian.Uint16(data[off+1:])}
	}
	return samples, nil
}

// EncodeButtonReport 按键负载：2字节位图，第i位为引脚i按下
func EncodeButtonReport(mask uint16) []byte {
	return []byte{byte(mask >> 8), byte(mask)}
}

// DecodeButtonReport 解析按键负载
func DecodeButtonReport(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, errors.Newf(errors.ErrInvalidResponse, "button report too short: %d", len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

// FaultEvent 故障事件
type FaultEvent struct {
	FaultCode byte
	Level     byte
	ExtraInfo []byte
}

// DecodeFault 解析故障负载
func DecodeFault(data []byte) (*FaultEvent, error) {
	if len(data) < 2 {
		return nil, errors.Newf(errors.ErrInvalidResponse, "fault report too short: %d", len(data))
	}
	return &FaultEvent{FaultCode: data[0], Level: data[1], ExtraInfo: data[2:]}, nil
}
