package sensor

import (
	"time"

	"github.com/wfunc/coin-bank/internal/clock"
)

// Button 按键
type Button int

const (
	ButtonNone Button = iota
	ButtonAdd
	ButtonSubtract
	ButtonMotor
)

// String 按键名称
func (b Button) String() string {
	switch b {
	case ButtonAdd:
		return "add"
	case ButtonSubtract:
		return "subtract"
	case ButtonMotor:
		return "motor"
	default:
		return "none"
	}
}

type buttonInput struct {
	button Button
	pin    int
	edge   Edge
}

// Buttons 三个手动按键，去抖策略与投币通道相同
type Buttons struct {
	reader   DigitalReader
	inputs   []*buttonInput
	debounce uint32
}

// ButtonPins 按键引脚
type ButtonPins struct {
	Add      int
	Subtract int
	Motor    int
}

// NewButtons 创建按键检测器
func NewButtons(reader DigitalReader, pins ButtonPins, debounce time.Duration) *Buttons {
	return &Buttons{
		reader: reader,
		inputs: []*buttonInput{
			{button: ButtonAdd, pin: pins.Add},
			{button: ButtonSubtract, pin: pins.Subtract},
			{button: ButtonMotor, pin: pins.Motor},
		},
		debounce: clock.ToMillis(debounce),
	}
}

// Poll 返回本次tick按下的按键（最多一个）
func (b *Buttons) Poll(now clock.Millis) Button {
	for _, in := range b.inputs {
		if in.edge.Update(b.reader.ReadDigital(in.pin), now, b.debounce) {
			return in.button
		}
	}
	return ButtonNone
}

// SetDebounce 调整按键去抖间隔
func (b *Buttons) SetDebounce(debounce time.Duration) {
	b.debounce = clock.ToMillis(debounce)
}
