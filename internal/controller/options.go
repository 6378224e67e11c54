package controller

import (
	"time"

	"github.com/wfunc/coin-bank/internal/animation"
	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/display"
	"github.com/wfunc/coin-bank/internal/motor"
	"github.com/wfunc/coin-bank/internal/sensor"
)

// ChannelOptions 投币通道
type ChannelOptions struct {
	Name      string
	Pin       int
	Value     uint32
	Threshold uint16
}

// Options 主循环参数，全部可在tick边界热更新
type Options struct {
	Channels          []ChannelOptions
	Threshold         uint16
	SensorDebounce    time.Duration
	Buttons           sensor.ButtonPins
	ButtonDebounce    time.Duration
	AdjustStep        uint32
	MilestoneInterval uint32
	Display           display.Options
	ErrorHold         time.Duration
	AnimationEnabled  bool
	Animation         animation.Options
	Motor             motor.Options
	QueueSize         int
	TickInterval      time.Duration
}

// DefaultOptions 32x8点阵、四种面额的默认参数
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// OptionsFromConfig 由配置生成主循环参数
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	color, err := display.ParseColor(cfg.Display.Color)
	if err != nil {
		return Options{}, err
	}
	errColor, err := display.ParseColor(cfg.Display.ErrorColor)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Threshold:      cfg.Sensor.Threshold,
		SensorDebounce: cfg.Sensor.Debounce,
		Buttons: sensor.ButtonPins{
			Add:      cfg.Buttons.AddPin,
			Subtract: cfg.Buttons.SubtractPin,
			Motor:    cfg.Buttons.MotorPin,
		},
		ButtonDebounce:    cfg.Buttons.Debounce,
		AdjustStep:        cfg.Buttons.AdjustStep,
		MilestoneInterval: cfg.Ledger.MilestoneInterval,
		Display: display.Options{
			Width:         cfg.Display.Width,
			Height:        cfg.Display.Height,
			Color:         color,
			ErrorColor:    errColor,
			MinorPerMajor: cfg.Ledger.MinorPerMajor,
		},
		ErrorHold:        cfg.Display.ErrorHold,
		AnimationEnabled: cfg.Animation.Enabled,
		Animation: animation.Options{
			StepInterval:  cfg.Animation.StepInterval,
			FlashInterval: cfg.Animation.FlashInterval,
			Bursts:        cfg.Animation.Bursts,
			MaxRadius:     cfg.Animation.MaxRadius,
			FlashSteps:    cfg.Animation.FlashSteps,
		},
		Motor: motor.Options{
			OnDuration:     cfg.Motor.OnDuration,
			OffDuration:    cfg.Motor.OffDuration,
			ForwardPulses:  cfg.Motor.ForwardPulses,
			BackwardPulses: cfg.Motor.BackwardPulses,
			Sequences:      cfg.Motor.Sequences,
		},
		QueueSize:    cfg.Controller.QueueSize,
		TickInterval: cfg.Controller.TickInterval,
	}
	for _, ch := range cfg.Sensor.Channels {
		opts.Channels = append(opts.Channels, ChannelOptions{
			Name:      ch.Name,
			Pin:       ch.Pin,
			Value:     ch.Value,
			Threshold: ch.Threshold,
		})
	}
	return opts, nil
}

// CoinPins 投币通道引脚
func (o Options) CoinPins() []int {
	pins := make([]int, 0, len(o.Channels))
	for _, ch := range o.Channels {
		pins = append(pins, ch.Pin)
	}
	return pins
}

func (o Options) channelThreshold(ch ChannelOptions) uint16 {
	if ch.Threshold != 0 {
		return ch.Threshold
	}
	if o.Threshold != 0 {
		return o.Threshold
	}
	return sensor.DefaultThreshold
}
