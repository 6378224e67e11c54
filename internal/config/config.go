package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Sensor     SensorConfig     `mapstructure:"sensor"`
	Buttons    ButtonsConfig    `mapstructure:"buttons"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Display    DisplayConfig    `mapstructure:"display"`
	Animation  AnimationConfig  `mapstructure:"animation"`
	Motor      MotorConfig      `mapstructure:"motor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Controller ControllerConfig `mapstructure:"controller"`
	Log        LogConfig        `mapstructure:"log"`
	Security   SecurityConfig   `mapstructure:"security"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SerialConfig 串口配置（连接负责引脚的单片机）
type SerialConfig struct {
	MockMode          bool          `mapstructure:"mock_mode"` // 使用模拟板卡
	SimulateCoins     bool          `mapstructure:"simulate_coins"`
	Port              string        `mapstructure:"port"`
	BaudRate          int           `mapstructure:"baud_rate"`
	DataBits          int           `mapstructure:"data_bits"`
	StopBits          int           `mapstructure:"stop_bits"`
	Parity            string        `mapstructure:"parity"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	QueueSize         int           `mapstructure:"queue_size"`
}

// SensorConfig 投币传感器配置
type SensorConfig struct {
	Threshold uint16          `mapstructure:"threshold"`
	Debounce  time.Duration   `mapstructure:"debounce"`
	Channels  []ChannelConfig `mapstructure:"channels"`
}

// ChannelConfig 单个面额通道，按优先级顺序排列
type ChannelConfig struct {
	Name      string `mapstructure:"name"`
	Pin       int    `mapstructure:"pin"`
	Value     uint32 `mapstructure:"value"`
	Threshold uint16 `mapstructure:"threshold"` // 0表示使用全局阈值
}

// ButtonsConfig 按键配置
type ButtonsConfig struct {
	AddPin      int           `mapstructure:"add_pin"`
	SubtractPin int           `mapstructure:"subtract_pin"`
	MotorPin    int           `mapstructure:"motor_pin"`
	Debounce    time.Duration `mapstructure:"debounce"`
	AdjustStep  uint32        `mapstructure:"adjust_step"`
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	MilestoneInterval uint32 `mapstructure:"milestone_interval"`
	MinorPerMajor     uint32 `mapstructure:"minor_per_major"`
}

// DisplayConfig 点阵屏配置
type DisplayConfig struct {
	Width      int           `mapstructure:"width"`
	Height     int           `mapstructure:"height"`
	Color      string        `mapstructure:"color"`
	ErrorColor string        `mapstructure:"error_color"`
	ErrorHold  time.Duration `mapstructure:"error_hold"`
}

// AnimationConfig 庆祝动画配置
type AnimationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	StepInterval  time.Duration `mapstructure:"step_interval"`
	FlashInterval time.Duration `mapstructure:"flash_interval"`
	Bursts        int           `mapstructure:"bursts"`
	MaxRadius     int           `mapstructure:"max_radius"`
	FlashSteps    int           `mapstructure:"flash_steps"`
}

// MotorConfig 电机脉冲序列配置
type MotorConfig struct {
	OnDuration     time.Duration `mapstructure:"on_duration"`
	OffDuration    time.Duration `mapstructure:"off_duration"`
	ForwardPulses  int           `mapstructure:"forward_pulses"`
	BackwardPulses int           `mapstructure:"backward_pulses"`
	Sequences      int           `mapstructure:"sequences"`
}

// StorageConfig 掉电存储配置
type StorageConfig struct {
	Medium   string `mapstructure:"medium"` // memory / file / database
	Path     string `mapstructure:"path"`
	Name     string `mapstructure:"name"`
	Capacity int    `mapstructure:"capacity"`
}

// ControllerConfig 主循环配置
type ControllerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	QueueSize    int           `mapstructure:"queue_size"`
	JournalSize  int           `mapstructure:"journal_size"`

	// 启动时清理早于该时长的流水，0表示永久保留
	JournalRetention time.Duration `mapstructure:"journal_retention"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string            `mapstructure:"level"`
	Format      string            `mapstructure:"format"`
	Output      string            `mapstructure:"output"`
	DebugEvents bool              `mapstructure:"debug_events"` // 主循环事件日志开关
	File        LogFileConfig     `mapstructure:"file"`
	Modules     map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig 操作员令牌配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
	Issuer      string `mapstructure:"issuer"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("COIN_BANK")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		SetDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		var loaded *Config
		loaded, err = decode(v)
		if err != nil {
			return
		}
		cfg = loaded
	})

	return err
}

// Load 从指定viper实例解析并校验配置（不影响全局单例）
func Load(vp *viper.Viper) (*Config, error) {
	return decode(vp)
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	vp := viper.New()
	SetDefaults(vp)
	c, err := decode(vp)
	if err != nil {
		// 默认值必须始终合法
		panic(err)
	}
	return c
}

func decode(vp *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if len(c.Sensor.Channels) == 0 {
		c.Sensor.Channels = DefaultChannels()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultChannels 默认四个面额通道（优先级从高到低）
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: "50", Pin: 3, Value: 50},
		{Name: "10", Pin: 2, Value: 10},
		{Name: "5", Pin: 1, Value: 5},
		{Name: "1", Pin: 0, Value: 1},
	}
}

// SetDefaults 设置默认配置值
func SetDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	// 数据库默认配置
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/coin-bank.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// 串口默认配置
	v.SetDefault("serial.mock_mode", true)
	v.SetDefault("serial.simulate_coins", false)
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.read_timeout", "50ms")
	v.SetDefault("serial.heartbeat_interval", "1s")
	v.SetDefault("serial.queue_size", 16)

	// 传感器默认配置（0-1023，遮挡时读数下降）
	v.SetDefault("sensor.threshold", 640)
	v.SetDefault("sensor.debounce", "10ms")

	// 按键默认配置
	v.SetDefault("buttons.add_pin", 4)
	v.SetDefault("buttons.subtract_pin", 5)
	v.SetDefault("buttons.motor_pin", 6)
	v.SetDefault("buttons.debounce", "10ms")
	v.SetDefault("buttons.adjust_step", 100)

	// 账本默认配置
	v.SetDefault("ledger.milestone_interval", 1000)
	v.SetDefault("ledger.minor_per_major", 100)

	// 点阵屏默认配置
	v.SetDefault("display.width", 32)
	v.SetDefault("display.height", 8)
	v.SetDefault("display.color", "#00C850")
	v.SetDefault("display.error_color", "#FF0000")
	v.SetDefault("display.error_hold", "800ms")

	// 动画默认配置
	v.SetDefault("animation.enabled", true)
	v.SetDefault("animation.step_interval", "40ms")
	v.SetDefault("animation.flash_interval", "120ms")
	v.SetDefault("animation.bursts", 3)
	v.SetDefault("animation.max_radius", 7)
	v.SetDefault("animation.flash_steps", 6)

	// 电机默认配置
	v.SetDefault("motor.on_duration", "100ms")
	v.SetDefault("motor.off_duration", "100ms")
	v.SetDefault("motor.forward_pulses", 4)
	v.SetDefault("motor.backward_pulses", 1)
	v.SetDefault("motor.sequences", 2)

	// 存储默认配置
	v.SetDefault("storage.medium", "file")
	v.SetDefault("storage.path", "./data/eeprom.bin")
	v.SetDefault("storage.name", "coin-bank")
	v.SetDefault("storage.capacity", 64)

	// 主循环默认配置
	v.SetDefault("controller.tick_interval", "1ms")
	v.SetDefault("controller.queue_size", 16)
	v.SetDefault("controller.journal_size", 256)
	v.SetDefault("controller.journal_retention", "2160h")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.debug_events", true)
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "coin-bank.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)

	// 安全默认配置
	v.SetDefault("security.jwt.secret", "change-me")
	v.SetDefault("security.jwt.expire_hours", 24)
	v.SetDefault("security.jwt.issuer", "coin-bank")
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("点阵尺寸无效: %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Ledger.MilestoneInterval == 0 {
		return fmt.Errorf("里程碑间隔必须大于0")
	}
	if c.Ledger.MinorPerMajor == 0 || c.Ledger.MinorPerMajor > 100 {
		return fmt.Errorf("minor_per_major必须在1到100之间: %d", c.Ledger.MinorPerMajor)
	}
	if c.Motor.Sequences < 1 || c.Motor.ForwardPulses < 0 || c.Motor.BackwardPulses < 0 ||
		c.Motor.ForwardPulses+c.Motor.BackwardPulses < 1 {
		return fmt.Errorf("电机脉冲配置无效: forward=%d backward=%d sequences=%d",
			c.Motor.ForwardPulses, c.Motor.BackwardPulses, c.Motor.Sequences)
	}
	if c.Animation.Bursts < 1 || c.Animation.MaxRadius < 0 || c.Animation.FlashSteps < 0 {
		return fmt.Errorf("动画配置无效")
	}
	if c.Sensor.Threshold > 1023 {
		return fmt.Errorf("传感器阈值超出范围: %d", c.Sensor.Threshold)
	}
	for _, ch := range c.Sensor.Channels {
		if ch.Value == 0 {
			return fmt.Errorf("通道 %s 面额为0", ch.Name)
		}
	}
	switch c.Storage.Medium {
	case "memory", "file", "database":
	default:
		return fmt.Errorf("不支持的存储介质: %s", c.Storage.Medium)
	}
	if c.Controller.QueueSize <= 0 {
		return fmt.Errorf("命令队列长度必须大于0")
	}
	if c.Controller.JournalRetention < 0 {
		return fmt.Errorf("流水保留时长不能为负")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化，校验通过后回调
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg, err := decode(v)
		if err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	v.WatchConfig()
}

// ConfigFile 当前使用的配置文件
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
