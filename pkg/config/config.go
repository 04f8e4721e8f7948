package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// EnvPrefix 环境变量前缀（mqtt.password -> SYSTEM_SENSORS_MQTT_PASSWORD）
const EnvPrefix = "SYSTEM_SENSORS"

// Config 全局配置结构体（settings.yaml 顶层键）
type Config struct {
	MQTT           MQTTConfig      `yaml:"mqtt" mapstructure:"mqtt" comment:"MQTT broker 连接配置"`
	Timezone       string          `yaml:"timezone" mapstructure:"timezone" validate:"required" comment:"时间戳使用的时区（IANA）"`
	DeviceName     string          `yaml:"devicename" mapstructure:"devicename" validate:"required" comment:"设备显示名称"`
	ClientID       string          `yaml:"client_id" mapstructure:"client_id" validate:"required" comment:"MQTT client id"`
	UpdateInterval int             `yaml:"update_interval" mapstructure:"update_interval" validate:"gte=1,lte=86400" comment:"采集间隔（秒）" default:"60"`
	Sensors        SensorsConfig   `yaml:"sensors" mapstructure:"sensors" comment:"传感器开关与外接磁盘"`
	Retry          RetryConfig     `yaml:"retry" mapstructure:"retry" comment:"重连策略"`
	Collector      CollectorConfig `yaml:"collector" mapstructure:"collector" comment:"采集器配置"`
	Metrics        MetricsConfig   `yaml:"metrics" mapstructure:"metrics" comment:"Prometheus 自监控"`
	Log            ZapLogConfig    `yaml:"log" mapstructure:"log" comment:"日志配置"`

	// Warnings 加载过程中产生的非致命提示，由调用方在日志初始化后输出
	Warnings []string `yaml:"-" mapstructure:"-"`

	location *time.Location
}

// MQTTConfig broker 地址与凭据
type MQTTConfig struct {
	Hostname string `yaml:"hostname" mapstructure:"hostname" validate:"required" comment:"broker 主机名"`
	Port     int    `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535" comment:"broker 端口" default:"1883"`
	User     string `yaml:"user" mapstructure:"user" comment:"用户名（可选）"`
	Password string `yaml:"password" mapstructure:"password" validate:"required_with=User" comment:"设置 user 时必填"`
}

// SensorsConfig 传感器开关。未出现的传感器默认启用，显式写 null 视为关闭。
type SensorsConfig struct {
	ExternalDrives map[string]string      `yaml:"external_drives" mapstructure:"external_drives" comment:"外接磁盘 名称 -> 挂载路径"`
	Flags          map[string]interface{} `yaml:"-" mapstructure:",remain"`
}

// RetryConfig 连接失败后的重试间隔
type RetryConfig struct {
	RefusedDelay     time.Duration `yaml:"refused_delay" mapstructure:"refused_delay" validate:"gt=0" comment:"broker 拒绝连接后的等待" default:"120s"`
	UnreachableDelay time.Duration `yaml:"unreachable_delay" mapstructure:"unreachable_delay" validate:"gt=0" comment:"网络不可达后的等待" default:"600s"`
	MaxDelay         time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gte=0" comment:">0 时启用指数退避并以此封顶" default:"0"`
}

// CollectorConfig 采集器配置
type CollectorConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0" comment:"单个传感器读取超时" default:"10s"`
}

// MetricsConfig Prometheus 指标 HTTP 服务，Addr 为空时不启动
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port" comment:"监听地址（ip:port）"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error" comment:"日志级别" default:"info"`
	Format  string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console" comment:"控制台日志格式" default:"console"`
	Path    string `yaml:"path" mapstructure:"path" validate:"required" comment:"日志目录" default:"./logs"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size" validate:"gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxAge  int    `yaml:"max_age" mapstructure:"max_age" validate:"gte=0" comment:"日志保存天数" default:"7"`
}

// ConfigError 配置缺失或非法，进程在连接 broker 之前退出
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewDefaultConfig 创建默认配置（所有字段兜底）
func NewDefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Port: 1883,
		},
		UpdateInterval: 60,
		Sensors: SensorsConfig{
			ExternalDrives: map[string]string{},
			Flags:          map[string]interface{}{},
		},
		Retry: RetryConfig{
			RefusedDelay:     120 * time.Second,
			UnreachableDelay: 600 * time.Second,
		},
		Collector: CollectorConfig{
			Timeout: 10 * time.Second,
		},
		Log: ZapLogConfig{
			Level:   "info",
			Format:  "console",
			Path:    "./logs",
			MaxSize: 100,
			MaxAge:  7,
		},
	}
}

// Load 加载配置（优先级：Flags > ENV > settings.yaml > 默认值）
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	// 1. 默认值（同时让 AutomaticEnv 能识别这些键）
	setDefaults(v, cfg)

	// 2. 绑定 Cobra Flags
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("bind flags: %w", err)}
		}
	}

	// 3. 读取配置文件
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("read settings: %w", err)}
	}

	// 4. 环境变量覆盖
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 5. 解码（支持 time.Duration 与逗号分隔列表）
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("new decoder: %w", err)}
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("decode settings: %w", err)}
	}

	// AllSettings 会丢弃 null 值，显式写 null 的传感器需要从原始 map 中补回
	if cfg.Sensors.Flags == nil {
		cfg.Sensors.Flags = map[string]interface{}{}
	}
	if raw, ok := v.Get("sensors").(map[string]interface{}); ok {
		for name, val := range raw {
			if val == nil && name != "external_drives" {
				cfg.Sensors.Flags[name] = nil
			}
		}
	}

	if v.IsSet("power_integer_state") {
		cfg.Warnings = append(cfg.Warnings,
			"power_integer_state is deprecated, please remove this option: power state is now a binary_sensor")
	}

	// 6. 校验
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("validate settings: %w", err)}
	}
	return cfg, nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 	1，校验 MQTT
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	// 	2，校验时区
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q invalid: %w", c.Timezone, err)
	}
	c.location = loc
	if c.DeviceID() == "" {
		return errors.New("devicename must contain at least one non-space character")
	}
	// 	3，校验传感器与重试
	if err := c.Sensors.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// DeviceID 设备标识：去空格并小写，用于 topic 与 unique_id
func (c *Config) DeviceID() string {
	return strings.ToLower(strings.ReplaceAll(c.DeviceName, " ", ""))
}

// Interval 采集间隔
func (c *Config) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

// Location 时区（未校验时退回本地时区）
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// setDefaults 配置默认值
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mqtt.hostname", cfg.MQTT.Hostname)
	v.SetDefault("mqtt.port", cfg.MQTT.Port)
	v.SetDefault("mqtt.user", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("timezone", "")
	v.SetDefault("devicename", "")
	v.SetDefault("client_id", "")
	v.SetDefault("update_interval", cfg.UpdateInterval)
	v.SetDefault("retry.refused_delay", cfg.Retry.RefusedDelay)
	v.SetDefault("retry.unreachable_delay", cfg.Retry.UnreachableDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("collector.timeout", cfg.Collector.Timeout)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.path", cfg.Log.Path)
	v.SetDefault("log.max_size", cfg.Log.MaxSize)
	v.SetDefault("log.max_age", cfg.Log.MaxAge)
}
