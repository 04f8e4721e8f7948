package sensors

import (
	"context"
	"fmt"
)

// Entity Home Assistant 实体类型
type Entity string

const (
	EntitySensor       Entity = "sensor"
	EntityBinarySensor Entity = "binary_sensor"
)

// Provider 读取一个指标的当前值，返回字符串形式
type Provider func(ctx context.Context) (string, error)

// Descriptor 指标描述（注册后不可变）
type Descriptor struct {
	Name        string // 唯一键，同时作为 JSON 字段名与 topic 片段
	DisplayName string
	Unit        string
	Class       string // device_class
	Icon        string // 不含 mdi: 前缀
	Entity      Entity
	Tool        string // 依赖的外部工具（如 vcgencmd），为空表示无依赖
	MountPath   string // 外接磁盘挂载点
	Read        Provider
}

// RequiresTool 是否依赖外部工具
func (d Descriptor) RequiresTool() bool {
	return d.Tool != ""
}

// IsDrive 是否为外接磁盘指标
func (d Descriptor) IsDrive() bool {
	return d.MountPath != ""
}

// ActiveSet 本次运行启用的指标，启动时构建一次
type ActiveSet []Descriptor

// Names 按顺序返回指标名
func (a ActiveSet) Names() []string {
	names := make([]string, 0, len(a))
	for _, d := range a {
		names = append(names, d.Name)
	}
	return names
}

// ProviderError 单个指标读取失败（错误、超时、panic 或非法值）
type ProviderError struct {
	Metric string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("sensor %s: %v", e.Metric, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// FormatBool 布尔值固定输出 "True"/"False"，与 discovery 的 payload_on/payload_off 对应
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
