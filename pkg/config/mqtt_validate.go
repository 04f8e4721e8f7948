package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// Validate MQTT 配置校验
func (m *MQTTConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if strings.TrimSpace(m.Hostname) == "" {
		return errors.New("mqtt.hostname cannot be empty")
	}
	// 	主机名与端口组合必须是合法地址
	addr := net.JoinHostPort(m.Hostname, strconv.Itoa(m.Port))
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("mqtt address invalid, got %s: %w", addr, err)
	}
	return nil
}

// Addr broker 地址 host:port
func (m *MQTTConfig) Addr() string {
	return net.JoinHostPort(m.Hostname, strconv.Itoa(m.Port))
}

// Validate 传感器开关校验
// 开关只接受 bool / null / 可解析为 bool 的字符串（环境变量）
// 外接磁盘：名称非空，挂载路径必须是绝对路径，名称（小写后）不能重复
func (s *SensorsConfig) Validate() error {
	for name, raw := range s.Flags {
		if _, err := flagValue(raw); err != nil {
			return fmt.Errorf("sensors.%s: %w", name, err)
		}
	}

	seen := map[string]bool{}
	for name, mount := range s.ExternalDrives {
		if strings.TrimSpace(name) == "" {
			return errors.New("sensors.external_drives cannot contain an empty name")
		}
		if strings.TrimSpace(mount) == "" {
			return fmt.Errorf("sensors.external_drives.%s: mount path cannot be empty", name)
		}
		if !filepath.IsAbs(mount) {
			return fmt.Errorf("sensors.external_drives.%s: mount path %q must be absolute", name, mount)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("sensors.external_drives duplicated entry: %q", name)
		}
		seen[key] = true
	}
	return nil
}

// Enabled 传感器是否启用：未配置默认启用，null 为关闭
func (s *SensorsConfig) Enabled(name string) bool {
	raw, ok := s.Flags[name]
	if !ok {
		return true
	}
	on, err := flagValue(raw)
	if err != nil {
		return false
	}
	return on
}

func flagValue(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %T", raw)
	}
}

// Validate 重试策略校验
func (r *RetryConfig) Validate() error {
	if err := valid.Struct(r); err != nil {
		return err
	}
	if r.MaxDelay > 0 && r.MaxDelay < r.RefusedDelay {
		return fmt.Errorf("retry.max_delay (%s) must not be lower than retry.refused_delay (%s)", r.MaxDelay, r.RefusedDelay)
	}
	return nil
}
