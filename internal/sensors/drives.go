package sensors

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// DrivePrefix 外接磁盘指标名前缀
const DrivePrefix = "disk_use_"

// DiskUsageFunc 读取挂载点使用率（百分比）
type DiskUsageFunc func(ctx context.Context, path string) (float64, error)

// DiscoverDrives 为每个已挂载的外接磁盘注册 disk_use_<name>，未挂载的告警后跳过
// 按名称排序，保证注册顺序稳定
func DiscoverDrives(reg *Registry, drives map[string]string, probe Probe, usage DiskUsageFunc, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	names := make([]string, 0, len(drives))
	for name := range drives {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mount := filepath.Clean(drives[name])
		if !probe.Mounted(mount) {
			log.Warn("drive is not mounted to host, check settings or host mount configuration",
				zap.String("drive", name), zap.String("path", mount))
			continue
		}
		if err := reg.Register(DriveDescriptor(name, mount, usage)); err != nil {
			return fmt.Errorf("discover drive %s: %w", name, err)
		}
		log.Info("external drive registered", zap.String("drive", name), zap.String("path", mount))
	}
	return nil
}

// DriveDescriptor 外接磁盘指标
func DriveDescriptor(name, mount string, usage DiskUsageFunc) Descriptor {
	return Descriptor{
		Name:        DrivePrefix + strings.ToLower(name),
		DisplayName: "Disk Use " + displayDriveName(name),
		Unit:        "%",
		Icon:        "harddisk",
		Entity:      EntitySensor,
		MountPath:   mount,
		Read: func(ctx context.Context) (string, error) {
			pct, err := usage(ctx, mount)
			if err != nil {
				return "", err
			}
			return formatFloat(pct, 1), nil
		},
	}
}

// 配置键会被转为小写，显示名恢复首字母大写
func displayDriveName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
