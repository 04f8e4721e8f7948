package sensors

import (
	"go.uber.org/zap"
)

// Probe 运行时探测：外部工具是否安装、磁盘是否挂载
type Probe interface {
	ToolAvailable(tool string) bool
	Mounted(path string) bool
}

// Flags 传感器开关（config.SensorsConfig 实现）
type Flags interface {
	Enabled(name string) bool
}

// Select 根据配置与探测结果过滤出 ActiveSet
// 1. 配置关闭的跳过
// 2. 依赖工具缺失的强制关闭（同一工具只告警一次）
// 3. 外接磁盘未挂载的强制关闭
func Select(reg *Registry, flags Flags, probe Probe, log *zap.Logger) ActiveSet {
	if log == nil {
		log = zap.NewNop()
	}
	tools := map[string]bool{}
	var active ActiveSet

	for _, d := range reg.All() {
		if !flags.Enabled(d.Name) {
			log.Debug("sensor disabled by settings", zap.String("sensor", d.Name))
			continue
		}
		if d.RequiresTool() {
			avail, checked := tools[d.Tool]
			if !checked {
				avail = probe.ToolAvailable(d.Tool)
				tools[d.Tool] = avail
				if !avail {
					log.Warn("required tool not found, dependent sensors disabled", zap.String("tool", d.Tool))
				}
			}
			if !avail {
				log.Info("sensor force-disabled", zap.String("sensor", d.Name), zap.String("tool", d.Tool))
				continue
			}
		}
		if d.IsDrive() && !probe.Mounted(d.MountPath) {
			log.Warn("drive no longer mounted, sensor disabled", zap.String("sensor", d.Name), zap.String("path", d.MountPath))
			continue
		}
		active = append(active, d)
	}

	log.Info("active sensors selected", zap.Int("count", len(active)), zap.Strings("sensors", active.Names()))
	return active
}
