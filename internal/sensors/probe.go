package sensors

import (
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// HostProbe 真实主机探测
type HostProbe struct {
	Timeout  time.Duration
	LookPath func(file string) (string, error)
	log      *zap.Logger
}

func NewHostProbe(log *zap.Logger) *HostProbe {
	if log == nil {
		log = zap.NewNop()
	}
	return &HostProbe{Timeout: 5 * time.Second, LookPath: exec.LookPath, log: log}
}

// ToolAvailable 工具是否在 PATH 中
func (p *HostProbe) ToolAvailable(tool string) bool {
	_, err := p.LookPath(tool)
	return err == nil
}

// Mounted 路径是否为某个分区的挂载点
func (p *HostProbe) Mounted(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		p.log.Warn("list partitions failed", zap.Error(err))
		return false
	}
	return mountedIn(parts, path)
}

func mountedIn(parts []disk.PartitionStat, path string) bool {
	want := filepath.Clean(path)
	for _, part := range parts {
		if filepath.Clean(part.Mountpoint) == want {
			return true
		}
	}
	return false
}
