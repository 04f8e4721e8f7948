package agent

import (
	"github.com/jonboulle/clockwork"

	"github.com/system-sensors/internal/broker"
	"github.com/system-sensors/internal/sensors"
)

type options struct {
	dialer   broker.Dialer
	clock    clockwork.Clock
	probe    sensors.Probe
	exec     sensors.CommandExecutor
	catalog  []sensors.Descriptor
	usage    sensors.DiskUsageFunc
	hostProc bool
}

// Option 替换默认依赖（测试注入假 broker、假时钟等）
type Option func(*options)

func WithDialer(d broker.Dialer) Option { return func(o *options) { o.dialer = d } }

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

func WithProbe(p sensors.Probe) Option { return func(o *options) { o.probe = p } }

func WithExecutor(e sensors.CommandExecutor) Option { return func(o *options) { o.exec = e } }

// WithCatalog 替换内置指标目录
func WithCatalog(ds []sensors.Descriptor) Option { return func(o *options) { o.catalog = ds } }

// WithDiskUsage 替换外接磁盘使用率读取
func WithDiskUsage(f sensors.DiskUsageFunc) Option { return func(o *options) { o.usage = f } }

// WithProcessMetrics 同时导出进程指标
func WithProcessMetrics(on bool) Option { return func(o *options) { o.hostProc = on } }
