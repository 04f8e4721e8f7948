package sensors

import (
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	ToolVcgencmd = "vcgencmd"
	ToolApt      = "apt-get"
	ToolIwgetid  = "iwgetid"
)

// Deps 内置指标的外部依赖
type Deps struct {
	Exec     CommandExecutor
	Clock    clockwork.Clock
	Location *time.Location

	// WirelessPath 无线信号统计文件，默认 /proc/net/wireless
	WirelessPath string
	// CPUFreqPath 当前 CPU 频率（kHz），cpu.Info 拿不到主频时使用
	CPUFreqPath string
	// SampleWindow cpu_usage、net_tx、net_rx 的采样窗口
	SampleWindow time.Duration
}

func (d *Deps) withDefaults() {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.WirelessPath == "" {
		d.WirelessPath = "/proc/net/wireless"
	}
	if d.CPUFreqPath == "" {
		d.CPUFreqPath = "/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq"
	}
	if d.SampleWindow <= 0 {
		d.SampleWindow = time.Second
	}
}

// Builtins 内置指标目录，顺序即 state 负载中的字段顺序
func Builtins(deps Deps) []Descriptor {
	deps.withDefaults()
	h := &hostReader{deps: deps}
	pi := &piReader{exec: deps.Exec}

	ds := []Descriptor{
		{Name: "temperature", DisplayName: "Temperature", Unit: "°C", Class: "temperature", Icon: "thermometer", Read: h.temperature},
		{Name: "clock_speed", DisplayName: "Clock Speed", Unit: "MHz", Icon: "speedometer", Read: h.clockSpeed},
		{Name: "disk_use", DisplayName: "Disk Use", Unit: "%", Icon: "micro-sd", Read: h.rootDiskUse},
		{Name: "memory_use", DisplayName: "Memory Use", Unit: "%", Icon: "memory", Read: h.memoryUse},
		{Name: "cpu_usage", DisplayName: "CPU Usage", Unit: "%", Icon: "chip", Read: h.cpuUsage},
		{Name: "load_1m", DisplayName: "Load 1m", Icon: "cpu-64-bit", Read: h.load(1)},
		{Name: "load_5m", DisplayName: "Load 5m", Icon: "cpu-64-bit", Read: h.load(5)},
		{Name: "load_15m", DisplayName: "Load 15m", Icon: "cpu-64-bit", Read: h.load(15)},
		{Name: "net_tx", DisplayName: "Network Upload", Unit: "Kbps", Icon: "server-network", Read: h.netRate(true)},
		{Name: "net_rx", DisplayName: "Network Download", Unit: "Kbps", Icon: "server-network", Read: h.netRate(false)},
		{Name: "swap_usage", DisplayName: "Swap Usage", Unit: "%", Icon: "harddisk", Read: h.swapUsage},
		{Name: "power_status", DisplayName: "Under Voltage", Class: "problem", Entity: EntityBinarySensor, Tool: ToolVcgencmd, Read: pi.powerStatus},
		{Name: "last_boot", DisplayName: "Last Boot", Class: "timestamp", Icon: "clock", Read: h.lastBoot},
		{Name: "hostname", DisplayName: "Hostname", Icon: "card-account-details", Read: h.hostname},
		{Name: "host_ip", DisplayName: "Host IP", Icon: "lan", Read: h.hostIP},
		{Name: "host_os", DisplayName: "Host OS", Icon: "linux", Read: h.hostOS},
		{Name: "host_arch", DisplayName: "Host Architecture", Icon: "chip", Read: h.hostArch},
		{Name: "last_message", DisplayName: "Last Message", Class: "timestamp", Icon: "clock-check", Read: h.lastMessage},
		{Name: "updates", DisplayName: "Updates", Icon: "cellphone-arrow-down", Tool: ToolApt, Read: h.updates},
		{Name: "wifi_strength", DisplayName: "Wifi Strength", Unit: "dBm", Class: "signal_strength", Icon: "wifi", Read: h.wifiStrength},
		{Name: "wifi_ssid", DisplayName: "Wifi SSID", Icon: "wifi", Tool: ToolIwgetid, Read: h.wifiSSID},
		{Name: "gpu_temperature", DisplayName: "GPU Temperature", Unit: "°C", Class: "temperature", Icon: "thermometer", Tool: ToolVcgencmd, Read: pi.gpuTemperature},
	}
	for _, t := range throttleFlags {
		ds = append(ds, Descriptor{
			Name:        t.name,
			DisplayName: t.display,
			Class:       "problem",
			Entity:      EntityBinarySensor,
			Tool:        ToolVcgencmd,
			Read:        pi.throttleBit(t.bit),
		})
	}
	for i := range ds {
		if ds[i].Entity == "" {
			ds[i].Entity = EntitySensor
		}
	}
	return ds
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
