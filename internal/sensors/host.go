package sensors

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	stdnet "net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

type hostReader struct {
	deps Deps
}

// DiskUsage 挂载点使用率，外接磁盘与根分区共用
func DiskUsage(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func (h *hostReader) temperature(ctx context.Context) (string, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if len(temps) == 0 {
		if err == nil {
			err = errors.New("no temperature sensors found")
		}
		return "", err
	}
	// 优先 SoC / CPU 温度
	for _, key := range []string{"cpu_thermal", "coretemp", "k10temp", "cpu"} {
		for _, t := range temps {
			if strings.Contains(t.SensorKey, key) {
				return formatFloat(t.Temperature, 1), nil
			}
		}
	}
	return formatFloat(temps[0].Temperature, 1), nil
}

func (h *hostReader) clockSpeed(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err == nil && len(infos) > 0 && infos[0].Mhz > 0 {
		return strconv.Itoa(int(infos[0].Mhz)), nil
	}
	raw, ferr := os.ReadFile(h.deps.CPUFreqPath)
	if ferr != nil {
		if err != nil {
			return "", err
		}
		return "", ferr
	}
	khz, perr := strconv.Atoi(strings.TrimSpace(string(raw)))
	if perr != nil {
		return "", fmt.Errorf("parse %s: %w", h.deps.CPUFreqPath, perr)
	}
	return strconv.Itoa(khz / 1000), nil
}

func (h *hostReader) rootDiskUse(ctx context.Context) (string, error) {
	pct, err := DiskUsage(ctx, "/")
	if err != nil {
		return "", err
	}
	return formatFloat(pct, 1), nil
}

func (h *hostReader) memoryUse(ctx context.Context) (string, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return "", err
	}
	return formatFloat(vm.UsedPercent, 1), nil
}

func (h *hostReader) swapUsage(ctx context.Context) (string, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return "", err
	}
	return formatFloat(sw.UsedPercent, 1), nil
}

func (h *hostReader) cpuUsage(ctx context.Context) (string, error) {
	pcts, err := cpu.PercentWithContext(ctx, h.deps.SampleWindow, false)
	if err != nil {
		return "", err
	}
	if len(pcts) == 0 {
		return "", errors.New("no cpu samples")
	}
	return formatFloat(pcts[0], 1), nil
}

func (h *hostReader) load(minutes int) Provider {
	return func(ctx context.Context) (string, error) {
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return "", err
		}
		switch minutes {
		case 1:
			return formatFloat(avg.Load1, 2), nil
		case 5:
			return formatFloat(avg.Load5, 2), nil
		default:
			return formatFloat(avg.Load15, 2), nil
		}
	}
}

// netRate 在采样窗口内计算全部网卡合计速率（Kbps）
func (h *hostReader) netRate(tx bool) Provider {
	return func(ctx context.Context) (string, error) {
		first, err := totalBytes(ctx, tx)
		if err != nil {
			return "", err
		}
		start := h.deps.Clock.Now()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-h.deps.Clock.After(h.deps.SampleWindow):
		}
		second, err := totalBytes(ctx, tx)
		if err != nil {
			return "", err
		}
		return formatFloat(rateKbps(first, second, h.deps.Clock.Since(start)), 2), nil
	}
}

func totalBytes(ctx context.Context, tx bool) (uint64, error) {
	counters, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(counters) == 0 {
		return 0, errors.New("no network counters")
	}
	if tx {
		return counters[0].BytesSent, nil
	}
	return counters[0].BytesRecv, nil
}

func rateKbps(first, second uint64, elapsed time.Duration) float64 {
	if second < first || elapsed <= 0 {
		return 0
	}
	return float64(second-first) * 8 / 1000 / elapsed.Seconds()
}

func (h *hostReader) lastBoot(ctx context.Context) (string, error) {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return "", err
	}
	return time.Unix(int64(boot), 0).In(h.deps.Location).Format(time.RFC3339), nil
}

func (h *hostReader) lastMessage(_ context.Context) (string, error) {
	return h.deps.Clock.Now().In(h.deps.Location).Format(time.RFC3339), nil
}

func (h *hostReader) hostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	return info.Hostname, nil
}

func (h *hostReader) hostOS(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(info.Platform + " " + info.PlatformVersion), nil
}

func (h *hostReader) hostArch(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	return info.KernelArch, nil
}

// hostIP 第一个已启用、非回环网卡的 IPv4 地址
func (h *hostReader) hostIP(ctx context.Context) (string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := stdnet.ParseCIDR(addr.Addr)
			if err != nil {
				ip = stdnet.ParseIP(addr.Addr)
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String(), nil
			}
		}
	}
	return "", errors.New("no ipv4 address found")
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// updates 模拟升级并统计待安装包数量
func (h *hostReader) updates(ctx context.Context) (string, error) {
	out, err := h.deps.Exec.Execute(ctx, ToolApt, "-s", "-o", "Debug::NoLocking=true", "upgrade")
	if err != nil {
		return "", err
	}
	return strconv.Itoa(countUpgrades(out)), nil
}

func countUpgrades(out []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "Inst ") {
			n++
		}
	}
	return n
}

func (h *hostReader) wifiSSID(ctx context.Context) (string, error) {
	out, err := h.deps.Exec.Execute(ctx, ToolIwgetid, "-r")
	if err != nil {
		return "", err
	}
	ssid := strings.TrimSpace(string(out))
	if ssid == "" {
		return "", errors.New("not connected to a wireless network")
	}
	return ssid, nil
}

func (h *hostReader) wifiStrength(_ context.Context) (string, error) {
	raw, err := os.ReadFile(h.deps.WirelessPath)
	if err != nil {
		return "", err
	}
	return parseWireless(raw)
}

// parseWireless 解析 /proc/net/wireless 第一块无线网卡的信号强度（dBm）
//
//	Inter-| sta-|   Quality        |   Discarded packets
//	 face | tus | link level noise |  nwid  crypt   frag
//	 wlan0: 0000   70.  -40.  -256        0      0      0
func parseWireless(raw []byte) (string, error) {
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	for _, line := range lines[min(2, len(lines)):] {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return "", fmt.Errorf("parse wireless level %q: %w", fields[3], err)
		}
		return strconv.Itoa(int(level)), nil
	}
	return "", errors.New("no wireless interface found")
}
