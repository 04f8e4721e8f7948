package sensors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// get_throttled 位定义
type throttleFlag struct {
	name    string
	display string
	bit     uint
}

var throttleFlags = []throttleFlag{
	{name: "under_voltage", display: "Under Voltage Detected", bit: 0},
	{name: "freq_capped", display: "Frequency Capped", bit: 1},
	{name: "throttled", display: "Throttled", bit: 2},
	{name: "soft_temp_limit", display: "Soft Temperature Limit", bit: 3},
}

// 自启动以来发生过欠压
const underVoltageOccurredBit = 16

type piReader struct {
	exec CommandExecutor
}

func (p *piReader) throttled(ctx context.Context) (uint64, error) {
	out, err := p.exec.Execute(ctx, ToolVcgencmd, "get_throttled")
	if err != nil {
		return 0, err
	}
	return parseThrottled(out)
}

func (p *piReader) throttleBit(bit uint) Provider {
	return func(ctx context.Context) (string, error) {
		v, err := p.throttled(ctx)
		if err != nil {
			return "", err
		}
		return FormatBool(v&(1<<bit) != 0), nil
	}
}

func (p *piReader) powerStatus(ctx context.Context) (string, error) {
	v, err := p.throttled(ctx)
	if err != nil {
		return "", err
	}
	return FormatBool(v&(1|1<<underVoltageOccurredBit) != 0), nil
}

func (p *piReader) gpuTemperature(ctx context.Context) (string, error) {
	out, err := p.exec.Execute(ctx, ToolVcgencmd, "measure_temp")
	if err != nil {
		return "", err
	}
	return parseMeasureTemp(out)
}

// parseThrottled 解析 "throttled=0x50005"
func parseThrottled(out []byte) (uint64, error) {
	s := strings.TrimSpace(string(out))
	_, hex, ok := strings.Cut(s, "=")
	if !ok {
		return 0, fmt.Errorf("unexpected get_throttled output %q", s)
	}
	v, err := strconv.ParseUint(hex, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse get_throttled %q: %w", s, err)
	}
	return v, nil
}

// parseMeasureTemp 解析 "temp=48.3'C"
func parseMeasureTemp(out []byte) (string, error) {
	s := strings.TrimSpace(string(out))
	_, val, ok := strings.Cut(s, "=")
	if !ok {
		return "", fmt.Errorf("unexpected measure_temp output %q", s)
	}
	val = strings.TrimSuffix(val, "'C")
	t, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return "", fmt.Errorf("parse measure_temp %q: %w", s, err)
	}
	return formatFloat(t, 1), nil
}
