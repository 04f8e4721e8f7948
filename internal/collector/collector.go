package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/pkg/metrics"
)

// DefaultTimeout 单个传感器读取超时
const DefaultTimeout = 10 * time.Second

// Collector 依次调用 ActiveSet 中的 provider，组装一个 Snapshot
// 单个 provider 的失败（错误、超时、panic、非法 UTF-8）只影响它自己
type Collector struct {
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New 创建采集器，m 为空时不记录指标
func New(timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{timeout: timeout, log: log, metrics: m}
}

// Collect 采集一次
func (c *Collector) Collect(ctx context.Context, active sensors.ActiveSet) *Snapshot {
	snap := NewSnapshot()
	for _, d := range active {
		if ctx.Err() != nil {
			c.log.Debug("collect cancelled", zap.Int("collected", snap.Len()))
			break
		}
		start := time.Now()
		value, err := c.read(ctx, d)
		if c.metrics != nil {
			c.metrics.ProviderDuration.WithLabelValues(d.Name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			perr := &sensors.ProviderError{Metric: d.Name, Err: err}
			c.log.Warn("sensor read failed, metric omitted", zap.String("sensor", d.Name), zap.Error(perr))
			if c.metrics != nil {
				c.metrics.ProviderErrors.WithLabelValues(d.Name).Inc()
			}
			continue
		}
		snap.Set(d.Name, value)
		c.observe(d.Name, value)
	}
	return snap
}

// observe 数值型读数同步到 sensor_value 指标，文本类（hostname 等）跳过
func (c *Collector) observe(name, value string) {
	if c.metrics == nil {
		return
	}
	var v float64
	switch value {
	case sensors.FormatBool(true):
		v = 1
	case sensors.FormatBool(false):
		v = 0
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return
		}
		v = f
	}
	c.metrics.SensorValues.WithLabelValues(name).Set(v)
}

type result struct {
	value string
	err   error
}

func (c *Collector) read(parent context.Context, d sensors.Descriptor) (string, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		v, err := d.Read(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if !utf8.ValidString(r.value) {
			return "", errors.New("provider returned invalid UTF-8")
		}
		return r.value, nil
	case <-ctx.Done():
		return "", fmt.Errorf("provider timed out after %s: %w", c.timeout, ctx.Err())
	}
}
