package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewProviderErrorsTotal 传感器读取失败次数
// 标签 sensor: 传感器名称（如 cpu_usage、disk_use_backup）
func (m *MetricFactory) NewProviderErrorsTotal() *prometheus.CounterVec {
	return m.counterVec("provider_errors_total", "Total failed sensor reads", "sensor")
}

// NewProviderDurationSeconds 传感器读取耗时分布
// 分桶：Prometheus 默认分桶，覆盖毫秒到秒级（cpu/net 采样约 1s）
func (m *MetricFactory) NewProviderDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "provider_duration_seconds",
		Help:      "Sensor read duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sensor"})
	m.reg.MustRegister(h)
	return h
}

// NewActiveSensors 本次运行启用的传感器数量
func (m *MetricFactory) NewActiveSensors() prometheus.Gauge {
	return m.gauge("active_sensors", "Number of sensors in the active set")
}

// NewTicksTotal 调度器 tick 次数，result: collected|skipped
func (m *MetricFactory) NewTicksTotal() *prometheus.CounterVec {
	return m.counterVec("scheduler_ticks_total", "Poll scheduler ticks by result", "result")
}

// NewSensorValue 最近一次采集到的数值型传感器读数（布尔值 True=1 / False=0）
func (m *MetricFactory) NewSensorValue() *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "sensor_value",
		Help:      "Last numeric value read from each sensor",
	}, []string{"sensor"})
	m.reg.MustRegister(g)
	return g
}
