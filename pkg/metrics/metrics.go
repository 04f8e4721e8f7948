package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics 自监控指标集合，启动时创建一次并注入各组件
type Metrics struct {
	ProviderErrors   *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ActiveSensors    prometheus.Gauge
	SensorValues     *prometheus.GaugeVec
	Ticks            *prometheus.CounterVec
	Publishes        *prometheus.CounterVec
	ConnectAttempts  *prometheus.CounterVec
	SessionState     prometheus.Gauge
	Announced        prometheus.Gauge
}

// New 通过工厂创建并注册全部指标
func New(f *MetricFactory) *Metrics {
	return &Metrics{
		ProviderErrors:   f.NewProviderErrorsTotal(),
		ProviderDuration: f.NewProviderDurationSeconds(),
		ActiveSensors:    f.NewActiveSensors(),
		SensorValues:     f.NewSensorValue(),
		Ticks:            f.NewTicksTotal(),
		Publishes:        f.NewPublishTotal(),
		ConnectAttempts:  f.NewConnectAttemptsTotal(),
		SessionState:     f.NewSessionState(),
		Announced:        f.NewAnnounced(),
	}
}

// NewRegistry 创建独立的 Prometheus 注册器（不注册 Go 运行时指标）并挂载全部指标
func NewRegistry(enableProcess bool) (*prometheus.Registry, *Metrics) {
	registry := prometheus.NewRegistry()
	if enableProcess {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	return registry, New(NewMetricFactory(NewPromRegistry(registry)))
}
