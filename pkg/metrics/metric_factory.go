package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace 所有自监控指标的前缀
const Namespace = "system_sensors"

// MetricFactory 指标工厂，用于统一创建指标（counter/gauge/histogram）。
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

func (m *MetricFactory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, labels)
	m.reg.MustRegister(c)
	return c
}

func (m *MetricFactory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	})
	m.reg.MustRegister(g)
	return g
}
