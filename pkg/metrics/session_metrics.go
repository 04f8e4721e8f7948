package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewPublishTotal 发布消息计数
// 标签 kind: state|discovery|availability，result: ok|error|dropped
func (m *MetricFactory) NewPublishTotal() *prometheus.CounterVec {
	return m.counterVec("publish_total", "Broker publishes by kind and result", "kind", "result")
}

// NewConnectAttemptsTotal 连接尝试计数，result: ok|refused|unreachable|auth
func (m *MetricFactory) NewConnectAttemptsTotal() *prometheus.CounterVec {
	return m.counterVec("connect_attempts_total", "Broker connect attempts by result", "result")
}

// NewSessionState 会话状态（0 disconnected,1 connecting,2 connected,3 disconnecting）
func (m *MetricFactory) NewSessionState() prometheus.Gauge {
	return m.gauge("session_state", "Broker session state")
}

// NewAnnounced 最近一次 discovery 是否完整发布（含 online）
func (m *MetricFactory) NewAnnounced() prometheus.Gauge {
	return m.gauge("announced", "Whether the last discovery run published the online marker")
}
