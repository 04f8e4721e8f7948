package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/system-sensors/internal/broker"
	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/internal/topic"
	"github.com/system-sensors/pkg/metrics"
)

// Publisher 发布一条消息
type Publisher interface {
	Publish(ctx context.Context, msg broker.Message) error
}

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, msg broker.Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg broker.Message) error { return f(ctx, msg) }

type entry struct {
	metric  string
	topic   string
	payload []byte
}

// Announcer 发布每个启用指标的 discovery 描述，最后发布 online
type Announcer struct {
	topics  topic.Topics
	entries []entry
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New 预先生成全部描述，保证每次发布的内容完全一致
func New(t topic.Topics, displayName string, active sensors.ActiveSet, log *zap.Logger, m *metrics.Metrics) (*Announcer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Announcer{topics: t, log: log, metrics: m}
	for _, d := range active {
		payload, err := Build(t, displayName, d).Marshal()
		if err != nil {
			return nil, fmt.Errorf("build discovery for %s: %w", d.Name, err)
		}
		a.entries = append(a.entries, entry{
			metric:  d.Name,
			topic:   t.Discovery(string(d.Entity), d.Name),
			payload: payload,
		})
	}
	return a, nil
}

// Announce 发布全部描述（qos 1，保留）
// 单个描述失败只记录日志并继续；online 发布失败返回错误，表示本次未完成
func (a *Announcer) Announce(ctx context.Context, pub Publisher) error {
	a.log.Info("sending discovery config", zap.Int("sensors", len(a.entries)))

	failed := 0
	for _, e := range a.entries {
		err := pub.Publish(ctx, broker.Message{Topic: e.topic, Payload: e.payload, QoS: 1, Retain: true})
		a.count("discovery", err)
		if err != nil {
			failed++
			a.log.Error("discovery publish failed", zap.String("sensor", e.metric), zap.String("topic", e.topic), zap.Error(err))
		}
	}

	err := pub.Publish(ctx, broker.Message{Topic: a.topics.Availability(), Payload: []byte(topic.Online), QoS: 1, Retain: true})
	a.count("availability", err)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", topic.Online, a.topics.Availability(), err)
	}
	if failed > 0 {
		a.log.Warn("discovery finished with failures", zap.Int("failed", failed), zap.Int("total", len(a.entries)))
	}
	return nil
}

func (a *Announcer) count(kind string, err error) {
	if a.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.metrics.Publishes.WithLabelValues(kind, result).Inc()
}
