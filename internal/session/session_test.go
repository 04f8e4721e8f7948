package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/system-sensors/internal/broker"
	"github.com/system-sensors/internal/broker/brokertest"
	"github.com/system-sensors/internal/discovery"
	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/internal/topic"
	"github.com/system-sensors/pkg/metrics"
)

const (
	cpuDiscovery = "homeassistant/sensor/mydevice/cpu_usage/config"
	availability = "system-sensors/mydevice/availability"
)

type harness struct {
	dialer  *brokertest.Dialer
	clock   *clockwork.FakeClock
	metrics *metrics.Metrics
	m       *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	read := func(context.Context) (string, error) { return "1", nil }
	active := sensors.ActiveSet{
		{Name: "cpu_usage", DisplayName: "CPU Usage", Unit: "%", Entity: sensors.EntitySensor, Read: read},
		{Name: "temperature", DisplayName: "Temperature", Entity: sensors.EntitySensor, Read: read},
	}
	tp := topic.New("mydevice")
	log := zaptest.NewLogger(t)
	_, mt := metrics.NewRegistry(false)
	ann, err := discovery.New(tp, "My Device", active, log, mt)
	require.NoError(t, err)

	h := &harness{dialer: brokertest.NewDialer(), clock: clockwork.NewFakeClock(), metrics: mt}
	h.m = New(h.dialer, broker.ConnectOptions{Addr: "broker:1883", ClientID: "sensors-1"}, DefaultRetryPolicy(), tp, ann,
		WithClock(h.clock), WithLogger(log), WithMetrics(mt))
	t.Cleanup(func() { _ = h.m.Close(context.Background()) })
	return h
}

func (h *harness) connectAsync(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.m.Connect(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Connect")
		return nil
	}
}

func TestConnectSequence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Connect(context.Background()))

	assert.True(t, h.m.IsConnected())
	assert.True(t, h.m.Announced())

	opts := h.dialer.Options()
	require.Len(t, opts, 1)
	require.NotNil(t, opts[0].Will)
	assert.Equal(t, availability, opts[0].Will.Topic)
	assert.Equal(t, "offline", string(opts[0].Will.Payload))
	assert.True(t, opts[0].Will.Retain)

	events := h.dialer.Events()
	require.Len(t, events, 5)
	assert.Equal(t, brokertest.EventConnect, events[0].Kind)
	assert.Equal(t, brokertest.EventSubscribe, events[1].Kind)
	assert.Equal(t, topic.Coordinator, events[1].Message.Topic)
	assert.Equal(t, cpuDiscovery, events[2].Message.Topic)
	assert.Equal(t, "homeassistant/sensor/mydevice/temperature/config", events[3].Message.Topic)
	assert.Equal(t, availability, events[4].Message.Topic)
	assert.Equal(t, "online", string(events[4].Message.Payload))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConnectAttempts.WithLabelValues("ok")))
	assert.Equal(t, float64(Connected), testutil.ToFloat64(h.metrics.SessionState))
}

func TestConnectRetryDelays(t *testing.T) {
	cases := []struct {
		name  string
		kind  broker.ErrorKind
		delay time.Duration
	}{
		{"refused", broker.Refused, 120 * time.Second},
		{"unreachable", broker.Unreachable, 600 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.dialer.Enqueue(&broker.ConnectError{Kind: tc.kind, Addr: "broker:1883", Err: errors.New("dial failed")})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errCh := h.connectAsync(ctx)

			require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
			assert.Equal(t, 1, h.dialer.Attempts())
			assert.Equal(t, Disconnected, h.m.State())

			h.clock.Advance(tc.delay - time.Second)
			require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
			assert.Equal(t, 1, h.dialer.Attempts(), "retried before the delay elapsed")

			h.clock.Advance(time.Second)
			require.NoError(t, waitErr(t, errCh))
			assert.Equal(t, 2, h.dialer.Attempts())
			assert.True(t, h.m.IsConnected())
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConnectAttempts.WithLabelValues(tc.name)))
		})
	}
}

func TestConnectAuthRejectedIsFatal(t *testing.T) {
	h := newHarness(t)
	h.dialer.Enqueue(broker.NewAuthError(broker.ReasonBadUserNameOrPassword))

	err := h.m.Connect(context.Background())
	var authErr *broker.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, h.dialer.Attempts())
	assert.Empty(t, h.dialer.Published())
	assert.Equal(t, Disconnected, h.m.State())
}

func TestConnectCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t)
	h.dialer.Enqueue(&broker.ConnectError{Kind: broker.Unreachable, Err: errors.New("no route")})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.connectAsync(ctx)
	bctx, bcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer bcancel()
	require.NoError(t, h.clock.BlockUntilContext(bctx, 1))
	cancel()

	assert.ErrorIs(t, waitErr(t, errCh), context.Canceled)
}

// hass/status 收到 online 后重新发布全部 discovery，unique_id 不变
func TestReannounceOnCoordinatorOnline(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Connect(context.Background()))

	conn := h.dialer.Last()
	conn.Deliver(topic.Coordinator, []byte("offline"))
	conn.Deliver(topic.Coordinator, []byte("online"))

	require.Eventually(t, func() bool {
		return len(h.dialer.PublishedTo(availability)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	descs := h.dialer.PublishedTo(cpuDiscovery)
	require.Len(t, descs, 2)
	assert.Equal(t, descs[0].Payload, descs[1].Payload)
	assert.Contains(t, string(descs[1].Payload), `"unique_id":"mydevice_sensor_cpu_usage"`)
}

func TestReconnectAfterLoss(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Connect(context.Background()))

	h.dialer.Enqueue(&broker.ConnectError{Kind: broker.Refused, Err: errors.New("refused")})
	h.dialer.Last().Drop(errors.New("eof"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.False(t, h.m.IsConnected())
	assert.ErrorIs(t, h.m.Publish(ctx, broker.Message{Topic: "x"}), broker.ErrNotConnected)

	h.clock.Advance(120 * time.Second)
	require.Eventually(t, h.m.IsConnected, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, h.dialer.Attempts())
	assert.Len(t, h.dialer.PublishedTo(availability), 2)
	assert.Equal(t, []string{topic.Coordinator}, h.dialer.Last().Subscriptions())
}

func TestReconnectAuthRejectedReportsFatal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Connect(context.Background()))

	h.dialer.Enqueue(broker.NewAuthError(broker.ReasonNotAuthorized))
	h.dialer.Last().Drop(errors.New("eof"))

	select {
	case err := <-h.m.Fatal():
		var authErr *broker.AuthError
		assert.ErrorAs(t, err, &authErr)
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal error reported")
	}
}

func TestPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := broker.Message{Topic: "system-sensors/mydevice/state", Payload: []byte(`{"a":"1"}`), QoS: 1}

	assert.ErrorIs(t, h.m.Publish(ctx, msg), broker.ErrNotConnected)

	require.NoError(t, h.m.Connect(ctx))
	require.NoError(t, h.m.Publish(ctx, msg))
	got := h.dialer.PublishedTo(msg.Topic)
	require.Len(t, got, 1)
	assert.False(t, got[0].Retain)

	h.dialer.FailPublish(msg.Topic, errors.New("queue full"))
	err := h.m.Publish(ctx, msg)
	var perr *broker.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, msg.Topic, perr.Topic)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Publishes.WithLabelValues("state", "error")))
}

// offline 是断开前的最后一条消息
func TestCloseOfflineLast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.m.Connect(ctx))
	require.NoError(t, h.m.Publish(ctx, broker.Message{Topic: "system-sensors/mydevice/state", Payload: []byte("{}"), QoS: 1}))

	require.NoError(t, h.m.Close(ctx))
	require.NoError(t, h.m.Close(ctx))

	events := h.dialer.Events()
	n := len(events)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, brokertest.EventPublish, events[n-2].Kind)
	assert.Equal(t, availability, events[n-2].Message.Topic)
	assert.Equal(t, "offline", string(events[n-2].Message.Payload))
	assert.True(t, events[n-2].Message.Retain)
	assert.Equal(t, brokertest.EventDisconnect, events[n-1].Kind)

	assert.Equal(t, Disconnected, h.m.State())
	assert.ErrorIs(t, h.m.Publish(ctx, broker.Message{Topic: "x"}), broker.ErrNotConnected)
	assert.ErrorIs(t, h.m.Connect(ctx), ErrClosed)
}

func TestRetryPolicyDelay(t *testing.T) {
	fixed := DefaultRetryPolicy()
	assert.Equal(t, 120*time.Second, fixed.Delay(broker.Refused, 5))
	assert.Equal(t, 600*time.Second, fixed.Delay(broker.Unreachable, 5))

	backoff := RetryPolicy{Refused: 10 * time.Second, Unreachable: 30 * time.Second, MaxDelay: time.Minute}
	assert.Equal(t, 10*time.Second, backoff.Delay(broker.Refused, 0))
	assert.Equal(t, 20*time.Second, backoff.Delay(broker.Refused, 1))
	assert.Equal(t, 40*time.Second, backoff.Delay(broker.Refused, 2))
	assert.Equal(t, time.Minute, backoff.Delay(broker.Refused, 3))
	assert.Equal(t, time.Minute, backoff.Delay(broker.Unreachable, 1))
	assert.Equal(t, time.Minute, backoff.Delay(broker.Refused, 200))
}
