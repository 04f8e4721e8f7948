package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/pkg/metrics"
)

func value(v string) sensors.Provider {
	return func(context.Context) (string, error) { return v, nil }
}

func TestCollectIsolatesFailures(t *testing.T) {
	_, m := metrics.NewRegistry(false)
	c := New(50*time.Millisecond, zaptest.NewLogger(t), m)

	active := sensors.ActiveSet{
		{Name: "cpu_usage", Read: value("12.5")},
		{Name: "temperature", Read: func(context.Context) (string, error) { return "", errors.New("no sensor") }},
		{Name: "hostname", Read: func(context.Context) (string, error) { panic("boom") }},
		{Name: "slow", Read: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
		{Name: "stuck", Read: func(context.Context) (string, error) {
			time.Sleep(time.Second)
			return "late", nil
		}},
		{Name: "binary", Read: value("\xff\xfe")},
		{Name: "memory_use", Read: value("40.1")},
	}

	snap := c.Collect(context.Background(), active)
	assert.Equal(t, []string{"cpu_usage", "memory_use"}, snap.Names())

	for _, name := range []string{"temperature", "hostname", "slow", "stuck", "binary"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderErrors.WithLabelValues(name)), name)
	}
	assert.Zero(t, testutil.ToFloat64(m.ProviderErrors.WithLabelValues("cpu_usage")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.SensorValues.WithLabelValues("cpu_usage")))
	assert.Equal(t, 40.1, testutil.ToFloat64(m.SensorValues.WithLabelValues("memory_use")))
}

func TestObserveSensorValues(t *testing.T) {
	_, m := metrics.NewRegistry(false)
	c := New(time.Second, nil, m)
	c.Collect(context.Background(), sensors.ActiveSet{
		{Name: "throttled", Read: value("True")},
		{Name: "under_voltage", Read: value("False")},
		{Name: "hostname", Read: value("pi")},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SensorValues.WithLabelValues("throttled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SensorValues.WithLabelValues("under_voltage")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SensorValues))
}

// 一个 provider 持续失败，其余指标照常输出
func TestCollectRepeatedFailure(t *testing.T) {
	c := New(time.Second, zaptest.NewLogger(t), nil)
	active := sensors.ActiveSet{
		{Name: "cpu_usage", Read: value("1")},
		{Name: "temperature", Read: func(context.Context) (string, error) { return "", errors.New("unavailable") }},
	}
	for i := 0; i < 3; i++ {
		snap := c.Collect(context.Background(), active)
		raw, err := json.Marshal(snap)
		require.NoError(t, err)
		assert.JSONEq(t, `{"cpu_usage":"1"}`, string(raw))
	}
}

func TestCollectCancelled(t *testing.T) {
	c := New(time.Second, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap := c.Collect(ctx, sensors.ActiveSet{{Name: "a", Read: value("1")}})
	assert.Zero(t, snap.Len())
}

func TestSnapshotOrder(t *testing.T) {
	s := NewSnapshot()
	s.Set("temperature", "v2")
	s.Set("cpu_usage", "v1")
	s.Set("temperature", "v3")

	raw, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"temperature":"v3","cpu_usage":"v1"}`, string(raw))

	v, ok := s.Get("cpu_usage")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	raw, err = NewSnapshot().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}
