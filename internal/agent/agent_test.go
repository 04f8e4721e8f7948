package agent

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/system-sensors/internal/broker"
	"github.com/system-sensors/internal/broker/brokertest"
	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/pkg/config"
)

const stateTopic = "system-sensors/mydevice/state"

type probe struct {
	mounts map[string]bool
}

func (probe) ToolAvailable(string) bool { return true }

func (p probe) Mounted(path string) bool { return p.mounts[path] }

func constant(v string) sensors.Provider {
	return func(context.Context) (string, error) { return v, nil }
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.MQTT.Hostname = "broker.local"
	cfg.DeviceName = "My Device"
	cfg.ClientID = "sensors-1"
	cfg.Timezone = "UTC"
	return cfg
}

func testCatalog() []sensors.Descriptor {
	return []sensors.Descriptor{
		{Name: "cpu_usage", DisplayName: "CPU Usage", Unit: "%", Entity: sensors.EntitySensor, Read: constant("v1")},
		{Name: "temperature", DisplayName: "Temperature", Entity: sensors.EntitySensor, Read: constant("v2")},
	}
}

type fixture struct {
	agent  *Agent
	dialer *brokertest.Dialer
	clock  *clockwork.FakeClock
	sig    chan os.Signal
}

func newFixture(t *testing.T, cfg *config.Config, catalog []sensors.Descriptor, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		dialer: brokertest.NewDialer(),
		clock:  clockwork.NewFakeClock(),
		sig:    make(chan os.Signal, 2),
	}
	opts = append([]Option{
		WithDialer(f.dialer),
		WithClock(f.clock),
		WithProbe(probe{}),
		WithCatalog(catalog),
	}, opts...)
	a, err := New(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	f.agent = a
	return f
}

func (f *fixture) run() <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.agent.Run(context.Background(), f.sig) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// 首次手动发布，随后每个周期发布一次，收到信号后 offline 并断开
func TestRunPublishesState(t *testing.T) {
	f := newFixture(t, testConfig(), testCatalog())
	done := f.run()

	require.Eventually(t, func() bool {
		return len(f.dialer.PublishedTo(stateTopic)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	first := f.dialer.PublishedTo(stateTopic)[0]
	assert.Equal(t, `{"cpu_usage":"v1","temperature":"v2"}`, string(first.Payload))
	assert.Equal(t, byte(1), first.QoS)
	assert.False(t, first.Retain)

	// discovery 先于 state
	published := f.dialer.Published()
	stateAt := -1
	for i, m := range published {
		if m.Topic == stateTopic {
			stateAt = i
			break
		}
	}
	require.Equal(t, 3, stateAt)
	assert.Equal(t, "homeassistant/sensor/mydevice/cpu_usage/config", published[0].Topic)
	assert.Equal(t, "online", string(published[2].Payload))

	ctx := timeout(t)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(60 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.dialer.PublishedTo(stateTopic)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	f.sig <- syscall.SIGTERM
	f.sig <- syscall.SIGINT
	require.NoError(t, waitRun(t, done))
	assert.True(t, f.agent.shutdown.Done())

	events := f.dialer.Events()
	n := len(events)
	assert.Equal(t, "offline", string(events[n-2].Message.Payload))
	assert.Equal(t, brokertest.EventDisconnect, events[n-1].Kind)
	assert.Len(t, f.dialer.PublishedTo(stateTopic), 2)
}

func TestRunAuthRejected(t *testing.T) {
	f := newFixture(t, testConfig(), testCatalog())
	f.dialer.Enqueue(broker.NewAuthError(broker.ReasonBadUserNameOrPassword))

	err := waitRun(t, f.run())
	var authErr *broker.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, f.dialer.Published())
	assert.Equal(t, 1, f.dialer.Attempts())
}

func TestRunSignalWhileConnecting(t *testing.T) {
	f := newFixture(t, testConfig(), testCatalog())
	f.dialer.Enqueue(&broker.ConnectError{Kind: broker.Refused, Err: errors.New("refused")})
	done := f.run()

	require.NoError(t, f.clock.BlockUntilContext(timeout(t), 1))
	f.sig <- syscall.SIGINT

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 1, f.dialer.Attempts())
	assert.Empty(t, f.dialer.Published())
}

func TestRunFatalAfterReconnect(t *testing.T) {
	f := newFixture(t, testConfig(), testCatalog())
	done := f.run()
	require.Eventually(t, func() bool {
		return len(f.dialer.PublishedTo(stateTopic)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.dialer.Enqueue(broker.NewAuthError(broker.ReasonNotAuthorized))
	f.dialer.Last().Drop(errors.New("eof"))

	err := waitRun(t, done)
	var authErr *broker.AuthError
	assert.ErrorAs(t, err, &authErr)
}

// 所有 provider 失败时不发布空对象，调度器照常启动
func TestRunEmptySnapshotSkipped(t *testing.T) {
	failing := []sensors.Descriptor{{Name: "temperature", DisplayName: "Temperature", Entity: sensors.EntitySensor,
		Read: func(context.Context) (string, error) { return "", errors.New("no sensor") }}}
	f := newFixture(t, testConfig(), failing)
	done := f.run()

	require.NoError(t, f.clock.BlockUntilContext(timeout(t), 1))
	assert.Empty(t, f.dialer.PublishedTo(stateTopic))

	f.sig <- syscall.SIGTERM
	require.NoError(t, waitRun(t, done))
}

func TestNewSkipsUnmountedDrive(t *testing.T) {
	cfg := testConfig()
	cfg.Sensors.ExternalDrives = map[string]string{"backup": "/mnt/backup", "media": "/mnt/media"}
	f := newFixture(t, cfg, testCatalog(),
		WithProbe(probe{mounts: map[string]bool{"/mnt/media": true}}),
		WithDiskUsage(func(context.Context, string) (float64, error) { return 10, nil }))

	assert.Equal(t, []string{"cpu_usage", "temperature", "disk_use_media"}, f.agent.Active().Names())
}

func TestNewHonoursSensorFlags(t *testing.T) {
	cfg := testConfig()
	cfg.Sensors.Flags = map[string]interface{}{"temperature": false}
	f := newFixture(t, cfg, testCatalog())
	assert.Equal(t, []string{"cpu_usage"}, f.agent.Active().Names())

	assert.ErrorIs(t, f.agent.publishState(context.Background()), broker.ErrNotConnected)
}

type call struct {
	log  *[]string
	name string
	err  error
}

func (c call) Stop()                       { *c.log = append(*c.log, c.name) }
func (c call) Close(context.Context) error { *c.log = append(*c.log, c.name); return c.err }
func (c call) Shutdown() error             { *c.log = append(*c.log, c.name); return c.err }

func TestShutdownOrderOnce(t *testing.T) {
	var order []string
	sh := NewShutdown(
		call{log: &order, name: "scheduler"},
		call{log: &order, name: "session", err: errors.New("offline failed")},
		call{log: &order, name: "http"},
		zaptest.NewLogger(t),
	)
	sh.Run(context.Background())
	sh.Run(context.Background())

	assert.Equal(t, []string{"scheduler", "session", "http"}, order)
	assert.True(t, sh.Done())

	order = nil
	noHTTP := NewShutdown(call{log: &order, name: "scheduler"}, call{log: &order, name: "session"}, nil, nil)
	noHTTP.Run(context.Background())
	assert.Equal(t, []string{"scheduler", "session"}, order)
}
