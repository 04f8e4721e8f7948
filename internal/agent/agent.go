package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/system-sensors/internal/broker"
	"github.com/system-sensors/internal/collector"
	"github.com/system-sensors/internal/discovery"
	"github.com/system-sensors/internal/scheduler"
	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/internal/server"
	"github.com/system-sensors/internal/session"
	"github.com/system-sensors/internal/topic"
	"github.com/system-sensors/pkg/config"
	"github.com/system-sensors/pkg/metrics"
)

var errEmptySnapshot = errors.New("no sensor produced a value")

// Agent 运行期上下文：配置、日志、指标目录、ActiveSet 与各组件，启动时构建一次
type Agent struct {
	cfg      *config.Config
	log      *zap.Logger
	clock    clockwork.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sensors *sensors.Registry
	active  sensors.ActiveSet
	topics  topic.Topics

	collector *collector.Collector
	session   *session.Manager
	scheduler *scheduler.Scheduler
	server    *server.HTTPServer
	shutdown  *Shutdown
}

// New 构建 Agent
//  1. 静态目录注册 -> 外接磁盘发现 -> Freeze
//  2. 根据配置与探测结果选出 ActiveSet
//  3. 组装 discovery、会话、采集器、调度器与 HTTP 服务
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Agent, error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.dialer == nil {
		o.dialer = broker.NewPahoDialer(log.Named("mqtt"))
	}
	if o.probe == nil {
		o.probe = sensors.NewHostProbe(log.Named("probe"))
	}
	if o.exec == nil {
		o.exec = sensors.NewSystemCommandExecutor(log.Named("exec"))
	}
	if o.usage == nil {
		o.usage = sensors.DiskUsage
	}
	if o.catalog == nil {
		o.catalog = sensors.Builtins(sensors.Deps{Exec: o.exec, Clock: o.clock, Location: cfg.Location()})
	}

	registry, m := metrics.NewRegistry(o.hostProc)
	a := &Agent{
		cfg:      cfg,
		log:      log,
		clock:    o.clock,
		registry: registry,
		metrics:  m,
		topics:   topic.New(cfg.DeviceID()),
	}

	// 1. 指标目录
	a.sensors = sensors.NewRegistry()
	if err := a.sensors.RegisterAll(o.catalog); err != nil {
		return nil, fmt.Errorf("register sensors: %w", err)
	}
	if err := sensors.DiscoverDrives(a.sensors, cfg.Sensors.ExternalDrives, o.probe, o.usage, log.Named("registry")); err != nil {
		return nil, err
	}
	a.sensors.Freeze()

	// 2. ActiveSet
	a.active = sensors.Select(a.sensors, &cfg.Sensors, o.probe, log.Named("selector"))
	m.ActiveSensors.Set(float64(len(a.active)))

	// 3. 组件
	announcer, err := discovery.New(a.topics, cfg.DeviceName, a.active, log.Named("discovery"), m)
	if err != nil {
		return nil, err
	}
	a.session = session.New(o.dialer,
		broker.ConnectOptions{
			Addr:     cfg.MQTT.Addr(),
			ClientID: cfg.ClientID,
			Username: cfg.MQTT.User,
			Password: cfg.MQTT.Password,
		},
		session.RetryPolicy{
			Refused:     cfg.Retry.RefusedDelay,
			Unreachable: cfg.Retry.UnreachableDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		a.topics, announcer,
		session.WithClock(o.clock),
		session.WithLogger(log.Named("session")),
		session.WithMetrics(m),
	)
	a.collector = collector.New(cfg.Collector.Timeout, log.Named("collector"), m)
	a.scheduler = scheduler.New(cfg.Interval(), a.tick, o.clock, log.Named("scheduler"), m)
	var srv httpServer
	if cfg.Metrics.Addr != "" {
		a.server = server.NewHTTPServer(cfg.Metrics.Addr, registry, a.session.IsConnected, log.Named("http"))
		srv = a.server
	}
	a.shutdown = NewShutdown(a.scheduler, a.session, srv, log.Named("shutdown"))
	return a, nil
}

// Active 本次运行启用的指标
func (a *Agent) Active() sensors.ActiveSet { return a.active }

// Run 连接 broker 并开始周期发布，直到收到退出信号或出现不可恢复错误
//  1. 启动 HTTP 服务（可选）
//  2. 阻塞连接 broker（期间收到信号直接退出）
//  3. 手动发布第一次 state，然后启动调度器
//  4. 等待信号或会话的致命错误，执行一次关闭流程
func (a *Agent) Run(ctx context.Context, sig <-chan os.Signal) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("start HTTP server: %w", err)
		}
	}

	interrupted, err := a.connect(ctx, sig)
	if interrupted || err != nil {
		a.runShutdown(sig)
		if interrupted {
			return nil
		}
		return err
	}

	if err := a.publishState(ctx); err != nil {
		a.log.Warn("initial sensor update failed", zap.Error(err))
	}
	if err := a.scheduler.Start(ctx); err != nil {
		a.runShutdown(sig)
		return err
	}

	var runErr error
	select {
	case s := <-sig:
		a.log.Info("received shutdown signal", zap.String("signal", s.String()))
	case runErr = <-a.session.Fatal():
		a.log.Error("broker session failed", zap.Error(runErr))
	case <-ctx.Done():
		a.log.Info("context cancelled, shutting down")
	}
	a.runShutdown(sig)
	return runErr
}

// connect 阻塞连接；收到信号时取消连接并返回 interrupted
func (a *Agent) connect(ctx context.Context, sig <-chan os.Signal) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		interrupted bool
		wg          sync.WaitGroup
	)
	connected := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case s := <-sig:
			a.log.Info("received shutdown signal while connecting", zap.String("signal", s.String()))
			interrupted = true
			cancel()
		case <-connected:
		}
	}()

	err := a.session.Connect(connCtx)
	close(connected)
	wg.Wait()

	if interrupted {
		return true, nil
	}
	if err != nil && ctx.Err() != nil {
		return true, nil
	}
	return false, err
}

// runShutdown 执行关闭流程，期间到达的信号只记录
func (a *Agent) runShutdown(sig <-chan os.Signal) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-sig:
				a.log.Warn("shutdown already in progress, signal ignored", zap.String("signal", s.String()))
			case <-done:
				return
			}
		}
	}()
	a.shutdown.Run(context.Background())
	close(done)
}

// tick 调度器每次执行：采集 -> 发布
func (a *Agent) tick(ctx context.Context) {
	if err := a.publishState(ctx); err != nil {
		if errors.Is(err, broker.ErrNotConnected) {
			a.log.Debug("not connected, sensor update skipped")
			return
		}
		a.log.Warn("sensor update failed", zap.Error(err))
	}
}

// publishState 采集并发布一次 state（qos 1，不保留），未连接时不采集
func (a *Agent) publishState(ctx context.Context) error {
	if !a.session.IsConnected() {
		return broker.ErrNotConnected
	}
	snap := a.collector.Collect(ctx, a.active)
	if snap.Len() == 0 {
		return errEmptySnapshot
	}
	payload, err := snap.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return a.session.Publish(ctx, broker.Message{
		Topic:   a.topics.State(),
		Payload: payload,
		QoS:     1,
	})
}
