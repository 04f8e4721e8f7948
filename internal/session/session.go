package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/system-sensors/internal/broker"
	"github.com/system-sensors/internal/discovery"
	"github.com/system-sensors/internal/topic"
	"github.com/system-sensors/pkg/metrics"
)

// ErrClosed 会话已关闭
var ErrClosed = errors.New("session closed")

// State 会话状态
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Announcer 发布 discovery 描述与 online 标记
type Announcer interface {
	Announce(ctx context.Context, pub discovery.Publisher) error
}

// Option 可选参数
type Option func(*Manager)

func WithClock(c clockwork.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// Manager 维护 broker 会话：连接重试、遗嘱、断线重连、discovery 与 availability 的时序
//
// mu 保护 state/conn/gen/announced，pubMu 串行化发布。
// gen 在每次拨号和 Close 时递增，旧连接的回调与发布据此丢弃。
type Manager struct {
	dialer    broker.Dialer
	opts      broker.ConnectOptions
	retry     RetryPolicy
	topics    topic.Topics
	announcer Announcer
	clock     clockwork.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	state     State
	conn      broker.Conn
	gen       uint64
	lostGen   uint64
	announced bool
	closed    bool

	pubMu sync.Mutex

	lost       chan error
	reannounce chan struct{}
	fatal      chan error
	closing    chan struct{}
	done       chan struct{}
	runCtx     context.Context
	cancel     context.CancelFunc
	startOnce  sync.Once
	started    atomic.Bool
	closeOnce  sync.Once
}

// New 创建会话管理器，遗嘱消息固定为 availability topic 上保留的 offline
func New(dialer broker.Dialer, opts broker.ConnectOptions, retry RetryPolicy, topics topic.Topics, announcer Announcer, options ...Option) *Manager {
	opts.Will = &broker.Message{
		Topic:   topics.Availability(),
		Payload: []byte(topic.Offline),
		QoS:     1,
		Retain:  true,
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:     dialer,
		opts:       opts,
		retry:      retry,
		topics:     topics,
		announcer:  announcer,
		clock:      clockwork.NewRealClock(),
		log:        zap.NewNop(),
		lost:       make(chan error, 1),
		reannounce: make(chan struct{}, 1),
		fatal:      make(chan error, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		runCtx:     runCtx,
		cancel:     cancel,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Connect 阻塞直到首次连接成功（含 discovery），鉴权失败或 ctx 取消时返回错误
// 成功后启动后台 supervisor 负责断线重连与重新发布 discovery
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.connectLoop(ctx); err != nil {
		return err
	}
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.supervise()
	})
	return nil
}

// Fatal supervisor 中出现的不可恢复错误（重连时鉴权失败）
func (m *Manager) Fatal() <-chan error { return m.fatal }

// State 当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected 是否已连接且 discovery 已执行
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Announced 最近一次 discovery 是否完整发布
func (m *Manager) Announced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.announced
}

// Publish 发布一条消息，未连接时返回 broker.ErrNotConnected，不缓存
func (m *Manager) Publish(ctx context.Context, msg broker.Message) error {
	m.mu.Lock()
	conn, gen, st := m.conn, m.gen, m.state
	m.mu.Unlock()

	if st != Connected || conn == nil {
		m.count("state", "dropped")
		return broker.ErrNotConnected
	}
	err := m.send(ctx, conn, gen, msg)
	m.count("state", result(err))
	return err
}

// Close 发布 offline（尽力而为）后断开，并等待 supervisor 退出；只执行一次
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.gen++
		gen, conn := m.gen, m.conn
		m.setStateLocked(Disconnecting)
		m.mu.Unlock()
		close(m.closing)
		m.cancel()

		if conn != nil {
			perr := m.send(ctx, conn, gen, broker.Message{
				Topic:   m.topics.Availability(),
				Payload: []byte(topic.Offline),
				QoS:     1,
				Retain:  true,
			})
			m.count("availability", result(perr))
			if perr != nil {
				m.log.Warn("publish offline failed", zap.Error(perr))
			}
			if derr := conn.Disconnect(ctx); derr != nil {
				m.log.Warn("disconnect failed", zap.Error(derr))
				err = derr
			}
		}

		if m.started.Load() {
			select {
			case <-m.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}

		m.mu.Lock()
		m.conn = nil
		m.announced = false
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		m.log.Info("broker session closed")
	})
	return err
}

// connectLoop 拨号直到成功；鉴权失败立即返回，其余失败按分类等待后重试
func (m *Manager) connectLoop(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		m.gen++
		gen := m.gen
		m.setStateLocked(Connecting)
		m.mu.Unlock()

		m.log.Info("connecting to broker", zap.String("addr", m.opts.Addr), zap.Int("attempt", attempt+1))
		conn, err := m.dialer.Dial(ctx, m.opts, m.handlers(gen))
		if err == nil {
			m.countAttempt("ok")
			return m.onConnected(ctx, conn, gen)
		}

		var authErr *broker.AuthError
		if errors.As(err, &authErr) {
			m.countAttempt("auth")
			m.transition(gen, Disconnected)
			m.log.Error("broker rejected credentials, giving up", zap.Error(err))
			return err
		}
		if serr := m.stopped(ctx); serr != nil {
			m.transition(gen, Disconnected)
			return serr
		}

		kind := broker.Unreachable
		var ce *broker.ConnectError
		if errors.As(err, &ce) {
			kind = ce.Kind
		}
		m.countAttempt(kind.String())
		m.transition(gen, Disconnected)

		delay := m.retry.Delay(kind, attempt)
		m.log.Warn("broker connection failed, retrying",
			zap.String("kind", kind.String()),
			zap.Duration("delay", delay),
			zap.Error(err))
		if werr := m.wait(ctx, delay); werr != nil {
			return werr
		}
	}
}

// onConnected 订阅 hass/status -> discovery -> Connected
// 遗嘱已随 CONNECT 注册，先于这里的任何发布
func (m *Manager) onConnected(ctx context.Context, conn broker.Conn, gen uint64) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Disconnect(ctx)
		return ErrClosed
	}
	if m.lostGen == gen {
		// 握手后立即断开，等 supervisor 重连
		m.mu.Unlock()
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	if err := conn.Subscribe(ctx, topic.Coordinator, 1); err != nil {
		m.log.Error("subscribe failed", zap.String("topic", topic.Coordinator), zap.Error(err))
	}

	_ = m.announce(ctx, conn, gen)

	m.mu.Lock()
	ok := gen == m.gen && m.conn == conn
	if ok {
		m.setStateLocked(Connected)
	}
	m.mu.Unlock()
	if ok {
		m.log.Info("connected to broker", zap.String("addr", m.opts.Addr))
	}
	return nil
}

func (m *Manager) announce(ctx context.Context, conn broker.Conn, gen uint64) error {
	err := m.announcer.Announce(ctx, discovery.PublisherFunc(func(ctx context.Context, msg broker.Message) error {
		return m.send(ctx, conn, gen, msg)
	}))

	m.mu.Lock()
	if gen == m.gen && m.conn == conn {
		m.announced = err == nil
	}
	m.mu.Unlock()

	if m.metrics != nil {
		if err == nil {
			m.metrics.Announced.Set(1)
		} else {
			m.metrics.Announced.Set(0)
		}
	}
	if err != nil {
		m.log.Error("discovery not announced, will retry on next reconnection", zap.Error(err))
	}
	return err
}

// send 在 pubMu 下发布；gen 已过期（连接被替换或会话已关闭）时丢弃
func (m *Manager) send(ctx context.Context, conn broker.Conn, gen uint64, msg broker.Message) error {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return &broker.PublishError{Topic: msg.Topic, Err: broker.ErrNotConnected}
	}
	if err := conn.Publish(ctx, msg); err != nil {
		return &broker.PublishError{Topic: msg.Topic, Err: err}
	}
	return nil
}

func (m *Manager) handlers(gen uint64) broker.Handlers {
	return broker.Handlers{
		OnMessage: func(t string, payload []byte) { m.onMessage(gen, t, payload) },
		OnLost:    func(err error) { m.onLost(gen, err) },
	}
}

// onMessage 在客户端回调 goroutine 中执行，只投递信号
func (m *Manager) onMessage(gen uint64, t string, payload []byte) {
	if t != topic.Coordinator {
		return
	}
	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}
	m.log.Debug("coordinator status received", zap.String("payload", string(payload)))
	if string(payload) != topic.Online {
		return
	}
	select {
	case m.reannounce <- struct{}{}:
	default:
	}
}

func (m *Manager) onLost(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.lostGen = gen
	m.conn = nil
	m.announced = false
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	select {
	case m.lost <- err:
	default:
	}
}

// supervise 处理断线重连与 hass/status 触发的重新 discovery
func (m *Manager) supervise() {
	defer close(m.done)
	for {
		select {
		case <-m.closing:
			return
		case err := <-m.lost:
			m.log.Warn("broker connection lost, reconnecting", zap.Error(err))
			if cerr := m.connectLoop(m.runCtx); cerr != nil {
				var authErr *broker.AuthError
				if errors.As(cerr, &authErr) {
					m.fatal <- cerr
				}
				return
			}
		case <-m.reannounce:
			m.mu.Lock()
			conn, gen, st := m.conn, m.gen, m.state
			m.mu.Unlock()
			if st != Connected || conn == nil {
				m.log.Debug("re-announce skipped, not connected")
				continue
			}
			m.log.Info("coordinator online, re-sending discovery config")
			_ = m.announce(m.runCtx, conn, gen)
		}
	}
}

func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-m.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closing:
		return ErrClosed
	}
}

func (m *Manager) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.closing:
		return ErrClosed
	default:
		return nil
	}
}

// transition 仅对当前代的连接生效
func (m *Manager) transition(gen uint64, to State) {
	m.mu.Lock()
	if gen == m.gen && !m.closed {
		m.setStateLocked(to)
	}
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	if m.metrics != nil {
		m.metrics.SessionState.Set(float64(s))
	}
}

func (m *Manager) count(kind, res string) {
	if m.metrics != nil {
		m.metrics.Publishes.WithLabelValues(kind, res).Inc()
	}
}

func (m *Manager) countAttempt(res string) {
	if m.metrics != nil {
		m.metrics.ConnectAttempts.WithLabelValues(res).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
