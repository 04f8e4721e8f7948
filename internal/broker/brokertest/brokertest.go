// Package brokertest 内存版 broker，用于测试会话、discovery 与调度
package brokertest

import (
	"context"
	"errors"
	"sync"

	"github.com/system-sensors/internal/broker"
)

// EventKind 事件类型
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventSubscribe  EventKind = "subscribe"
	EventPublish    EventKind = "publish"
	EventDisconnect EventKind = "disconnect"
)

// Event 按发生顺序记录的 broker 交互
type Event struct {
	Kind    EventKind
	Conn    int
	Message broker.Message
}

// ErrClosed 在已断开的连接上操作
var ErrClosed = errors.New("brokertest: connection closed")

// Dialer 可编排的假 broker
type Dialer struct {
	mu       sync.Mutex
	results  []error
	options  []broker.ConnectOptions
	conns    []*Conn
	events   []Event
	failures map[string]error
	attempts chan struct{}
}

func NewDialer() *Dialer {
	return &Dialer{
		failures: make(map[string]error),
		attempts: make(chan struct{}, 64),
	}
}

// Enqueue 依次作为后续 Dial 的结果，nil 表示成功；队列为空时 Dial 成功
func (d *Dialer) Enqueue(results ...error) {
	d.mu.Lock()
	d.results = append(d.results, results...)
	d.mu.Unlock()
}

// FailPublish 发布到 topic 时返回 err，err 为 nil 时恢复
func (d *Dialer) FailPublish(topic string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, topic)
		return
	}
	d.failures[topic] = err
}

// Attempted 每次 Dial 调用后收到一个信号
func (d *Dialer) Attempted() <-chan struct{} { return d.attempts }

func (d *Dialer) Dial(ctx context.Context, opts broker.ConnectOptions, h broker.Handlers) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.options = append(d.options, opts)
	var result error
	if len(d.results) > 0 {
		result = d.results[0]
		d.results = d.results[1:]
	}
	var conn *Conn
	if result == nil {
		conn = &Conn{d: d, id: len(d.conns), handlers: h}
		d.conns = append(d.conns, conn)
		d.events = append(d.events, Event{Kind: EventConnect, Conn: conn.id})
	}
	d.mu.Unlock()

	select {
	case d.attempts <- struct{}{}:
	default:
	}
	if result != nil {
		return nil, result
	}
	return conn, nil
}

// Attempts Dial 调用次数
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.options)
}

// Options 每次 Dial 的参数
func (d *Dialer) Options() []broker.ConnectOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]broker.ConnectOptions(nil), d.options...)
}

// Events 全部事件副本
func (d *Dialer) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Published 成功发布的消息（按顺序）
func (d *Dialer) Published() []broker.Message {
	var out []broker.Message
	for _, e := range d.Events() {
		if e.Kind == EventPublish {
			out = append(out, e.Message)
		}
	}
	return out
}

// PublishedTo 发布到指定 topic 的消息
func (d *Dialer) PublishedTo(topic string) []broker.Message {
	var out []broker.Message
	for _, m := range d.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Conn 第 i 个成功建立的连接
func (d *Dialer) Conn(i int) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// Last 最近一次建立的连接
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *Dialer) record(e Event) {
	d.events = append(d.events, e)
}

// Conn 假连接
type Conn struct {
	d        *Dialer
	id       int
	handlers broker.Handlers
	closed   bool
	subs     []string
}

func (c *Conn) Publish(ctx context.Context, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err, ok := c.d.failures[msg.Topic]; ok {
		return err
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	c.d.record(Event{Kind: EventPublish, Conn: c.id, Message: msg})
	return nil
}

func (c *Conn) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.subs = append(c.subs, topic)
	c.d.record(Event{Kind: EventSubscribe, Conn: c.id, Message: broker.Message{Topic: topic, QoS: qos}})
	return nil
}

func (c *Conn) Disconnect(context.Context) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.d.record(Event{Kind: EventDisconnect, Conn: c.id})
	return nil
}

// Subscriptions 已订阅的 topic
func (c *Conn) Subscriptions() []string {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return append([]string(nil), c.subs...)
}

// Closed 是否已断开
func (c *Conn) Closed() bool {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.closed
}

// Deliver 模拟 broker 推送一条消息
func (c *Conn) Deliver(topic string, payload []byte) {
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(topic, payload)
	}
}

// Drop 模拟连接丢失
func (c *Conn) Drop(err error) {
	c.d.mu.Lock()
	c.closed = true
	c.d.mu.Unlock()
	if c.handlers.OnLost != nil {
		c.handlers.OnLost(err)
	}
}
