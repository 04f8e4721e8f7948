package broker

import (
	"context"
	"time"
)

// Message 一条 MQTT 消息
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions 连接参数，遗嘱消息随 CONNECT 报文一起注册
type ConnectOptions struct {
	Addr        string // host:port
	ClientID    string
	Username    string
	Password    string
	KeepAlive   time.Duration
	DialTimeout time.Duration
	Will        *Message
}

// Handlers 连接回调，可能在客户端内部 goroutine 中执行，实现方不可阻塞
type Handlers struct {
	OnMessage func(topic string, payload []byte)
	OnLost    func(err error)
}

// Dialer 建立一个已完成握手的 broker 会话
// 失败时返回 *ConnectError 或 *AuthError
type Dialer interface {
	Dial(ctx context.Context, opts ConnectOptions, h Handlers) (Conn, error)
}

// Conn 一个已建立的会话
type Conn interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Disconnect(ctx context.Context) error
}
