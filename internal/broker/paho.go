package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

const (
	defaultKeepAlive   = 60 * time.Second
	defaultDialTimeout = 30 * time.Second
)

// PahoDialer 基于 eclipse/paho.golang 的 MQTT v5 实现
type PahoDialer struct {
	log *zap.Logger
}

func NewPahoDialer(log *zap.Logger) *PahoDialer {
	if log == nil {
		log = zap.NewNop()
	}
	return &PahoDialer{log: log}
}

// Dial 建立 TCP 连接并完成 MQTT 握手
// 1. TCP 拨号失败按 refused/unreachable 分类
// 2. CONNACK 鉴权类拒绝返回 *AuthError
// 3. 其他 CONNACK 拒绝视为 refused
func (d *PahoDialer) Dial(ctx context.Context, opts ConnectOptions, h Handlers) (Conn, error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	nd := &net.Dialer{}
	tcp, err := nd.DialContext(dctx, "tcp", opts.Addr)
	if err != nil {
		return nil, &ConnectError{Kind: ClassifyDialError(err), Addr: opts.Addr, Err: err}
	}

	pc := &pahoConn{handlers: h, log: d.log}
	client := paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     tcp,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if h.OnMessage != nil {
					h.OnMessage(pr.Packet.Topic, pr.Packet.Payload)
				}
				return true, nil
			},
		},
		OnClientError: func(err error) {
			pc.lost(err)
		},
		OnServerDisconnect: func(dis *paho.Disconnect) {
			pc.lost(fmt.Errorf("server sent disconnect, reason code 0x%02X", dis.ReasonCode))
		},
	})
	pc.client = client

	cp := &paho.Connect{
		KeepAlive:  uint16(keepAlive / time.Second),
		ClientID:   opts.ClientID,
		CleanStart: true,
	}
	if opts.Username != "" {
		cp.Username = opts.Username
		cp.UsernameFlag = true
		cp.Password = []byte(opts.Password)
		cp.PasswordFlag = true
	}
	if opts.Will != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   opts.Will.Topic,
			Payload: opts.Will.Payload,
			QoS:     opts.Will.QoS,
			Retain:  opts.Will.Retain,
		}
	}

	ca, err := client.Connect(dctx, cp)
	if err != nil || (ca != nil && ca.ReasonCode >= 0x80) {
		// 握手失败不属于连接丢失
		pc.closing.Store(true)
		_ = tcp.Close()
	}
	if ca != nil && ca.ReasonCode >= 0x80 {
		if IsAuthReason(ca.ReasonCode) {
			return nil, NewAuthError(ca.ReasonCode)
		}
		return nil, &ConnectError{Kind: Refused, Addr: opts.Addr,
			Err: fmt.Errorf("connack reason code 0x%02X", ca.ReasonCode)}
	}
	if err != nil {
		kind := Refused
		if isTimeout(err) {
			kind = Unreachable
		}
		return nil, &ConnectError{Kind: kind, Addr: opts.Addr, Err: err}
	}

	d.log.Debug("mqtt handshake complete", zap.String("addr", opts.Addr), zap.String("client_id", opts.ClientID))
	return pc, nil
}

type pahoConn struct {
	client   *paho.Client
	handlers Handlers
	log      *zap.Logger

	closing  atomic.Bool
	lostOnce sync.Once
}

// lost 只通知一次，主动断开后不再通知
func (c *pahoConn) lost(err error) {
	if c.closing.Load() {
		return
	}
	c.lostOnce.Do(func() {
		c.log.Debug("mqtt connection lost", zap.Error(err))
		if c.handlers.OnLost != nil {
			c.handlers.OnLost(err)
		}
	})
}

func (c *pahoConn) Publish(ctx context.Context, msg Message) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   msg.Topic,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
		Payload: msg.Payload,
	})
	return err
}

func (c *pahoConn) Subscribe(ctx context.Context, topic string, qos byte) error {
	_, err := c.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	})
	return err
}

func (c *pahoConn) Disconnect(ctx context.Context) error {
	c.closing.Store(true)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
