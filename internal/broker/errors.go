package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrNotConnected 会话未建立时发布
var ErrNotConnected = errors.New("broker session not connected")

// ErrorKind 连接失败分类，决定重试间隔
type ErrorKind int

const (
	// Refused broker 可达但拒绝（TCP RST 或非鉴权类 CONNACK 拒绝）
	Refused ErrorKind = iota
	// Unreachable 网络不可达（DNS、路由、超时）
	Unreachable
)

func (k ErrorKind) String() string {
	switch k {
	case Refused:
		return "refused"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ConnectError 可重试的连接失败
type ConnectError struct {
	Kind ErrorKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError 鉴权失败，不重试
type AuthError struct {
	Code   byte
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("broker rejected credentials: %s (0x%02X)", e.Reason, e.Code)
}

// PublishError 发布失败，消息被丢弃
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// MQTT v5 鉴权相关的 CONNACK reason code
const (
	ReasonBadUserNameOrPassword byte = 0x86
	ReasonNotAuthorized         byte = 0x87
	ReasonBadAuthMethod         byte = 0x8C
)

// IsAuthReason 是否为鉴权拒绝
func IsAuthReason(code byte) bool {
	switch code {
	case ReasonBadUserNameOrPassword, ReasonNotAuthorized, ReasonBadAuthMethod:
		return true
	}
	return false
}

func authReasonText(code byte) string {
	switch code {
	case ReasonBadUserNameOrPassword:
		return "bad user name or password"
	case ReasonNotAuthorized:
		return "not authorized"
	case ReasonBadAuthMethod:
		return "bad authentication method"
	default:
		return "unknown"
	}
}

// NewAuthError 按 reason code 构造鉴权错误
func NewAuthError(code byte) *AuthError {
	return &AuthError{Code: code, Reason: authReasonText(code)}
}

// ClassifyDialError TCP 层失败：ECONNREFUSED 视为 refused，其余（DNS、路由、超时）视为 unreachable
func ClassifyDialError(err error) ErrorKind {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Refused
	}
	return Unreachable
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
