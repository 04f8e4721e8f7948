package session

import (
	"time"

	"github.com/system-sensors/internal/broker"
)

// RetryPolicy 重连间隔
// MaxDelay 为 0 时固定间隔；大于 0 时以分类间隔为起点指数退避，并以 MaxDelay 封顶
type RetryPolicy struct {
	Refused     time.Duration
	Unreachable time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy 拒绝 2 分钟，不可达 10 分钟
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Refused: 120 * time.Second, Unreachable: 600 * time.Second}
}

// Delay 第 attempt 次（从 0 开始）连续失败后的等待时间
func (p RetryPolicy) Delay(kind broker.ErrorKind, attempt int) time.Duration {
	base := p.Unreachable
	if kind == broker.Refused {
		base = p.Refused
	}
	if p.MaxDelay <= 0 || attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	return d
}
