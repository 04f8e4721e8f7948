package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout 发布 offline 与断开连接的总超时
const shutdownTimeout = 5 * time.Second

type stopper interface{ Stop() }

type closer interface {
	Close(ctx context.Context) error
}

type httpServer interface{ Shutdown() error }

// Shutdown 关闭协调器：停止调度 -> 发布 offline 并断开 -> 关闭 HTTP 服务，只执行一次
type Shutdown struct {
	scheduler stopper
	session   closer
	server    httpServer
	log       *zap.Logger

	once sync.Once
	done atomic.Bool
}

// NewShutdown server 可为空
func NewShutdown(s stopper, c closer, srv httpServer, log *zap.Logger) *Shutdown {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shutdown{scheduler: s, session: c, server: srv, log: log}
}

// Run 执行关闭流程；重复调用直接返回
func (s *Shutdown) Run(ctx context.Context) {
	s.once.Do(func() {
		s.log.Info("running cleanup")

		// 1. 停止调度并等待进行中的 tick
		s.scheduler.Stop()

		// 2. 发布 offline（尽力而为）并断开
		cctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := s.session.Close(cctx); err != nil {
			s.log.Warn("session close failed", zap.Error(err))
		}
		cancel()

		// 3. 关闭 HTTP 服务
		if s.server != nil {
			if err := s.server.Shutdown(); err != nil {
				s.log.Warn("HTTP server shutdown failed", zap.Error(err))
			}
		}

		s.done.Store(true)
		s.log.Info("shutdown completed")
	})
}

// Done 关闭流程是否已完成
func (s *Shutdown) Done() bool { return s.done.Load() }
