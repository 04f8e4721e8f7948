package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/system-sensors/pkg/metrics"
)

// ErrRunning 重复启动
var ErrRunning = errors.New("scheduler already running")

// Job 每个 tick 执行一次
type Job func(ctx context.Context)

// Scheduler 固定频率调度：单个 ticker，任务串行执行
// 任务超时导致积压的 tick 直接丢弃（计为 skipped），不排队补跑
type Scheduler struct {
	interval time.Duration
	job      Job
	clock    clockwork.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New 创建调度器
func New(interval time.Duration, job Job, clock clockwork.Clock, log *zap.Logger, m *metrics.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{interval: interval, job: job, clock: clock, log: log, metrics: m}
}

// Start 启动调度，ctx 传给每次任务；ctx 取消同样会结束调度
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	go s.run(ctx, ticker, s.stop, s.done)
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, ticker clockwork.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.job(ctx)
			s.count("collected")

			// 执行期间到达的 tick 丢弃
			select {
			case <-ticker.Chan():
				s.count("skipped")
				s.log.Warn("tick overran the poll interval, next tick skipped", zap.Duration("interval", s.interval))
			default:
			}
		}
	}
}

func (s *Scheduler) count(res string) {
	if s.metrics != nil {
		s.metrics.Ticks.WithLabelValues(res).Inc()
	}
}
