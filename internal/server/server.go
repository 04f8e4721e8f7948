// Package server 提供自监控 HTTP 服务：Prometheus 指标、基于 broker 会话状态的健康检查、优雅关闭。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// httpShutdownTimeout 优雅关闭超时时间
const httpShutdownTimeout = 5 * time.Second

// HealthFunc 返回 true 表示健康（broker 会话已连接）
type HealthFunc func() bool

// HTTPServer 封装监听地址、HTTP 服务与指标注册器
// 端点：/metrics、/health、/
type HTTPServer struct {
	addr     string
	server   *http.Server
	listener net.Listener
	log      *zap.Logger
}

// statusWriter 包装 http.ResponseWriter，捕获响应状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// NewHTTPServer 创建 HTTP 服务
//  1. /metrics：registry 中的自监控指标
//  2. /health：会话已连接返回 200，否则 503
//  3. /：服务名
func NewHTTPServer(addr string, registry *prometheus.Registry, health HealthFunc, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HTTPServer{addr: addr, log: log}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(registry, health),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Handler 路由（测试用）
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes(registry *prometheus.Registry, health HealthFunc) http.Handler {
	mux := http.NewServeMux()

	logRequest := func(r *http.Request, msg string, statusCode int, start time.Time) {
		s.log.Debug(msg,
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	}

	metrics := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.log),
	})
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		metrics.ServeHTTP(ww, r)
		logRequest(r, "metrics request received", ww.status, start)
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if health == nil || health() {
			ww.WriteHeader(http.StatusOK)
			_, _ = ww.Write([]byte("OK"))
		} else {
			ww.WriteHeader(http.StatusServiceUnavailable)
			_, _ = ww.Write([]byte("broker not connected"))
		}
		logRequest(r, "health check received", ww.status, start)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("system-sensors"))
	})
	return mux
}

// Start 监听并在后台提供服务；监听失败同步返回
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Duration("read_timeout", s.server.ReadTimeout),
		zap.Duration("write_timeout", s.server.WriteTimeout),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped unexpectedly", zap.Error(err), zap.String("listen_addr", s.addr))
		}
	}()
	return nil
}

// Addr 实际监听地址（端口为 0 时由系统分配）
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭，超时视为完成
func (s *HTTPServer) Shutdown() error {
	if s.listener == nil {
		return nil
	}
	s.log.Info("starting graceful shutdown of HTTP server", zap.String("listen_addr", s.Addr()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
			return nil
		}
		s.log.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("HTTP server shutdown successfully")
	return nil
}
