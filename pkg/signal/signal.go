package signal

import (
	"os"
	"os/signal"
	"syscall"
)

// Shutdown 监听退出信号（SIGINT/SIGTERM），信号以 channel 形式交给调用方协作处理
// 返回的 stop 用于取消监听
func Shutdown() (<-chan os.Signal, func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan, func() { signal.Stop(sigChan) }
}
