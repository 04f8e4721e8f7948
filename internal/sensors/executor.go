package sensors

import (
	"context"
	"os/exec"

	"go.uber.org/zap"
)

// CommandExecutor 外部命令执行（vcgencmd、apt-get、iwgetid）
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args ...string) ([]byte, error)
}

// SystemCommandExecutor 基于 os/exec 的实现
type SystemCommandExecutor struct {
	logger *zap.Logger
}

func NewSystemCommandExecutor(logger *zap.Logger) *SystemCommandExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemCommandExecutor{logger: logger}
}

// Execute 执行命令并返回标准输出，ctx 取消时进程被终止
func (e *SystemCommandExecutor) Execute(ctx context.Context, command string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	e.logger.Debug("Executing command",
		zap.String("command", command),
		zap.Strings("args", args),
	)

	output, err := cmd.Output()
	if err != nil {
		e.logger.Debug("Command execution failed",
			zap.String("command", command),
			zap.Strings("args", args),
			zap.Error(err),
		)
		return nil, err
	}
	return output, nil
}
