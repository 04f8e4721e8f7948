package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/system-sensors/pkg/config"
)

// FilePattern 日志文件按天滚动
const FilePattern = "system-sensors-%Y%m%d.log"

// New 创建日志实例：控制台（彩色 console 或 json）+ 按天滚动的 JSON 文件
func New(cfg config.ZapLogConfig) (*zap.Logger, error) {
	return newWithConsole(cfg, os.Stdout)
}

func newWithConsole(cfg config.ZapLogConfig, console io.Writer) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(24 * time.Hour),
		rotatelogs.WithRotationSize(int64(cfg.MaxSize) * 1024 * 1024),
	}
	if cfg.MaxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour))
	}
	writer, err := rotatelogs.New(filepath.Join(cfg.Path, FilePattern), opts...)
	if err != nil {
		return nil, fmt.Errorf("open rotating log file: %w", err)
	}

	var consoleEncoder zapcore.Encoder
	if cfg.Format == "json" {
		consoleEncoder = zapcore.NewJSONEncoder(jsonEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(console), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.AddSync(writer), level),
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync 刷盘，忽略 stdout 不支持 fsync 的错误
func Sync(l *zap.Logger) error {
	if l == nil {
		return nil
	}
	err := l.Sync()
	if err != nil && strings.Contains(err.Error(), "/dev/stdout") {
		return nil
	}
	return err
}

func consoleEncoderCfgTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
}

func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var levelStr string
	switch level {
	case zapcore.DebugLevel:
		levelStr = "\033[36mDEBUG\033[0m"
	case zapcore.InfoLevel:
		levelStr = "\033[32mINFO \033[0m"
	case zapcore.WarnLevel:
		levelStr = "\033[33mWARN \033[0m"
	case zapcore.ErrorLevel:
		levelStr = "\033[31mERROR\033[0m"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
	default:
		levelStr = "UNK  "
	}
	enc.AppendString(levelStr)
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	c := zap.NewDevelopmentEncoderConfig()
	c.ConsoleSeparator = " "
	c.EncodeLevel = coloredLevelEncoder
	c.EncodeTime = consoleEncoderCfgTime
	// Caller 两级路径
	c.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(caller.File)), filepath.Base(caller.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, caller.Line))
	}
	return c
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	c := zap.NewProductionEncoderConfig()
	c.TimeKey = "timestamp"
	c.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
	}
	c.EncodeLevel = zapcore.LowercaseLevelEncoder
	return c
}
