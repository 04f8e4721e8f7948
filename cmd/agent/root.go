package agent

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	core "github.com/system-sensors/internal/agent"
	"github.com/system-sensors/pkg/config"
	"github.com/system-sensors/pkg/logger"
	"github.com/system-sensors/pkg/signal"
	"github.com/system-sensors/pkg/util"
)

var defaultCfg = config.NewDefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "system-sensors [settings.yaml]",
	Short: "Publish host sensors to an MQTT broker for Home Assistant",
	Long: "Periodically samples host metrics (CPU, memory, disk, temperature, network, power state, updates)\n" +
		"and publishes them with Home Assistant MQTT discovery.\n" +
		"Without an argument, settings.yaml next to the executable is used.",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var arg string
		if len(args) > 0 {
			arg = args[0]
		}
		return run(cmd.Context(), arg, cmd)
	},
}

// Execute 入口：任何致命错误（配置、鉴权）退出码为 1
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "Please check the settings file (see settings.yaml in the documentation)")
		}
		os.Exit(1)
	}
}

func init() {
	initLogFlags(rootCmd)
	initServerFlags(rootCmd)
}

func run(ctx context.Context, arg string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. 定位并加载配置
	path, err := config.ResolvePath(arg)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}

	// 2. 初始化日志
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	util.PrintBanner(os.Stdout, "system-sensors", "ColorCyan", "device: "+cfg.DeviceName+" ("+cfg.DeviceID()+")")
	log.Info("configuration loaded",
		zap.String("path", path),
		zap.String("broker", cfg.MQTT.Addr()),
		zap.Duration("interval", cfg.Interval()),
		zap.String("level", cfg.Log.Level))
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	// 3. 组装并运行
	a, err := core.New(cfg, log, core.WithProcessMetrics(true))
	if err != nil {
		log.Error("agent initialization failed", zap.Error(err))
		return err
	}

	sigs, stop := signal.Shutdown()
	defer stop()

	if err := a.Run(ctx, sigs); err != nil {
		log.Error("agent stopped with error", zap.Error(err))
		return err
	}
	log.Info("agent stopped")
	return nil
}
