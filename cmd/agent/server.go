package agent

import (
	"github.com/spf13/cobra"
)

func initServerFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String(
		"metrics.addr",
		defaultCfg.Metrics.Addr,
		"-> Self-metrics HTTP listen address (ip:port), empty disables | 指标服务监听地址")
}
