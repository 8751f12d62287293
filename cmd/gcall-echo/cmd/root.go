package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// DefaultConfigFilename 默认配置文件.
const DefaultConfigFilename = "gcall.yaml"

var (
	// configPath 配置文件路径.
	configPath string

	// rootCmd 根命令.
	rootCmd = &cobra.Command{
		Use:   "gcall-echo",
		Short: "Echo server and client built on gcall.",
		Long: `gcall-echo runs an echo server or issues unary calls against one.

Both sides read their settings from a YAML configuration file:
the "server" section for serve, the "channel" section for call.`,
	}
)

// Execute 运行命令, 出错时以非零状态退出.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // cobra 命令注册.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigFilename, "path to configuration file")
	rootCmd.AddCommand(serveCmd, callCmd)
}
