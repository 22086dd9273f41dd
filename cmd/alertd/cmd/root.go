// Package cmd provides CLI commands for the alerting engine.
package cmd

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, injected at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Global flags
var (
	cfgFile  string // Config file path
	logLevel string // Log level
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "alertd",
	Short: "指标阈值告警引擎 - 越限检测、去重、通知与升级",
	Long: `alertd 周期性地从 VictoriaMetrics 读取指标最新值，与配置的阈值比较，
生成去重后的告警，并通过邮件、聊天、短信和 Webhook 渠道发送通知。

数据流: VictoriaMetrics → 阈值评估 → 告警存储 → 通知分发 → 升级/自动恢复

主要功能:
  - 按指标配置警告/严重阈值及连续越限次数
  - 去重窗口内合并重复告警
  - 渠道级生效时段、冷却时间、每小时上限与告警风暴控制
  - 按告警持续时间逐级升级，恢复后自动关闭
  - 导出 Excel 和 HTML 格式的告警历史`,
	Version: Version,
	// Run displays help when called without any subcommands
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "日志级别 (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// GetConfigFile returns the config file path from command line flag.
func GetConfigFile() string {
	return cfgFile
}

// GetLogLevel returns the log level from command line flag.
func GetLogLevel() string {
	return logLevel
}

// GetVersionInfo returns formatted version information.
func GetVersionInfo() string {
	return Version + "\n" +
		"Build Time: " + BuildTime + "\n" +
		"Git Commit: " + GitCommit + "\n" +
		"Go Version: " + runtime.Version() + "\n" +
		"OS/Arch: " + runtime.GOOS + "/" + runtime.GOARCH
}
