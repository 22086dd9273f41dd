package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"alert-engine/internal/model"
)

// cycleCmd represents the cycle command.
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "执行一次评估周期",
	Long: `执行一次完整的评估周期后退出，适合由 cron 等外部调度器触发。

退出码: 0 无活跃告警，1 存在警告告警，2 存在严重告警，3 周期执行失败。`,
	Run: runOneCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runOneCycle(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	engine, closeStore := mustBuildEngine(ctx, cfg, logger)
	defer closeStore()

	fmt.Println("⏳ 开始评估...")
	res, err := engine.RunCycle(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("evaluation cycle failed")
		fmt.Fprintf(os.Stderr, "❌ 评估周期失败: %v\n", err)
		closeStore()
		os.Exit(3)
	}
	printCycleResult(res)

	health, err := engine.GetHealthSummary(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read health summary")
		return
	}
	fmt.Printf("\n📊 活跃告警 %d 条（严重 %d 条）\n", health.ActiveCount, health.CriticalCount)

	exitCode := 0
	if health.CriticalCount > 0 {
		exitCode = 2
	} else if health.ActiveCount > 0 {
		exitCode = 1
	}
	if exitCode > 0 {
		closeStore()
		os.Exit(exitCode)
	}
}

// printCycleResult prints a one-cycle summary.
func printCycleResult(res *model.CycleResult) {
	fmt.Println("\n📋 评估结果:")
	fmt.Printf("   评估指标: %d（缺失读数 %d）\n", res.Evaluated, res.Missing)
	fmt.Printf("   新建告警: %d，合并: %d\n", res.Raised, res.Absorbed)
	fmt.Printf("   通知成功: %d，升级: %d，自动恢复: %d\n", res.Sent, res.Escalated, res.Resolved)
	if res.Errors > 0 {
		fmt.Printf("   ⚠️  错误: %d\n", res.Errors)
	}
	fmt.Printf("⏱️  耗时 %.1fs\n", res.Duration.Seconds())
}
