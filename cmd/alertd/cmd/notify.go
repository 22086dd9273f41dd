package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"alert-engine/internal/model"
)

var testMessage string // --message

// notifyCmd groups notification channel commands.
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "通知渠道管理",
}

var notifyChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "列出通知渠道",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := loadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		engine, closeStore := mustBuildEngine(ctx, cfg, logger)
		defer closeStore()

		channels := engine.Channels()
		if len(channels) == 0 {
			fmt.Println("⚠️  未配置通知渠道")
			return
		}
		fmt.Printf("%-20s  %-8s  %-6s  %-4s  %s\n", "ID", "类型", "启用", "优先级", "名称")
		for _, ch := range channels {
			enabled := "否"
			if ch.Enabled {
				enabled = "是"
			}
			fmt.Printf("%-20s  %-8s  %-6s  %-4d  %s\n", ch.ID, ch.Type, enabled, ch.Priority, ch.Name)
		}
	},
}

var notifyTestCmd = &cobra.Command{
	Use:   "test <channel-id>",
	Short: "向指定渠道发送测试通知",
	Long: `向指定渠道直接发送一条测试通知，不检查渠道启停、生效时段、冷却时间和限流。
发送结果会写入通知记录。

示例:
  alertd notify test ops-mail --message "链路测试"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := loadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		engine, closeStore := mustBuildEngine(ctx, cfg, logger)
		defer closeStore()

		channelID := args[0]
		fmt.Printf("📨 发送测试通知到 %s...\n", channelID)
		rec, err := engine.SendTestNotification(ctx, channelID, testMessage)
		if err != nil {
			logger.Error().Err(err).Str("channel", channelID).Msg("test notification failed")
			fmt.Fprintf(os.Stderr, "❌ 测试通知发送失败: %v\n", err)
			closeStore()
			os.Exit(1)
		}
		if rec.Status != model.NotificationSent {
			fmt.Fprintf(os.Stderr, "❌ 测试通知未发送: %s %s\n", rec.Status, rec.Error)
			closeStore()
			os.Exit(1)
		}
		fmt.Printf("✅ 测试通知已发送（%d 次尝试，耗时 %dms）\n", rec.Attempts, rec.LatencyMs)
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyChannelsCmd, notifyTestCmd)

	notifyTestCmd.Flags().StringVarP(&testMessage, "message", "m", "", "测试消息内容")
}
