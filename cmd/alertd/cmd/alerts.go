package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"alert-engine/internal/model"
)

// Command flags
var (
	filterMetric   string // --metric
	filterSeverity string // --severity
	filterType     string // --type
	outputJSON     bool   // --json
	operator       string // --by
)

// alertsCmd groups alert query and admin commands.
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "查询和处理告警",
	Long: `查询活跃告警，确认或手动关闭告警。

示例:
  # 列出所有严重告警
  alertd alerts list --severity critical

  # 确认告警
  alertd alerts ack <alert-id> --by zhangsan

  # 手动关闭告警
  alertd alerts resolve <alert-id> --by zhangsan`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出活跃告警",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := loadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		engine, closeStore := mustBuildEngine(ctx, cfg, logger)
		defer closeStore()

		alerts, err := engine.ListActiveAlerts(ctx, model.AlertFilter{
			MetricName: filterMetric,
			Severity:   model.Severity(filterSeverity),
			Type:       model.AlertType(filterType),
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to list alerts")
			fmt.Fprintf(os.Stderr, "❌ 查询告警失败: %v\n", err)
			closeStore()
			os.Exit(1)
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(alerts)
			return
		}

		if len(alerts) == 0 {
			fmt.Println("✅ 无活跃告警")
			return
		}
		loc := cfg.Engine.Location()
		fmt.Printf("%-36s  %-8s  %-24s  %10s  %-19s  %s\n", "ID", "级别", "指标", "触发值", "创建时间", "确认")
		for _, a := range alerts {
			acked := "-"
			if a.IsAcknowledged() {
				acked = a.AcknowledgedBy
			}
			fmt.Printf("%-36s  %-8s  %-24s  %10.2f  %-19s  %s\n",
				a.ID, a.Severity, a.MetricName, a.Value,
				a.CreatedAt.In(loc).Format("2006-01-02 15:04:05"), acked)
		}
		fmt.Printf("\n共 %d 条活跃告警\n", len(alerts))
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "确认告警",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAlertAction(args[0], "确认", func(ctx context.Context, a alertActor, id string) error {
			return a.AcknowledgeAlert(ctx, id, operator)
		})
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "手动关闭告警",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAlertAction(args[0], "关闭", func(ctx context.Context, a alertActor, id string) error {
			return a.ResolveAlert(ctx, id, operator)
		})
	},
}

// alertActor is the part of the engine used by ack/resolve.
type alertActor interface {
	AcknowledgeAlert(ctx context.Context, id, by string) error
	ResolveAlert(ctx context.Context, id, by string) error
}

func runAlertAction(id, verb string, action func(ctx context.Context, a alertActor, id string) error) {
	if operator == "" {
		fmt.Fprintln(os.Stderr, "❌ 必须通过 --by 指定操作人")
		os.Exit(1)
	}

	cfg, logger := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	engine, closeStore := mustBuildEngine(ctx, cfg, logger)
	defer closeStore()

	if err := action(ctx, engine, id); err != nil {
		logger.Error().Err(err).Str("alert_id", id).Msg("alert action failed")
		fmt.Fprintf(os.Stderr, "❌ %s告警失败: %v\n", verb, err)
		closeStore()
		os.Exit(1)
	}
	fmt.Printf("✅ 已%s告警 %s\n", verb, id)
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd)

	alertsListCmd.Flags().StringVar(&filterMetric, "metric", "", "按指标名称过滤")
	alertsListCmd.Flags().StringVar(&filterSeverity, "severity", "", "按级别过滤 (warning, critical)")
	alertsListCmd.Flags().StringVar(&filterType, "type", "", "按类型过滤 (threshold, flood_escalation, custom)")
	alertsListCmd.Flags().BoolVar(&outputJSON, "json", false, "以 JSON 格式输出")

	for _, c := range []*cobra.Command{alertsAckCmd, alertsResolveCmd} {
		c.Flags().StringVar(&operator, "by", "", "操作人")
	}
}
