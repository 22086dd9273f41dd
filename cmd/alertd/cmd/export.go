package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"alert-engine/internal/model"
	"alert-engine/internal/report"
)

// Command flags
var (
	exportSince   time.Duration // Look-back period
	exportFormats []string      // Output formats (excel, html)
	exportDir     string        // Output directory
	htmlTemplate  string        // Custom HTML template
)

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "导出告警历史报告",
	Long: `导出指定时间段内创建的告警及通知记录，生成 Excel 和 HTML 报告。

示例:
  # 导出最近 24 小时
  alertd export -c config.yaml

  # 导出最近 7 天，仅生成 Excel
  alertd export -c config.yaml --since 168h -f excel -o ./reports`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().DurationVar(&exportSince, "since", 24*time.Hour, "导出时间范围（从当前时间往前）")
	exportCmd.Flags().StringSliceVarP(&exportFormats, "format", "f", nil, "输出格式 (excel,html)，可用逗号分隔多个")
	exportCmd.Flags().StringVarP(&exportDir, "output", "o", "", "输出目录")
	exportCmd.Flags().StringVar(&htmlTemplate, "html-template", "", "自定义 HTML 模板路径")
}

func runExport(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig()

	outputFormats := cfg.Report.Formats
	if len(exportFormats) > 0 {
		outputFormats = exportFormats
	}
	outputPath := cfg.Report.OutputDir
	if exportDir != "" {
		outputPath = exportDir
	}
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		logger.Error().Err(err).Str("path", outputPath).Msg("failed to create output directory")
		fmt.Fprintf(os.Stderr, "❌ 创建输出目录失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	engine, closeStore := mustBuildEngine(ctx, cfg, logger)
	defer closeStore()

	loc := cfg.Engine.Location()
	now := time.Now().In(loc)
	since := now.Add(-exportSince)

	alerts, records, err := engine.ExportData(ctx, since)
	if err != nil {
		logger.Error().Err(err).Msg("failed to export data")
		fmt.Fprintf(os.Stderr, "❌ 读取告警历史失败: %v\n", err)
		closeStore()
		os.Exit(1)
	}
	data := model.NewHistoryExport(alerts, records, since, now)
	data.Version = Version
	fmt.Printf("📊 %s 以来共 %d 条告警，%d 条通知记录\n",
		since.Format("2006-01-02 15:04"), len(alerts), len(records))

	fmt.Println("\n📄 生成报告:")
	registry := report.NewRegistry(loc, htmlTemplate)
	filenameBase := "alert-history-" + now.Format("20060102-150405")
	failed := 0
	for _, format := range outputFormats {
		writer, err := registry.Get(format)
		if err != nil {
			logger.Error().Str("format", format).Msg("unsupported format")
			fmt.Fprintf(os.Stderr, "   ❌ 不支持的格式: %s\n", format)
			failed++
			continue
		}

		ext := "." + writer.Format()
		if writer.Format() == "excel" {
			ext = ".xlsx"
		}
		reportPath := filepath.Join(outputPath, filenameBase+ext)
		if err := writer.Write(data, reportPath); err != nil {
			logger.Error().Err(err).Str("format", format).Str("path", reportPath).Msg("failed to generate report")
			fmt.Fprintf(os.Stderr, "   ❌ %s 报告生成失败: %v\n", format, err)
			failed++
			continue
		}

		logger.Info().Str("format", format).Str("path", reportPath).Msg("report generated successfully")
		fmt.Printf("   ✅ %s\n", reportPath)
	}

	if failed > 0 {
		closeStore()
		os.Exit(1)
	}
}
