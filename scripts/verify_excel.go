//go:build ignore
// +build ignore

// This script generates a sample alert history report for manual verification.
// Run with: go run scripts/verify_excel.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"alert-engine/internal/model"
	"alert-engine/internal/report"
)

func main() {
	tz, _ := time.LoadLocation("Asia/Shanghai")
	data := createSampleData(tz)

	registry := report.NewRegistry(tz, "")
	for _, format := range registry.GetAll() {
		writer, _ := registry.Get(format)
		ext := ".html"
		if format == "excel" {
			ext = ".xlsx"
		}
		outputPath := filepath.Join(".", "sample_alert_history"+ext)
		if err := writer.Write(data, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s report: %v\n", format, err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s report generated: %s\n", format, outputPath)
	}

	fmt.Println("\nReport contents:")
	fmt.Println("  - 告警概览: Alert and notification counts")
	fmt.Println("  - 告警明细: Alerts, critical first")
	fmt.Println("  - 通知记录: Notification records in write order")
	fmt.Println("\nPlease open the files to verify:")
	fmt.Println("  - Time is in Asia/Shanghai timezone")
	fmt.Println("  - Warning cells have yellow background")
	fmt.Println("  - Critical cells have red background")
	fmt.Println("  - Failed and throttled records are highlighted")
}

func createSampleData(tz *time.Location) *model.HistoryExport {
	now := time.Now().In(tz)
	resolvedAt := now.Add(-20 * time.Minute)
	ackedAt := now.Add(-50 * time.Minute)

	alerts := []*model.Alert{
		{
			ID: "7f3c0a52-0001", Type: model.AlertTypeThreshold, MetricName: "cpu_usage_percent",
			Severity: model.SeverityWarning, Value: 84.2, ThresholdValue: 80,
			Title: "CPU 使用率 warning", Status: model.AlertStatusResolved,
			CreatedAt: now.Add(-2 * time.Hour), ResolvedAt: &resolvedAt, ResolvedBy: model.ResolvedByAuto,
			NotifiedChannels: []string{"ops-chat"}, NotificationSent: true,
		},
		{
			ID: "7f3c0a52-0002", Type: model.AlertTypeThreshold, MetricName: "memory_usage_percent",
			Severity: model.SeverityCritical, Value: 96.5, ThresholdValue: 95,
			Title: "内存使用率 critical", Status: model.AlertStatusActive,
			CreatedAt: now.Add(-90 * time.Minute), AcknowledgedAt: &ackedAt, AcknowledgedBy: "zhangsan",
			NotifiedChannels: []string{"ops-chat", "ops-mail", "oncall-sms"}, NotificationSent: true,
		},
		{
			ID: "7f3c0a52-0003", Type: model.AlertTypeFloodEscalation, MetricName: "disk_free_percent",
			Severity: model.SeverityCritical, Title: "Notification flood on disk_free_percent",
			Status: model.AlertStatusActive, CreatedAt: now.Add(-30 * time.Minute),
			NotifiedChannels: []string{}, NotificationSent: false,
		},
	}

	records := []*model.NotificationRecord{
		{ID: 1, AlertID: "7f3c0a52-0001", ChannelID: "ops-chat", ChannelType: model.ChannelChat,
			Recipient: "https://chat.example.com/hooks/ops", Subject: "[warning] CPU 使用率 warning",
			Status: model.NotificationSent, SentAt: now.Add(-2 * time.Hour), LatencyMs: 120, Attempts: 1},
		{ID: 2, AlertID: "7f3c0a52-0002", ChannelID: "ops-mail", ChannelType: model.ChannelEmail,
			Recipient: "ops@example.com", Subject: "[严重] 内存使用率 critical",
			Status: model.NotificationFailed, SentAt: now.Add(-90 * time.Minute), LatencyMs: 10000, Attempts: 3,
			Error: "dial tcp: i/o timeout"},
		{ID: 3, AlertID: "7f3c0a52-0002", ChannelID: "oncall-sms", ChannelType: model.ChannelSMS,
			Recipient: "+8613800000000", Subject: "[严重] 内存使用率 critical",
			Status: model.NotificationSent, SentAt: now.Add(-60 * time.Minute), LatencyMs: 340, Attempts: 1, Forced: true},
		{ID: 4, AlertID: "7f3c0a52-0003", ChannelID: "ops-chat", ChannelType: model.ChannelChat,
			Recipient: "https://chat.example.com/hooks/ops", Status: model.NotificationThrottled,
			SentAt: now.Add(-30 * time.Minute), Error: "flood control"},
	}

	data := model.NewHistoryExport(alerts, records, now.Add(-24*time.Hour), now)
	data.Version = "dev"
	return data
}
