// Package model provides data models for the alerting engine.
package model

import "time"

// HistoryExport is the input of history reports.
type HistoryExport struct {
	Since       time.Time             `json:"since"`        // 导出起点
	GeneratedAt time.Time             `json:"generated_at"` // 生成时间
	Alerts      []*Alert              `json:"alerts"`       // 告警
	Records     []*NotificationRecord `json:"records"`      // 通知记录
	Summary     *AlertSummary         `json:"summary"`      // 告警统计
	Version     string                `json:"version,omitempty"`
}

// NewHistoryExport builds an export and its alert summary.
func NewHistoryExport(alerts []*Alert, records []*NotificationRecord, since, generatedAt time.Time) *HistoryExport {
	return &HistoryExport{
		Since:       since,
		GeneratedAt: generatedAt,
		Alerts:      alerts,
		Records:     records,
		Summary:     NewAlertSummary(alerts),
	}
}

// CountByStatus returns how many records have each notification status.
func (h *HistoryExport) CountByStatus() map[NotificationStatus]int {
	counts := make(map[NotificationStatus]int, 4)
	for _, r := range h.Records {
		counts[r.Status]++
	}
	return counts
}
