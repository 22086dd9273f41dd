// Package model provides data models for the alerting engine.
package model

import (
	"slices"
	"time"
)

// Severity represents the severity of an alert.
type Severity string

const (
	SeverityNone     Severity = ""         // 未越限
	SeverityWarning  Severity = "warning"  // 警告
	SeverityCritical Severity = "critical" // 严重
)

// IsValid reports whether s is warning or critical.
func (s Severity) IsValid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"     // 活跃
	AlertStatusResolved   AlertStatus = "resolved"   // 已恢复
	AlertStatusSuppressed AlertStatus = "suppressed" // 已抑制
)

// AlertType classifies what produced an alert.
type AlertType string

const (
	AlertTypeThreshold       AlertType = "threshold"        // 阈值越限
	AlertTypeFloodEscalation AlertType = "flood_escalation" // 告警风暴升级
	AlertTypeCustom          AlertType = "custom"           // 通用/自定义
)

// ResolvedByAuto is the resolver name recorded by the auto-resolver.
const ResolvedByAuto = "auto"

// Alert is the canonical state of a raised alert.
type Alert struct {
	ID               string            `json:"id"`                        // 告警 ID
	Type             AlertType         `json:"type"`                      // 告警类型
	MetricName       string            `json:"metric_name"`               // 指标名称
	Severity         Severity          `json:"severity"`                  // 告警级别
	Value            float64           `json:"value"`                     // 触发值
	ThresholdValue   float64           `json:"threshold_value"`           // 触发阈值
	Title            string            `json:"title"`                     // 标题
	Description      string            `json:"description"`               // 描述
	Status           AlertStatus       `json:"status"`                    // 状态
	CreatedAt        time.Time         `json:"created_at"`                // 创建时间
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`     // 恢复时间
	ResolvedBy       string            `json:"resolved_by,omitempty"`     // 恢复人（auto 表示自动恢复）
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty"` // 确认时间
	AcknowledgedBy   string            `json:"acknowledged_by,omitempty"` // 确认人
	NotifiedChannels []string          `json:"notified_channels"`         // 已通知渠道
	NotificationSent bool              `json:"notification_sent"`         // 是否已成功发送通知
	Tags             map[string]string `json:"tags,omitempty"`            // 附加标签
}

// IsActive returns true if the alert is still active.
func (a *Alert) IsActive() bool {
	return a.Status == AlertStatusActive
}

// IsCritical returns true if this alert is at critical level.
func (a *Alert) IsCritical() bool {
	return a.Severity == SeverityCritical
}

// IsAcknowledged returns true once an operator acknowledged the alert.
func (a *Alert) IsAcknowledged() bool {
	return a.AcknowledgedAt != nil
}

// Age returns how long the alert has existed at now.
func (a *Alert) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

// HasNotifiedAll reports whether every channel in ids was already notified.
func (a *Alert) HasNotifiedAll(ids []string) bool {
	for _, id := range ids {
		if !slices.Contains(a.NotifiedChannels, id) {
			return false
		}
	}
	return true
}

// AddNotifiedChannels appends ids that are not yet recorded.
func (a *Alert) AddNotifiedChannels(ids []string) {
	for _, id := range ids {
		if !slices.Contains(a.NotifiedChannels, id) {
			a.NotifiedChannels = append(a.NotifiedChannels, id)
		}
	}
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	c.NotifiedChannels = slices.Clone(a.NotifiedChannels)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.Tags != nil {
		c.Tags = make(map[string]string, len(a.Tags))
		for k, v := range a.Tags {
			c.Tags[k] = v
		}
	}
	return &c
}

// AlertFilter narrows ListActive queries. Zero values match everything.
type AlertFilter struct {
	MetricName string    `json:"metric_name,omitempty"`
	Severity   Severity  `json:"severity,omitempty"`
	Type       AlertType `json:"type,omitempty"`
}

// Matches reports whether the alert satisfies the filter.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.MetricName != "" && a.MetricName != f.MetricName {
		return false
	}
	if f.Severity != SeverityNone && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return true
}

// AlertSummary provides aggregated alert statistics.
type AlertSummary struct {
	TotalAlerts   int `json:"total_alerts"`   // 告警总数
	WarningCount  int `json:"warning_count"`  // 警告级别数量
	CriticalCount int `json:"critical_count"` // 严重级别数量
}

// NewAlertSummary creates a new AlertSummary from a list of alerts.
func NewAlertSummary(alerts []*Alert) *AlertSummary {
	summary := &AlertSummary{}
	for _, alert := range alerts {
		if alert == nil {
			continue
		}
		summary.TotalAlerts++
		switch alert.Severity {
		case SeverityWarning:
			summary.WarningCount++
		case SeverityCritical:
			summary.CriticalCount++
		}
	}
	return summary
}
