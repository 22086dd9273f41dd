// Package model provides data models for the alerting engine.
package model

import "time"

// ComparisonMode tells the evaluator which direction of a metric is bad.
type ComparisonMode string

const (
	ComparisonGreaterIsBad ComparisonMode = "greater_is_bad" // 值越大越严重（CPU、内存）
	ComparisonLowerIsBad   ComparisonMode = "lower_is_bad"   // 值越小越严重（缓存命中率）
)

// IsValid reports whether the mode is one of the known comparison modes.
func (m ComparisonMode) IsValid() bool {
	return m == ComparisonGreaterIsBad || m == ComparisonLowerIsBad
}

// AlertThreshold configures when a metric breach raises an alert.
type AlertThreshold struct {
	MetricName                  string         `yaml:"metric_name" json:"metric_name"`                                       // 指标唯一标识
	DisplayName                 string         `yaml:"display_name" json:"display_name"`                                     // 显示名称
	Query                       string         `yaml:"query,omitempty" json:"query,omitempty"`                               // PromQL 查询表达式，为空时使用指标名
	WarningLevel                float64        `yaml:"warning" json:"warning"`                                               // 警告阈值
	CriticalLevel               float64        `yaml:"critical" json:"critical"`                                             // 严重阈值
	ComparisonMode              ComparisonMode `yaml:"comparison" json:"comparison"`                                         // 比较方向
	Enabled                     bool           `yaml:"enabled" json:"enabled"`                                               // 是否启用
	RequiredConsecutiveBreaches int            `yaml:"required_consecutive_breaches" json:"required_consecutive_breaches"` // 连续越限次数
	AutoResolve                 bool           `yaml:"auto_resolve" json:"auto_resolve"`                                     // 是否自动恢复
	AutoResolveAfter            time.Duration  `yaml:"auto_resolve_after" json:"auto_resolve_after"`                         // 自动恢复等待时长
	NotificationChannels        []string       `yaml:"channels" json:"channels"`                                             // 通知渠道 ID 列表
}

// QueryExpr returns the metric source query for this threshold.
func (t *AlertThreshold) QueryExpr() string {
	if t.Query != "" {
		return t.Query
	}
	return t.MetricName
}

// RequiredBreaches returns the effective consecutive breach count (at least 1).
func (t *AlertThreshold) RequiredBreaches() int {
	if t.RequiredConsecutiveBreaches < 1 {
		return 1
	}
	return t.RequiredConsecutiveBreaches
}

// Label returns the display name, falling back to the metric name.
func (t *AlertThreshold) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.MetricName
}

// LevelFor returns the threshold value that corresponds to the given severity.
func (t *AlertThreshold) LevelFor(severity Severity) float64 {
	if severity == SeverityCritical {
		return t.CriticalLevel
	}
	return t.WarningLevel
}
