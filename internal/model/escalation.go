// Package model provides data models for the alerting engine.
package model

import (
	"slices"
	"time"
)

// EscalationRule widens the audience of a long-lived active alert over time.
type EscalationRule struct {
	Name              string      `yaml:"name" json:"name"`                               // 规则名称
	SeverityFilter    []Severity  `yaml:"severities,omitempty" json:"severities"`         // 级别过滤，空表示全部
	TypeFilter        []AlertType `yaml:"types,omitempty" json:"types"`                   // 类型过滤，空表示全部
	MetricFilter      []string    `yaml:"metrics,omitempty" json:"metrics"`               // 指标过滤，空表示全部
	DelayMinutes      int         `yaml:"delay_minutes" json:"delay_minutes"`             // 每级延迟（分钟）
	MaxLevel          int         `yaml:"max_level" json:"max_level"`                     // 最高级别
	ChannelsByLevel   [][]string  `yaml:"channels_by_level" json:"channels_by_level"`     // 各级别通知渠道（索引 0 为第 1 级）
	BusinessHoursOnly bool        `yaml:"business_hours_only" json:"business_hours_only"` // 仅工作时间升级
	RequireAck        bool        `yaml:"require_ack" json:"require_ack"`                 // 确认后停止升级
}

// Matches reports whether the rule filters accept the alert.
func (r *EscalationRule) Matches(a *Alert) bool {
	if len(r.SeverityFilter) > 0 && !slices.Contains(r.SeverityFilter, a.Severity) {
		return false
	}
	if len(r.TypeFilter) > 0 && !slices.Contains(r.TypeFilter, a.Type) {
		return false
	}
	if len(r.MetricFilter) > 0 && !slices.Contains(r.MetricFilter, a.MetricName) {
		return false
	}
	return true
}

// Level returns the escalation level reached at now, 0 when not yet due.
func (r *EscalationRule) Level(createdAt, now time.Time) int {
	return EscalationLevel(createdAt, now, r.DelayMinutes, r.MaxLevel)
}

// ChannelsAt returns the channel ids configured for level (1-based).
func (r *EscalationRule) ChannelsAt(level int) []string {
	if level < 1 || level > len(r.ChannelsByLevel) {
		return nil
	}
	return r.ChannelsByLevel[level-1]
}

// Overlaps reports whether both rules can match the same alert.
// Each filter dimension overlaps when either side is empty or they share a value.
func (r *EscalationRule) Overlaps(o *EscalationRule) bool {
	return overlaps(r.SeverityFilter, o.SeverityFilter) &&
		overlaps(r.TypeFilter, o.TypeFilter) &&
		overlaps(r.MetricFilter, o.MetricFilter)
}

func overlaps[T comparable](a, b []T) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}

// EscalationLevel computes min(maxLevel, floor(elapsedMinutes / delayMinutes)).
func EscalationLevel(createdAt, now time.Time, delayMinutes, maxLevel int) int {
	if delayMinutes <= 0 || maxLevel <= 0 {
		return 0
	}
	elapsed := int(now.Sub(createdAt) / time.Minute)
	if elapsed <= 0 {
		return 0
	}
	level := elapsed / delayMinutes
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// BusinessHours describes the working-time window used by escalation rules.
type BusinessHours struct {
	Hours HourRange `json:"hours"`
	Days  []int     `json:"days"`
}

// Contains reports whether t falls within business hours.
func (b BusinessHours) Contains(t time.Time) bool {
	if !b.Hours.Contains(t.Hour()) {
		return false
	}
	return len(b.Days) == 0 || slices.Contains(b.Days, ISOWeekday(t))
}
