// Package model provides data models for the alerting engine.
package model

import "time"

// FloodControlWindow tracks notification volume for one (metric, channel type) pair.
type FloodControlWindow struct {
	MetricName          string      `json:"metric_name"`           // 指标名称
	ChannelType         ChannelType `json:"channel_type"`          // 渠道类型
	WindowStart         time.Time   `json:"window_start"`          // 窗口起点
	CountInWindow       int         `json:"count_in_window"`       // 窗口内尝试次数
	EscalatedThisWindow bool        `json:"escalated_this_window"` // 本窗口是否已升级
	LastSeen            time.Time   `json:"last_seen"`             // 最近一次访问
}
