// Package model provides data models for the alerting engine.
package model

import "time"

// NotificationStatus is the outcome of one delivery attempt to one channel.
type NotificationStatus string

const (
	NotificationSent      NotificationStatus = "sent"      // 发送成功
	NotificationFailed    NotificationStatus = "failed"    // 发送失败
	NotificationSkipped   NotificationStatus = "skipped"   // 跳过（禁用/非生效时段/冷却中）
	NotificationThrottled NotificationStatus = "throttled" // 限流（小时上限/风暴控制）
)

// NotificationRecord is an immutable history entry.
type NotificationRecord struct {
	ID               int64              `json:"id"`                          // 记录 ID
	AlertID          string             `json:"alert_id"`                    // 告警 ID
	ChannelID        string             `json:"channel_id"`                  // 渠道 ID
	ChannelType      ChannelType        `json:"channel_type"`                // 渠道类型
	Recipient        string             `json:"recipient"`                   // 接收方
	Subject          string             `json:"subject,omitempty"`           // 标题
	Content          string             `json:"content,omitempty"`           // 正文
	Status           NotificationStatus `json:"status"`                      // 结果
	SentAt           time.Time          `json:"sent_at"`                     // 记录时间
	LatencyMs        int64              `json:"latency_ms"`                  // 耗时（毫秒）
	Attempts         int                `json:"attempts"`                    // 尝试次数
	Forced           bool               `json:"forced"`                      // 是否强制发送（升级）
	ProviderResponse string             `json:"provider_response,omitempty"` // 服务商响应
	Error            string             `json:"error,omitempty"`             // 错误信息
}
