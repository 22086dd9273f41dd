// Package model provides data models for the alerting engine.
package model

import "time"

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	StartedAt  time.Time     `json:"started_at"`  // 开始时间
	FinishedAt time.Time     `json:"finished_at"` // 结束时间
	Duration   time.Duration `json:"duration"`    // 耗时
	Evaluated  int           `json:"evaluated"`   // 评估指标数
	Missing    int           `json:"missing"`     // 缺失读数
	Raised     int           `json:"raised"`      // 新建告警
	Absorbed   int           `json:"absorbed"`    // 去重吸收
	Sent       int           `json:"sent"`        // 成功通知
	Escalated  int           `json:"escalated"`   // 升级告警
	Resolved   int           `json:"resolved"`    // 自动恢复
	Errors     int           `json:"errors"`      // 错误数
}

// HealthSummary exposes engine state and cumulative failure counts.
type HealthSummary struct {
	ActiveCount            int       `json:"active_count"`            // 活跃告警数
	CriticalCount          int       `json:"critical_count"`          // 严重告警数
	LastCycleAt            time.Time `json:"last_cycle_at"`           // 上次周期完成时间
	Cycles                 int64     `json:"cycles"`                  // 周期总数
	FailedCycles           int64     `json:"failed_cycles"`           // 失败周期数
	DroppedTriggers        int64     `json:"dropped_triggers"`        // 因重叠被丢弃的触发
	NotificationsSent      int64     `json:"notifications_sent"`      // 发送成功
	NotificationsFailed    int64     `json:"notifications_failed"`    // 发送失败
	NotificationsSkipped   int64     `json:"notifications_skipped"`   // 跳过
	NotificationsThrottled int64     `json:"notifications_throttled"` // 限流
	ConfigErrors           int64     `json:"config_errors"`           // 配置错误
	LastError              string    `json:"last_error,omitempty"`    // 最近一次周期错误
}
