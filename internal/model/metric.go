// Package model provides data models for the alerting engine.
package model

import "time"

// MetricReading is the latest observed value of a named metric.
// Readings are produced once per cycle and are not persisted.
type MetricReading struct {
	Name       string    `json:"name"`        // 指标名称
	Value      float64   `json:"value"`       // 当前值
	ObservedAt time.Time `json:"observed_at"` // 采集时间
}

// NewMetricReading creates a MetricReading observed at the given time.
func NewMetricReading(name string, value float64, observedAt time.Time) MetricReading {
	return MetricReading{
		Name:       name,
		Value:      value,
		ObservedAt: observedAt,
	}
}
