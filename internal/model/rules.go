// Package model provides data models for the alerting engine.
package model

// RuleSet is the configuration consumed by the engine, loaded from rules.yaml.
type RuleSet struct {
	Thresholds      []*AlertThreshold       `yaml:"thresholds" json:"thresholds"`             // 阈值配置
	Channels        []*NotificationChannel  `yaml:"channels" json:"channels"`                 // 通知渠道
	Templates       []*NotificationTemplate `yaml:"templates" json:"templates"`               // 通知模板
	EscalationRules []*EscalationRule       `yaml:"escalation_rules" json:"escalation_rules"` // 升级规则
	TemplateContext map[string]string       `yaml:"template_context" json:"template_context"` // 模板附加变量
}

// EnabledThresholds returns thresholds with Enabled set.
func (r *RuleSet) EnabledThresholds() []*AlertThreshold {
	out := make([]*AlertThreshold, 0, len(r.Thresholds))
	for _, t := range r.Thresholds {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// ThresholdByMetric returns the threshold for a metric, or nil.
func (r *RuleSet) ThresholdByMetric(name string) *AlertThreshold {
	for _, t := range r.Thresholds {
		if t.MetricName == name {
			return t
		}
	}
	return nil
}
