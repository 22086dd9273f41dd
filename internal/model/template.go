// Package model provides data models for the alerting engine.
package model

// TemplateFormat tells the renderer how to escape substituted values.
type TemplateFormat string

const (
	FormatText     TemplateFormat = "text"
	FormatMarkdown TemplateFormat = "markdown"
	FormatHTML     TemplateFormat = "html"
	FormatJSON     TemplateFormat = "json"
)

// NotificationTemplate is a channel-specific message layout.
type NotificationTemplate struct {
	Name            string         `yaml:"name" json:"name"`                         // 模板名称
	AlertType       AlertType      `yaml:"alert_type" json:"alert_type"`             // 告警类型（custom 为通用）
	Severity        Severity       `yaml:"severity" json:"severity"`                 // 告警级别
	ChannelType     ChannelType    `yaml:"channel_type" json:"channel_type"`         // 渠道类型
	SubjectTemplate string         `yaml:"subject" json:"subject"`                   // 标题模板
	BodyTemplate    string         `yaml:"body" json:"body"`                         // 正文模板
	Format          TemplateFormat `yaml:"format,omitempty" json:"format,omitempty"` // 输出格式
}

// TemplateKey identifies a template slot.
type TemplateKey struct {
	AlertType   AlertType
	Severity    Severity
	ChannelType ChannelType
}

// Key returns the slot this template fills.
func (t *NotificationTemplate) Key() TemplateKey {
	return TemplateKey{AlertType: t.AlertType, Severity: t.Severity, ChannelType: t.ChannelType}
}
