// Package model provides data models for the alerting engine.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ChannelType identifies the delivery mechanism of a notification channel.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"   // 邮件
	ChannelChat    ChannelType = "chat"    // 即时通讯（Webhook 机器人）
	ChannelSMS     ChannelType = "sms"     // 短信
	ChannelWebhook ChannelType = "webhook" // 通用 Webhook
)

// IsValid reports whether t is a supported channel type.
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelEmail, ChannelChat, ChannelSMS, ChannelWebhook:
		return true
	}
	return false
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port" json:"smtp_port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"-"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// ChatConfig holds an incoming-webhook URL of a chat system (Slack compatible payload).
type ChatConfig struct {
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
	Channel    string `yaml:"channel,omitempty" json:"channel,omitempty"`
	Username   string `yaml:"username,omitempty" json:"username,omitempty"`
}

// SMSConfig holds the HTTP API settings of an SMS provider.
type SMSConfig struct {
	Endpoint string   `yaml:"endpoint" json:"endpoint"`
	APIKey   string   `yaml:"api_key" json:"-"`
	Sender   string   `yaml:"sender" json:"sender"`
	Numbers  []string `yaml:"numbers" json:"numbers"`
}

// WebhookConfig holds settings of a generic HTTP webhook.
type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// HourRange is a daily time window in whole hours, [Start, End).
// Start > End wraps past midnight; Start == End covers the whole day.
type HourRange struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Contains reports whether hour (0-23) falls inside the range.
func (r HourRange) Contains(hour int) bool {
	switch {
	case r.Start == r.End:
		return true
	case r.Start < r.End:
		return hour >= r.Start && hour < r.End
	default:
		return hour >= r.Start || hour < r.End
	}
}

// NotificationChannel is a configured delivery target.
// Exactly one of Email, Chat, SMS or Webhook is set, matching Type.
type NotificationChannel struct {
	ID              string         `yaml:"id" json:"id"`                                 // 渠道 ID
	Name            string         `yaml:"name" json:"name"`                             // 渠道名称
	Type            ChannelType    `yaml:"type" json:"type"`                             // 渠道类型
	Enabled         bool           `yaml:"enabled" json:"enabled"`                       // 是否启用
	Priority        int            `yaml:"priority" json:"priority"`                     // 优先级（越小越先）
	Email           *EmailConfig   `yaml:"email,omitempty" json:"email,omitempty"`       // 邮件配置
	Chat            *ChatConfig    `yaml:"chat,omitempty" json:"chat,omitempty"`         // 聊天配置
	SMS             *SMSConfig     `yaml:"sms,omitempty" json:"sms,omitempty"`           // 短信配置
	Webhook         *WebhookConfig `yaml:"webhook,omitempty" json:"webhook,omitempty"`   // Webhook 配置
	ActiveHours     HourRange      `yaml:"active_hours" json:"active_hours"`             // 生效时段
	ActiveDays      []int          `yaml:"active_days,omitempty" json:"active_days"`     // 生效日（1=周一 ... 7=周日）
	MaxPerHour      int            `yaml:"max_per_hour" json:"max_per_hour"`             // 每小时最大发送量，0 表示不限制
	CooldownMinutes int            `yaml:"cooldown_minutes" json:"cooldown_minutes"`     // 冷却时间（分钟）
}

// ValidateConfig checks that the tagged union matches the channel type.
func (c *NotificationChannel) ValidateConfig() error {
	set := 0
	for _, present := range []bool{c.Email != nil, c.Chat != nil, c.SMS != nil, c.Webhook != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("channel %q must define exactly one config block, found %d", c.ID, set)
	}

	switch c.Type {
	case ChannelEmail:
		if c.Email == nil {
			return fmt.Errorf("channel %q of type email has no email block", c.ID)
		}
		if c.Email.SMTPHost == "" || c.Email.From == "" || len(c.Email.To) == 0 {
			return fmt.Errorf("channel %q email config requires smtp_host, from and to", c.ID)
		}
	case ChannelChat:
		if c.Chat == nil || c.Chat.WebhookURL == "" {
			return fmt.Errorf("channel %q of type chat requires chat.webhook_url", c.ID)
		}
	case ChannelSMS:
		if c.SMS == nil || c.SMS.Endpoint == "" || len(c.SMS.Numbers) == 0 {
			return fmt.Errorf("channel %q of type sms requires sms.endpoint and sms.numbers", c.ID)
		}
	case ChannelWebhook:
		if c.Webhook == nil || c.Webhook.URL == "" {
			return fmt.Errorf("channel %q of type webhook requires webhook.url", c.ID)
		}
	default:
		return fmt.Errorf("channel %q has unknown type %q", c.ID, c.Type)
	}

	if c.ActiveHours.Start < 0 || c.ActiveHours.Start > 23 || c.ActiveHours.End < 0 || c.ActiveHours.End > 24 {
		return fmt.Errorf("channel %q active_hours out of range: %d-%d", c.ID, c.ActiveHours.Start, c.ActiveHours.End)
	}
	for _, d := range c.ActiveDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("channel %q active_days must be within 1..7, got %d", c.ID, d)
		}
	}
	if c.MaxPerHour < 0 || c.CooldownMinutes < 0 {
		return fmt.Errorf("channel %q rate limits must not be negative", c.ID)
	}
	return nil
}

// Recipient returns a human-readable recipient for history records.
func (c *NotificationChannel) Recipient() string {
	switch c.Type {
	case ChannelEmail:
		if c.Email != nil {
			return strings.Join(c.Email.To, ",")
		}
	case ChannelChat:
		if c.Chat != nil {
			if c.Chat.Channel != "" {
				return c.Chat.Channel
			}
			return c.Chat.WebhookURL
		}
	case ChannelSMS:
		if c.SMS != nil {
			return strings.Join(c.SMS.Numbers, ",")
		}
	case ChannelWebhook:
		if c.Webhook != nil {
			return c.Webhook.URL
		}
	}
	return ""
}

// IsActiveAt reports whether t falls into the channel's active hours and days.
func (c *NotificationChannel) IsActiveAt(t time.Time) bool {
	if !c.ActiveHours.Contains(t.Hour()) {
		return false
	}
	if len(c.ActiveDays) == 0 {
		return true
	}
	return slices.Contains(c.ActiveDays, ISOWeekday(t))
}

// ISOWeekday returns the ISO-8601 weekday number (Monday=1 ... Sunday=7).
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ChannelState holds the mutable rate-limit bookkeeping of a channel.
type ChannelState struct {
	SentThisHour    int       `json:"sent_this_hour"`    // 本小时已发送
	HourWindowStart time.Time `json:"hour_window_start"` // 小时窗口起点
	LastSentAt      time.Time `json:"last_sent_at"`      // 上次发送时间
}

// RollHour resets the hourly counter if the window is older than one hour.
func (s *ChannelState) RollHour(now time.Time) {
	if s.HourWindowStart.IsZero() || now.Sub(s.HourWindowStart) >= time.Hour {
		s.SentThisHour = 0
		s.HourWindowStart = now
	}
}
