// Package config provides configuration management for the alerting engine.
package config

import "time"

// Config is the root configuration structure for the alerting engine.
type Config struct {
	Engine       EngineConfig       `mapstructure:"engine"`
	Datasources  DatasourcesConfig  `mapstructure:"datasources" validate:"required"`
	Store        StoreConfig        `mapstructure:"store"`
	Notification NotificationConfig `mapstructure:"notification"`
	Flood        FloodConfig        `mapstructure:"flood"`
	Rules        RulesConfig        `mapstructure:"rules"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	API          APIConfig          `mapstructure:"api"`
	Report       ReportConfig       `mapstructure:"report"`
}

// EngineConfig controls the evaluation cycle.
type EngineConfig struct {
	Concurrency     int                 `mapstructure:"concurrency" validate:"gte=1,lte=100"`
	DedupWindow     time.Duration       `mapstructure:"dedup_window" validate:"gt=0"`
	Timezone        string              `mapstructure:"timezone" validate:"timezone"`
	RefreshInterval time.Duration       `mapstructure:"refresh_interval"`
	Interval        time.Duration       `mapstructure:"interval" validate:"gt=0"` // 仅用于 run 命令的外部触发
	BusinessHours   BusinessHoursConfig `mapstructure:"business_hours"`
}

// BusinessHoursConfig defines working time used by escalation rules.
type BusinessHoursConfig struct {
	Start int   `mapstructure:"start" validate:"gte=0,lte=23"`
	End   int   `mapstructure:"end" validate:"gte=0,lte=24"`
	Days  []int `mapstructure:"days" validate:"dive,gte=1,lte=7"` // 1=周一 ... 7=周日
}

// DatasourcesConfig contains configurations for data sources.
type DatasourcesConfig struct {
	VictoriaMetrics VictoriaMetricsConfig `mapstructure:"victoriametrics" validate:"required"`
}

// VictoriaMetricsConfig contains configuration for VictoriaMetrics API.
type VictoriaMetricsConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the alert store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite"`
	Path   string `mapstructure:"path"`
}

// NotificationConfig controls sender timeouts and retries.
type NotificationConfig struct {
	SendTimeout  time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// FloodConfig controls per (metric, channel type) notification storms.
type FloodConfig struct {
	Window              time.Duration `mapstructure:"window" validate:"gt=0"`
	MaxPerPeriod        int           `mapstructure:"max_per_period" validate:"gte=1"`
	EscalationThreshold int           `mapstructure:"escalation_threshold" validate:"gte=1"`
	Retention           time.Duration `mapstructure:"retention" validate:"gt=0"`
}

// RulesConfig points at the thresholds/channels/templates/escalation file.
type RulesConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LoggingConfig contains configurations for logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// HTTPConfig contains HTTP client configurations including retry settings.
type HTTPConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// APIConfig controls the query/admin HTTP surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ReportConfig contains configurations for history export.
type ReportConfig struct {
	OutputDir string   `mapstructure:"output_dir"`
	Formats   []string `mapstructure:"formats" validate:"dive,oneof=excel html"`
}
