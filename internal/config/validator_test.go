// Package config provides configuration management for the alerting engine.
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newValidConfig creates a valid configuration for testing.
func newValidConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:     8,
			DedupWindow:     time.Hour,
			Timezone:        "UTC",
			RefreshInterval: 5 * time.Minute,
			Interval:        time.Minute,
			BusinessHours:   BusinessHoursConfig{Start: 9, End: 18, Days: []int{1, 2, 3, 4, 5}},
		},
		Datasources: DatasourcesConfig{
			VictoriaMetrics: VictoriaMetricsConfig{
				Endpoint: "http://localhost:8428",
				Timeout:  30 * time.Second,
			},
		},
		Store: StoreConfig{Driver: "sqlite", Path: "alertd.db"},
		Notification: NotificationConfig{
			SendTimeout:  10 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: 500 * time.Millisecond,
		},
		Flood: FloodConfig{
			Window:              time.Hour,
			MaxPerPeriod:        3,
			EscalationThreshold: 5,
			Retention:           24 * time.Hour,
		},
		Rules: RulesConfig{Path: "configs/rules.yaml"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  1 * time.Second,
			},
		},
		Report: ReportConfig{OutputDir: "./reports", Formats: []string{"excel", "html"}},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := newValidConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Validate() error = %v, want nil for valid config", err)
	}
}

func TestValidate_MissingVMEndpoint(t *testing.T) {
	cfg := newValidConfig()
	cfg.Datasources.VictoriaMetrics.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should return error for missing VictoriaMetrics endpoint")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "datasources.victoriametrics.endpoint") {
		t.Errorf("error should mention field 'datasources.victoriametrics.endpoint', got: %s", errStr)
	}
	if !strings.Contains(errStr, "required") {
		t.Errorf("error should mention 'required', got: %s", errStr)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"concurrency too high", func(c *Config) { c.Engine.Concurrency = 101 }, "engine.concurrency"},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, "engine.timezone"},
		{"bad store driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"zero attempts", func(c *Config) { c.Notification.MaxAttempts = 0 }, "notification.maxattempts"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad business day", func(c *Config) { c.Engine.BusinessHours.Days = []int{0} }, "engine.businesshours.days"},
		{"bad report format", func(c *Config) { c.Report.Formats = []string{"pdf"} }, "report.formats"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newValidConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_FloodOrdering(t *testing.T) {
	cfg := newValidConfig()
	cfg.Flood.MaxPerPeriod = 6
	cfg.Flood.EscalationThreshold = 5

	err := Validate(cfg)
	require.Error(t, err)

	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, verrs, 1)
	assert.Equal(t, "flood.escalation_threshold", verrs[0].Field)
	assert.Equal(t, "threshold_order", verrs[0].Tag)
}

func TestValidate_SqliteRequiresPath(t *testing.T) {
	cfg := newValidConfig()
	cfg.Store.Path = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path")

	cfg.Store.Driver = "memory"
	assert.NoError(t, Validate(cfg))
}

func TestFormatFieldName(t *testing.T) {
	assert.Equal(t, "datasources.victoriametrics.endpoint", formatFieldName("Config.Datasources.VictoriaMetrics.Endpoint"))
	assert.Equal(t, "single", formatFieldName("Single"))
}

func TestEngineConfig_Location(t *testing.T) {
	cfg := EngineConfig{Timezone: "Asia/Shanghai"}
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())

	cfg.Timezone = ""
	assert.Equal(t, time.UTC, cfg.Location())
}
