// Package config provides configuration management for the alerting engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified YAML file and environment variables.
// Environment variables take precedence over file values.
// Environment variable format: ALERTD_<SECTION>_<KEY> (e.g., ALERTD_STORE_PATH)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ALERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("engine.dedup_window", time.Hour)
	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.refresh_interval", 5*time.Minute)
	v.SetDefault("engine.interval", time.Minute)
	v.SetDefault("engine.business_hours.start", 9)
	v.SetDefault("engine.business_hours.end", 18)
	v.SetDefault("engine.business_hours.days", []int{1, 2, 3, 4, 5})

	// Datasources defaults
	v.SetDefault("datasources.victoriametrics.timeout", 30*time.Second)

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "alertd.db")

	// Notification defaults
	v.SetDefault("notification.send_timeout", 10*time.Second)
	v.SetDefault("notification.max_attempts", 3)
	v.SetDefault("notification.retry_backoff", 500*time.Millisecond)

	// Flood control defaults
	v.SetDefault("flood.window", 60*time.Minute)
	v.SetDefault("flood.max_per_period", 3)
	v.SetDefault("flood.escalation_threshold", 5)
	v.SetDefault("flood.retention", 24*time.Hour)

	// Rules defaults
	v.SetDefault("rules.path", "configs/rules.yaml")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// HTTP retry defaults
	v.SetDefault("http.retry.max_retries", 3)
	v.SetDefault("http.retry.base_delay", 1*time.Second)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":9470")

	// Report defaults
	v.SetDefault("report.output_dir", "./reports")
	v.SetDefault("report.formats", []string{"excel", "html"})
}
