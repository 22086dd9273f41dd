package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"alert-engine/internal/client/vm"
	"alert-engine/internal/config"
	"alert-engine/internal/service"
	"alert-engine/internal/store"
)

// loadConfig loads the config file and builds the logger from it.
// Command line --log-level overrides the config file setting.
func loadConfig() (*config.Config, zerolog.Logger) {
	configPath := GetConfigFile()
	cfg, err := config.Load(configPath)
	if err != nil {
		tmpLogger := setupLogger("error", "console", time.UTC)
		tmpLogger.Error().Err(err).Str("path", configPath).Msg("failed to load config")
		fmt.Fprintf(os.Stderr, "❌ 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if GetLogLevel() != "info" {
		level = GetLogLevel()
	}
	logger := setupLogger(level, cfg.Logging.Format, cfg.Engine.Location())
	logger.Debug().
		Str("config_path", configPath).
		Str("log_level", level).
		Str("log_format", cfg.Logging.Format).
		Msg("configuration loaded successfully")
	return cfg, logger
}

// setupLogger creates a zerolog logger with the specified level and format.
// Log timestamps are rendered in tz.
func setupLogger(level string, format string, tz *time.Location) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if tz == nil {
		tz = time.Local
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().In(tz)
	}

	var output io.Writer
	if format == "json" {
		output = os.Stderr
	} else {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// buildEngine opens the store, creates the metric client and initializes the engine.
// The returned close function releases the store.
func buildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...service.Option) (*service.Engine, func(), error) {
	if cfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}

	vmClient := vm.NewClient(&cfg.Datasources.VictoriaMetrics, &cfg.HTTP.Retry, logger)
	vmClient.SetConcurrency(cfg.Engine.Concurrency)

	rules := config.NewFileRuleProvider(cfg.Rules.Path)
	engine := service.NewEngine(cfg, vmClient, rules, st, logger, opts...)
	if err := engine.Init(ctx); err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("init engine: %w", err)
	}

	logger.Debug().
		Str("store", cfg.Store.Driver).
		Str("rules", cfg.Rules.Path).
		Str("endpoint", cfg.Datasources.VictoriaMetrics.Endpoint).
		Msg("engine initialized")
	return engine, closeStore, nil
}

// mustBuildEngine is buildEngine for one-shot commands; it exits on failure.
func mustBuildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...service.Option) (*service.Engine, func()) {
	engine, closeFn, err := buildEngine(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build engine")
		fmt.Fprintf(os.Stderr, "❌ 初始化告警引擎失败: %v\n", err)
		os.Exit(1)
	}
	return engine, closeFn
}

// printBanner prints the application banner.
func printBanner() {
	fmt.Printf("🚨 告警引擎 alertd %s\n", Version)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
