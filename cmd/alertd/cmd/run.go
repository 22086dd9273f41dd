package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"alert-engine/internal/api"
	"alert-engine/internal/service"
)

// Command flags
var (
	runInterval   time.Duration // Overrides engine.interval
	sweepInterval time.Duration // Flood window cleanup interval
	noAPI         bool          // Disable the HTTP API
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "以守护进程方式运行告警引擎",
	Long: `按 engine.interval 周期触发评估，流程包括：
1. 从 VictoriaMetrics 读取所有启用阈值对应指标的最新值
2. 评估越限并生成/合并告警
3. 按渠道规则发送通知（生效时段、冷却、每小时上限、风暴控制）
4. 对持续未处理的告警执行升级
5. 对已恢复正常的告警自动关闭

同时（默认）在 api.listen 上提供查询/管理 HTTP 接口和 /metrics。

示例:
  # 使用默认配置运行
  alertd run -c config.yaml

  # 每 30 秒评估一次，不启动 HTTP 接口
  alertd run -c config.yaml --interval 30s --no-api`,
	Run: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "评估周期（默认使用 engine.interval）")
	runCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Hour, "风暴窗口清理周期")
	runCmd.Flags().BoolVar(&noAPI, "no-api", false, "不启动 HTTP 接口")
}

// runDaemon runs evaluation cycles until SIGINT/SIGTERM.
func runDaemon(cmd *cobra.Command, args []string) {
	printBanner()

	fmt.Printf("📋 加载配置文件: %s\n", GetConfigFile())
	cfg, logger := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := service.NewMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register metrics")
		fmt.Fprintf(os.Stderr, "❌ 注册监控指标失败: %v\n", err)
		os.Exit(1)
	}

	engine, closeStore, err := buildEngine(ctx, cfg, logger, service.WithMetrics(metrics))
	if err != nil {
		logger.Error().Err(err).Msg("failed to build engine")
		fmt.Fprintf(os.Stderr, "❌ 初始化告警引擎失败: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	interval := cfg.Engine.Interval
	if runInterval > 0 {
		interval = runInterval
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runCycles(gctx, engine, interval, logger)
		return nil
	})

	g.Go(func() error {
		sweepFloodWindows(gctx, engine, sweepInterval, logger)
		return nil
	})

	if cfg.API.Enabled && !noAPI {
		srv := api.NewServer(engine, registry, logger).NewHTTPServer(cfg.API.Listen)
		g.Go(func() error {
			logger.Info().Str("listen", cfg.API.Listen).Msg("api server started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Printf("✅ 告警引擎已启动，评估周期 %s\n", interval)
	logger.Info().Dur("interval", interval).Msg("engine started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("engine stopped with error")
		fmt.Fprintf(os.Stderr, "❌ 运行出错: %v\n", err)
		closeStore()
		os.Exit(1)
	}
	logger.Info().Msg("engine stopped")
	fmt.Println("👋 告警引擎已停止")
}

// runCycles triggers a cycle immediately and then on every tick.
// Overlapping triggers are dropped by the engine.
func runCycles(ctx context.Context, engine *service.Engine, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := engine.RunCycle(ctx)
		switch {
		case errors.Is(err, service.ErrCycleInProgress):
			logger.Warn().Msg("previous cycle still running, trigger dropped")
		case err != nil:
			logger.Error().Err(err).Msg("evaluation cycle failed")
		default:
			logger.Info().
				Int("evaluated", res.Evaluated).
				Int("raised", res.Raised).
				Int("sent", res.Sent).
				Int("escalated", res.Escalated).
				Int("resolved", res.Resolved).
				Dur("duration", res.Duration).
				Msg("evaluation cycle completed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepFloodWindows drops expired flood windows periodically.
func sweepFloodWindows(ctx context.Context, engine *service.Engine, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.SweepFloodWindows(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to sweep flood windows")
				continue
			}
			logger.Debug().Int("removed", n).Msg("flood windows swept")
		}
	}
}
