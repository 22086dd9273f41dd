package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"alert-engine/internal/alerterr"
	"alert-engine/internal/config"
	"alert-engine/internal/model"
	"alert-engine/internal/notify"
	"alert-engine/internal/store"
)

// ErrCycleInProgress is returned when a trigger arrives while a cycle is running.
var ErrCycleInProgress = errors.New("evaluation cycle already in progress")

// resolvedKindManual labels manual resolutions in metrics.
const resolvedKindManual = "manual"

// RuleProvider loads the rule set. Malformed items come back as problems.
type RuleProvider interface {
	Load(ctx context.Context) (*model.RuleSet, []error, error)
}

// queryAware is implemented by metric sources that map metric names to queries.
type queryAware interface {
	SetQueries(queries map[string]string)
}

// Engine runs evaluation cycles and exposes the query and admin operations.
type Engine struct {
	cfg     *config.Config
	source  MetricSource
	rules   RuleProvider
	store   store.Store
	senders *notify.Registry
	metrics *Metrics
	now     Clock
	loc     *time.Location
	logger  zerolog.Logger

	evaluator  *Evaluator
	flood      *FloodController
	renderer   *Renderer
	dispatcher *Dispatcher
	escalation *EscalationEngine
	resolver   *AutoResolver

	running atomic.Bool

	rulesMu       sync.RWMutex
	ruleSet       *model.RuleSet
	rulesLoadedAt time.Time
	overrides     map[string]bool // 运行时渠道启停

	cycles          atomic.Int64
	failedCycles    atomic.Int64
	droppedTriggers atomic.Int64
	sent            atomic.Int64
	failed          atomic.Int64
	skipped         atomic.Int64
	throttled       atomic.Int64
	configErrors    atomic.Int64

	healthMu    sync.RWMutex
	lastCycleAt time.Time
	lastError   string
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now Clock) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSenders replaces the default sender registry.
func WithSenders(r *notify.Registry) Option {
	return func(e *Engine) {
		e.senders = r
	}
}

// NewEngine wires the pipeline components.
func NewEngine(
	cfg *config.Config,
	source MetricSource,
	rules RuleProvider,
	st store.Store,
	logger zerolog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		source:    source,
		rules:     rules,
		store:     st,
		now:       systemClock,
		loc:       cfg.Engine.Location(),
		logger:    logger.With().Str("component", "engine").Logger(),
		overrides: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.senders == nil {
		e.senders = notify.NewDefaultRegistry(cfg.Notification.SendTimeout, logger)
	}

	e.evaluator = NewEvaluator(st, cfg.Engine.DedupWindow, e.now, logger)
	e.flood = NewFloodController(FloodSettings{
		Window:              cfg.Flood.Window,
		MaxPerPeriod:        cfg.Flood.MaxPerPeriod,
		EscalationThreshold: cfg.Flood.EscalationThreshold,
	}, st, e.now, logger)
	e.flood.OnEscalate(e.raiseFloodEscalation)
	e.flood.OnRelease(e.resolveFloodEscalation)
	e.renderer = NewRenderer(nil, e.loc, e.now)
	e.dispatcher = NewDispatcher(e.senders, e.renderer, e.flood, st, st, DispatchSettings{
		SendTimeout:  cfg.Notification.SendTimeout,
		MaxAttempts:  cfg.Notification.MaxAttempts,
		RetryBackoff: cfg.Notification.RetryBackoff,
	}, e.loc, e.now, logger)
	e.dispatcher.OnRecord(e.recordOutcome)

	bh := cfg.Engine.BusinessHours
	e.escalation = NewEscalationEngine(e.dispatcher, model.BusinessHours{
		Hours: model.HourRange{Start: bh.Start, End: bh.End},
		Days:  bh.Days,
	}, e.loc, e.now, logger)
	e.resolver = NewAutoResolver(st, source, e.now, logger)
	e.resolver.OnResolved(func(ctx context.Context, a *model.Alert) {
		e.evaluator.ResetStreak(ctx, a.MetricName)
		e.metrics.alertResolved(model.ResolvedByAuto)
	})
	return e
}

// Init loads the rule set and restores persisted flood windows, channel
// rate-limit state and breach streaks.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.ReloadRules(ctx); err != nil {
		return err
	}
	if err := e.flood.Load(ctx); err != nil {
		return alerterr.Store("load flood windows", err)
	}
	if err := e.dispatcher.LoadState(ctx); err != nil {
		return alerterr.Store("load channel state", err)
	}
	if err := e.evaluator.Load(ctx); err != nil {
		return alerterr.Store("load breach streaks", err)
	}
	return nil
}

// ReloadRules reads the rule set and applies it to every component.
func (e *Engine) ReloadRules(ctx context.Context) error {
	rs, problems, err := e.rules.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	for _, p := range problems {
		e.logger.Warn().Err(p).Msg("rule item skipped")
	}
	e.configErrors.Add(int64(len(problems)))
	e.metrics.configErrors(len(problems))

	queries := make(map[string]string, len(rs.Thresholds))
	for _, th := range rs.Thresholds {
		queries[th.MetricName] = th.QueryExpr()
	}
	if qa, ok := e.source.(queryAware); ok {
		qa.SetQueries(queries)
	}
	e.renderer.SetTemplates(rs.Templates)
	e.dispatcher.SetChannels(rs.Channels)
	e.dispatcher.SetContext(rs.TemplateContext)

	e.rulesMu.Lock()
	e.ruleSet = rs
	e.rulesLoadedAt = e.now()
	for id, enabled := range e.overrides {
		_ = e.dispatcher.SetChannelEnabled(id, enabled)
	}
	e.rulesMu.Unlock()

	e.logger.Info().
		Int("thresholds", len(rs.Thresholds)).
		Int("channels", len(rs.Channels)).
		Int("templates", len(rs.Templates)).
		Int("escalation_rules", len(rs.EscalationRules)).
		Int("skipped", len(problems)).
		Msg("rules loaded")
	return nil
}

// Rules returns the rule set currently in use.
func (e *Engine) Rules() *model.RuleSet {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	if e.ruleSet == nil {
		return &model.RuleSet{}
	}
	return e.ruleSet
}

func (e *Engine) refreshRules(ctx context.Context) error {
	e.rulesMu.RLock()
	loaded := e.ruleSet != nil
	due := !loaded || (e.cfg.Engine.RefreshInterval > 0 && e.now().Sub(e.rulesLoadedAt) >= e.cfg.Engine.RefreshInterval)
	e.rulesMu.RUnlock()
	if !due {
		return nil
	}
	if err := e.ReloadRules(ctx); err != nil {
		if !loaded {
			return err
		}
		e.logger.Warn().Err(err).Msg("rule refresh failed, keeping previous rules")
	}
	return nil
}

// RunCycle runs one evaluation cycle. Concurrent triggers are dropped with
// ErrCycleInProgress. Only store and metric source failures abort the cycle.
func (e *Engine) RunCycle(ctx context.Context) (*model.CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.droppedTriggers.Add(1)
		e.metrics.droppedTrigger()
		e.logger.Warn().Msg("cycle trigger dropped, previous cycle still running")
		return nil, ErrCycleInProgress
	}
	defer e.running.Store(false)

	start := e.now()
	res := &model.CycleResult{StartedAt: start}
	wallStart := time.Now()

	err := e.runCycle(ctx, res)

	res.FinishedAt = e.now()
	res.Duration = time.Since(wallStart)
	e.cycles.Add(1)

	e.healthMu.Lock()
	e.lastCycleAt = res.FinishedAt
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.healthMu.Unlock()

	if err != nil {
		e.failedCycles.Add(1)
		e.metrics.cycle("failed", res.Duration)
		e.logger.Error().Err(err).Int("errors", res.Errors).Msg("evaluation cycle failed")
		return res, err
	}

	e.metrics.cycle("ok", res.Duration)
	e.logger.Info().
		Int("evaluated", res.Evaluated).
		Int("missing", res.Missing).
		Int("raised", res.Raised).
		Int("absorbed", res.Absorbed).
		Int("sent", res.Sent).
		Int("escalated", res.Escalated).
		Int("resolved", res.Resolved).
		Int("errors", res.Errors).
		Dur("duration", res.Duration).
		Msg("evaluation cycle completed")
	return res, nil
}

func (e *Engine) runCycle(ctx context.Context, res *model.CycleResult) error {
	if err := e.refreshRules(ctx); err != nil {
		res.Errors++
		return err
	}
	rs := e.Rules()
	thresholds := rs.EnabledThresholds()

	names := make([]string, 0, len(thresholds))
	for _, th := range thresholds {
		names = append(names, th.MetricName)
	}

	readings, err := e.source.GetLatest(ctx, names)
	if err != nil {
		res.Errors++
		return fmt.Errorf("metric source: %w", err)
	}
	e.dispatcher.SetContext(cycleContext(rs.TemplateContext, readings))

	if err := e.evaluateAll(ctx, thresholds, readings, res); err != nil {
		return err
	}
	e.flood.ReleaseExpired(ctx)

	active, err := e.store.ListActive(ctx, model.AlertFilter{})
	if err != nil {
		res.Errors++
		return alerterr.Store("list active alerts", err)
	}

	esc, err := e.escalation.Run(ctx, active, rs.EscalationRules)
	if err != nil {
		res.Errors++
		return err
	}
	res.Escalated = esc.Escalated
	res.Sent += esc.Dispatch.Sent
	res.Errors += esc.Dispatch.Failed

	byMetric := make(map[string]*model.AlertThreshold, len(rs.Thresholds))
	for _, th := range rs.Thresholds {
		byMetric[th.MetricName] = th
	}
	resolved, err := e.resolver.Run(ctx, active, byMetric)
	res.Resolved = resolved
	if err != nil {
		res.Errors++
		return err
	}

	warning, critical := 0, 0
	for _, a := range active {
		if !a.IsActive() {
			continue
		}
		if a.IsCritical() {
			critical++
		} else {
			warning++
		}
	}
	e.metrics.activeAlerts(warning, critical)
	return nil
}

// cycleContext merges the static template variables with the latest reading
// of every metric, exposed as current_<metric>.
func cycleContext(static map[string]string, readings map[string]model.MetricReading) map[string]string {
	vars := make(map[string]string, len(static)+len(readings))
	for k, v := range static {
		vars[k] = v
	}
	for name, r := range readings {
		vars[config.CurrentValuePrefix+name] = formatValue(r.Value)
	}
	return vars
}

// evaluateAll evaluates thresholds on a bounded worker pool and dispatches new alerts.
func (e *Engine) evaluateAll(ctx context.Context, thresholds []*model.AlertThreshold, readings map[string]model.MetricReading, res *model.CycleResult) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.cfg.Engine.Concurrency))

	for _, th := range thresholds {
		g.Go(func() error {
			reading, ok := readings[th.MetricName]
			if !ok {
				e.logger.Debug().Err(alerterr.DataUnavailable(th.MetricName)).Msg("metric skipped")
				mu.Lock()
				res.Missing++
				mu.Unlock()
				return nil
			}

			out, err := e.evaluator.Process(gctx, reading, th)
			if err != nil {
				mu.Lock()
				res.Errors++
				mu.Unlock()
				if alerterr.IsStore(err) {
					return err
				}
				e.logger.Warn().Err(err).Str("metric", th.MetricName).Msg("evaluation failed, continuing with others")
				return nil
			}

			mu.Lock()
			res.Evaluated++
			switch {
			case out.Created:
				res.Raised++
			case out.Alert != nil:
				res.Absorbed++
			}
			mu.Unlock()

			if out.Alert == nil {
				return nil
			}
			if !out.Created {
				e.metrics.alertAbsorbed()
				return nil
			}
			e.metrics.alertRaised(out.Alert)

			dr, err := e.dispatcher.Dispatch(gctx, out.Alert, th.NotificationChannels, false)
			if err != nil {
				mu.Lock()
				res.Errors++
				mu.Unlock()
				return err
			}
			mu.Lock()
			res.Sent += dr.Sent
			res.Errors += dr.Failed
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// raiseFloodEscalation creates the synthetic alert for a tripped flood window.
func (e *Engine) raiseFloodEscalation(ctx context.Context, w model.FloodControlWindow) error {
	alert := &model.Alert{
		Type:           model.AlertTypeFloodEscalation,
		MetricName:     w.MetricName,
		Severity:       model.SeverityCritical,
		Value:          float64(w.CountInWindow),
		ThresholdValue: float64(e.cfg.Flood.EscalationThreshold),
		Title:          fmt.Sprintf("Notification flood on %s", w.MetricName),
		Description: fmt.Sprintf("%d %s notifications for %s since %s; further notifications are suppressed until the window resets",
			w.CountInWindow, w.ChannelType, w.MetricName, w.WindowStart.In(e.loc).Format(time.RFC3339)),
		Status:           model.AlertStatusActive,
		CreatedAt:        e.now(),
		NotifiedChannels: []string{},
		Tags:             map[string]string{"channel_type": string(w.ChannelType)},
	}
	if _, err := e.store.Create(ctx, alert); err != nil {
		return alerterr.Store("create flood escalation", err)
	}
	e.metrics.alertRaised(alert)
	e.logger.Warn().
		Str("alert_id", alert.ID).
		Str("metric", w.MetricName).
		Str("channel_type", string(w.ChannelType)).
		Msg("flood escalation alert raised")
	return nil
}

// resolveFloodEscalation auto-resolves the flood alert of a window that ended.
func (e *Engine) resolveFloodEscalation(ctx context.Context, w model.FloodControlWindow) error {
	active, err := e.store.ListActive(ctx, model.AlertFilter{MetricName: w.MetricName, Type: model.AlertTypeFloodEscalation})
	if err != nil {
		return alerterr.Store("list flood escalations", err)
	}
	now := e.now()
	for _, a := range active {
		if a.Tags["channel_type"] != string(w.ChannelType) {
			continue
		}
		if err := e.store.Resolve(ctx, a.ID, model.ResolvedByAuto, now); err != nil {
			return alerterr.Store("resolve flood escalation", err)
		}
		e.metrics.alertResolved(model.ResolvedByAuto)
		e.logger.Info().
			Str("alert_id", a.ID).
			Str("metric", w.MetricName).
			Str("channel_type", string(w.ChannelType)).
			Msg("flood escalation resolved")
	}
	return nil
}

func (e *Engine) recordOutcome(rec *model.NotificationRecord) {
	switch rec.Status {
	case model.NotificationSent:
		e.sent.Add(1)
	case model.NotificationFailed:
		e.failed.Add(1)
	case model.NotificationSkipped:
		e.skipped.Add(1)
	case model.NotificationThrottled:
		e.throttled.Add(1)
	}
	e.metrics.notification(rec)
}

// SweepFloodWindows drops flood windows idle for longer than the retention period.
func (e *Engine) SweepFloodWindows(ctx context.Context) (int, error) {
	return e.flood.Sweep(ctx, e.cfg.Flood.Retention)
}

// =============================================================================
// Query surface
// =============================================================================

// ListActiveAlerts returns active alerts matching filter.
func (e *Engine) ListActiveAlerts(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	alerts, err := e.store.ListActive(ctx, filter)
	if err != nil {
		return nil, alerterr.Store("list active alerts", err)
	}
	return alerts, nil
}

// GetAlert returns one alert by id.
func (e *Engine) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	return e.store.Get(ctx, id)
}

// GetNotificationHistory returns the records of an alert.
func (e *Engine) GetNotificationHistory(ctx context.Context, alertID string) ([]*model.NotificationRecord, error) {
	records, err := e.store.ListByAlert(ctx, alertID)
	if err != nil {
		return nil, alerterr.Store("list history", err)
	}
	return records, nil
}

// GetHealthSummary reports active alert counts and cumulative failure counters.
func (e *Engine) GetHealthSummary(ctx context.Context) (*model.HealthSummary, error) {
	active, err := e.store.ListActive(ctx, model.AlertFilter{})
	if err != nil {
		return nil, alerterr.Store("list active alerts", err)
	}
	summary := &model.HealthSummary{
		ActiveCount:            len(active),
		Cycles:                 e.cycles.Load(),
		FailedCycles:           e.failedCycles.Load(),
		DroppedTriggers:        e.droppedTriggers.Load(),
		NotificationsSent:      e.sent.Load(),
		NotificationsFailed:    e.failed.Load(),
		NotificationsSkipped:   e.skipped.Load(),
		NotificationsThrottled: e.throttled.Load(),
		ConfigErrors:           e.configErrors.Load(),
	}
	for _, a := range active {
		if a.IsCritical() {
			summary.CriticalCount++
		}
	}
	e.healthMu.RLock()
	summary.LastCycleAt = e.lastCycleAt
	summary.LastError = e.lastError
	e.healthMu.RUnlock()
	return summary, nil
}

// Channels returns the configured channels with their runtime enabled flag.
func (e *Engine) Channels() []model.NotificationChannel {
	return e.dispatcher.Channels()
}

// =============================================================================
// Admin operations
// =============================================================================

// AcknowledgeAlert records that an operator has seen the alert.
func (e *Engine) AcknowledgeAlert(ctx context.Context, id, by string) error {
	if err := e.store.Acknowledge(ctx, id, by, e.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return alerterr.Store("acknowledge alert", err)
	}
	e.logger.Info().Str("alert_id", id).Str("by", by).Msg("alert acknowledged")
	return nil
}

// ResolveAlert resolves an alert manually. Resolving twice is a no-op.
func (e *Engine) ResolveAlert(ctx context.Context, id, by string) error {
	alert, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !alert.IsActive() {
		return nil
	}
	if err := e.store.Resolve(ctx, id, by, e.now()); err != nil {
		return alerterr.Store("resolve alert", err)
	}
	e.evaluator.ResetStreak(ctx, alert.MetricName)
	e.metrics.alertResolved(resolvedKindManual)
	e.logger.Info().Str("alert_id", id).Str("by", by).Msg("alert resolved")
	return nil
}

// SetChannelEnabled toggles a channel. The override survives rule refreshes.
func (e *Engine) SetChannelEnabled(id string, enabled bool) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	if err := e.dispatcher.SetChannelEnabled(id, enabled); err != nil {
		return err
	}
	e.overrides[id] = enabled
	e.logger.Info().Str("channel", id).Bool("enabled", enabled).Msg("channel toggled")
	return nil
}

// SendTestNotification sends message to one channel regardless of schedule and limits.
func (e *Engine) SendTestNotification(ctx context.Context, channelID, message string) (*model.NotificationRecord, error) {
	return e.dispatcher.SendTest(ctx, channelID, message)
}

// ExportData returns alerts created and records written since the given time.
func (e *Engine) ExportData(ctx context.Context, since time.Time) ([]*model.Alert, []*model.NotificationRecord, error) {
	alerts, err := e.store.ListAlerts(ctx, since)
	if err != nil {
		return nil, nil, alerterr.Store("list alerts", err)
	}
	records, err := e.store.ListSince(ctx, since)
	if err != nil {
		return nil, nil, alerterr.Store("list history", err)
	}
	return alerts, records, nil
}
