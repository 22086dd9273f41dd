package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alert-engine/internal/alerterr"
	"alert-engine/internal/model"
	"alert-engine/internal/store"
)

// ResolvedByMerge marks duplicates closed by the evaluator.
const ResolvedByMerge = "merged"

// Evaluate compares value against the threshold and returns the breached severity.
func Evaluate(value float64, t *model.AlertThreshold) model.Severity {
	if t.ComparisonMode == model.ComparisonLowerIsBad {
		switch {
		case value <= t.CriticalLevel:
			return model.SeverityCritical
		case value <= t.WarningLevel:
			return model.SeverityWarning
		}
		return model.SeverityNone
	}

	switch {
	case value >= t.CriticalLevel:
		return model.SeverityCritical
	case value >= t.WarningLevel:
		return model.SeverityWarning
	}
	return model.SeverityNone
}

// Outcome describes what Process did with a reading.
type Outcome struct {
	Severity model.Severity // 本次评估级别
	Alert    *model.Alert   // 新建或吸收的告警
	Created  bool           // 是否新建
	Pending  bool           // 越限但未达到连续次数
}

// Evaluator turns readings into alerts while keeping the dedup invariant.
type Evaluator struct {
	alerts      store.AlertStore
	streakStore store.StreakStore
	dedupWindow time.Duration
	now         Clock
	locks       *keyedMutex
	logger      zerolog.Logger

	mu      sync.Mutex
	streaks map[string]int // 连续越限计数
}

// NewEvaluator creates an Evaluator backed by the given alert store. When the
// store also implements store.StreakStore, breach counters are persisted.
func NewEvaluator(alerts store.AlertStore, dedupWindow time.Duration, now Clock, logger zerolog.Logger) *Evaluator {
	if dedupWindow <= 0 {
		dedupWindow = time.Hour
	}
	if now == nil {
		now = systemClock
	}
	ss, _ := alerts.(store.StreakStore)
	return &Evaluator{
		alerts:      alerts,
		streakStore: ss,
		dedupWindow: dedupWindow,
		now:         now,
		locks:       newKeyedMutex(),
		streaks:     make(map[string]int),
		logger:      logger.With().Str("component", "evaluator").Logger(),
	}
}

// Process evaluates one reading. On a confirmed breach it returns the active
// alert for the metric, creating it when none exists within the dedup window.
func (e *Evaluator) Process(ctx context.Context, reading model.MetricReading, threshold *model.AlertThreshold) (*Outcome, error) {
	severity := Evaluate(reading.Value, threshold)
	out := &Outcome{Severity: severity}

	unlock := e.locks.Lock(threshold.MetricName)
	defer unlock()

	streak, err := e.track(ctx, threshold.MetricName, severity != model.SeverityNone)
	if err != nil {
		return nil, err
	}
	if severity == model.SeverityNone {
		return out, nil
	}
	if streak < threshold.RequiredBreaches() {
		out.Pending = true
		e.logger.Debug().
			Str("metric", threshold.MetricName).
			Int("streak", streak).
			Int("required", threshold.RequiredBreaches()).
			Msg("breach not yet confirmed")
		return out, nil
	}

	now := e.now()
	since := now.Add(-e.dedupWindow)

	if err := e.mergeDuplicates(ctx, threshold.MetricName, since, now); err != nil {
		return nil, err
	}

	candidate := newThresholdAlert(reading, threshold, severity, now)
	alert, created, err := e.alerts.CreateIfAbsent(ctx, candidate, since)
	if err != nil {
		return nil, alerterr.Store("create alert", err)
	}
	out.Alert = alert
	out.Created = created

	if created {
		e.logger.Info().
			Str("alert_id", alert.ID).
			Str("metric", alert.MetricName).
			Str("severity", string(alert.Severity)).
			Float64("value", alert.Value).
			Float64("threshold", alert.ThresholdValue).
			Msg("alert raised")
	} else {
		e.logger.Debug().
			Str("alert_id", alert.ID).
			Str("metric", alert.MetricName).
			Msg("breach absorbed by active alert")
	}
	return out, nil
}

// Load restores persisted breach counters.
func (e *Evaluator) Load(ctx context.Context) error {
	if e.streakStore == nil {
		return nil
	}
	saved, err := e.streakStore.LoadBreachStreaks(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for metric, count := range saved {
		e.streaks[metric] = count
	}
	e.mu.Unlock()
	if len(saved) > 0 {
		e.logger.Info().Int("metrics", len(saved)).Msg("breach streaks restored")
	}
	return nil
}

// track updates the consecutive breach counter and returns its new value.
// The caller holds the metric lock.
func (e *Evaluator) track(ctx context.Context, metric string, breached bool) (int, error) {
	e.mu.Lock()
	prev := e.streaks[metric]
	next := 0
	if breached {
		next = prev + 1
		e.streaks[metric] = next
	} else {
		delete(e.streaks, metric)
	}
	e.mu.Unlock()

	if e.streakStore == nil || prev == next {
		return next, nil
	}
	if err := e.streakStore.SaveBreachStreak(ctx, metric, next); err != nil {
		return 0, alerterr.Store("save breach streak", err)
	}
	return next, nil
}

// ResetStreak clears the consecutive breach counter of a metric.
func (e *Evaluator) ResetStreak(ctx context.Context, metric string) {
	unlock := e.locks.Lock(metric)
	defer unlock()

	e.mu.Lock()
	_, had := e.streaks[metric]
	delete(e.streaks, metric)
	e.mu.Unlock()

	if e.streakStore == nil || !had {
		return
	}
	if err := e.streakStore.SaveBreachStreak(ctx, metric, 0); err != nil {
		e.logger.Warn().Err(err).Str("metric", metric).Msg("failed to clear breach streak")
	}
}

// Streak returns the current consecutive breach count of a metric.
func (e *Evaluator) Streak(metric string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaks[metric]
}

// mergeDuplicates resolves all but the oldest active threshold alert created in the window.
func (e *Evaluator) mergeDuplicates(ctx context.Context, metric string, since, now time.Time) error {
	active, err := e.alerts.ListActive(ctx, model.AlertFilter{MetricName: metric, Type: model.AlertTypeThreshold})
	if err != nil {
		return alerterr.Store("list active alerts", err)
	}

	var inWindow []*model.Alert
	for _, a := range active {
		if !a.CreatedAt.Before(since) {
			inWindow = append(inWindow, a)
		}
	}
	if len(inWindow) < 2 {
		return nil
	}

	keep := inWindow[0]
	violation := alerterr.InvariantViolation("dedup", "%d active alerts for %s, merging into %s", len(inWindow), metric, keep.ID)
	e.logger.Warn().Err(violation).Str("metric", metric).Msg("duplicate active alerts detected")

	for _, dup := range inWindow[1:] {
		if err := e.alerts.Resolve(ctx, dup.ID, ResolvedByMerge, now); err != nil {
			return alerterr.Store("resolve duplicate", err)
		}
	}
	return nil
}

func newThresholdAlert(reading model.MetricReading, t *model.AlertThreshold, severity model.Severity, now time.Time) *model.Alert {
	level := t.LevelFor(severity)
	op := ">="
	if t.ComparisonMode == model.ComparisonLowerIsBad {
		op = "<="
	}
	return &model.Alert{
		Type:           model.AlertTypeThreshold,
		MetricName:     t.MetricName,
		Severity:       severity,
		Value:          reading.Value,
		ThresholdValue: level,
		Title:          fmt.Sprintf("%s %s", t.Label(), severity),
		Description: fmt.Sprintf("%s is %s (%s %s %s)", t.Label(),
			formatValue(reading.Value), severity, op, formatValue(level)),
		Status:           model.AlertStatusActive,
		CreatedAt:        now,
		NotifiedChannels: []string{},
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
