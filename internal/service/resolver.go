package service

import (
	"context"

	"github.com/rs/zerolog"

	"alert-engine/internal/alerterr"
	"alert-engine/internal/model"
	"alert-engine/internal/store"
)

// MetricSource supplies the latest value per metric name.
type MetricSource interface {
	GetLatest(ctx context.Context, names []string) (map[string]model.MetricReading, error)
}

// AutoResolver clears alerts whose metric recovered after the auto-resolve delay.
type AutoResolver struct {
	alerts     store.AlertStore
	source     MetricSource
	now        Clock
	onResolved func(ctx context.Context, alert *model.Alert)
	logger     zerolog.Logger
}

// NewAutoResolver creates an auto-resolver that re-reads metrics from source.
func NewAutoResolver(alerts store.AlertStore, source MetricSource, now Clock, logger zerolog.Logger) *AutoResolver {
	if now == nil {
		now = systemClock
	}
	return &AutoResolver{
		alerts: alerts,
		source: source,
		now:    now,
		logger: logger.With().Str("component", "auto-resolver").Logger(),
	}
}

// OnResolved registers a hook called after each resolution.
func (r *AutoResolver) OnResolved(fn func(ctx context.Context, alert *model.Alert)) {
	r.onResolved = fn
}

// Due returns the active threshold alerts whose auto-resolve delay has elapsed.
func (r *AutoResolver) Due(alerts []*model.Alert, thresholds map[string]*model.AlertThreshold) []*model.Alert {
	now := r.now()
	var due []*model.Alert
	for _, a := range alerts {
		if !a.IsActive() || a.Type != model.AlertTypeThreshold {
			continue
		}
		th, ok := thresholds[a.MetricName]
		if !ok || !th.AutoResolve {
			continue
		}
		if now.Sub(a.CreatedAt) < th.AutoResolveAfter {
			continue
		}
		due = append(due, a)
	}
	return due
}

// Run re-reads the metrics of due alerts and resolves those no longer breaching.
// Missing readings leave the alert untouched.
func (r *AutoResolver) Run(ctx context.Context, alerts []*model.Alert, thresholds map[string]*model.AlertThreshold) (int, error) {
	due := r.Due(alerts, thresholds)
	if len(due) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(due))
	seen := make(map[string]bool, len(due))
	for _, a := range due {
		if !seen[a.MetricName] {
			seen[a.MetricName] = true
			names = append(names, a.MetricName)
		}
	}

	readings, err := r.source.GetLatest(ctx, names)
	if err != nil {
		r.logger.Warn().Err(err).Msg("metric source unavailable, auto-resolve skipped")
		return 0, nil
	}

	resolved := 0
	now := r.now()
	for _, a := range due {
		reading, ok := readings[a.MetricName]
		if !ok {
			r.logger.Debug().Err(alerterr.DataUnavailable(a.MetricName)).Str("alert_id", a.ID).Msg("auto-resolve skipped")
			continue
		}
		if Evaluate(reading.Value, thresholds[a.MetricName]) != model.SeverityNone {
			continue
		}
		if err := r.alerts.Resolve(ctx, a.ID, model.ResolvedByAuto, now); err != nil {
			return resolved, alerterr.Store("auto-resolve", err)
		}
		a.Status = model.AlertStatusResolved
		a.ResolvedAt = &now
		a.ResolvedBy = model.ResolvedByAuto
		resolved++

		r.logger.Info().
			Str("alert_id", a.ID).
			Str("metric", a.MetricName).
			Float64("value", reading.Value).
			Msg("alert auto-resolved")
		if r.onResolved != nil {
			r.onResolved(ctx, a)
		}
	}
	return resolved, nil
}
