package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"alert-engine/internal/model"
	"alert-engine/internal/store"
)

// FloodSettings bounds notification volume per (metric, channel type).
type FloodSettings struct {
	Window              time.Duration
	MaxPerPeriod        int
	EscalationThreshold int
}

// EscalateFunc is called once per window when attempts reach the escalation threshold.
type EscalateFunc func(ctx context.Context, window model.FloodControlWindow) error

// ReleaseFunc is called when an escalated window ends, by reset or by sweep.
type ReleaseFunc func(ctx context.Context, window model.FloodControlWindow) error

type floodKey struct {
	metric  string
	channel model.ChannelType
}

// FloodController gates notifications per (metric, channel type).
// Every call to Allow counts as an attempt; attempts beyond MaxPerPeriod are
// suppressed, and reaching EscalationThreshold trips one escalation per window.
type FloodController struct {
	settings   FloodSettings
	persist    store.FloodStore
	onEscalate EscalateFunc
	onRelease  ReleaseFunc
	now        Clock
	locks      *keyedMutex
	logger     zerolog.Logger

	windows syncMap[floodKey, *model.FloodControlWindow]
}

// NewFloodController creates a controller. persist may be nil.
func NewFloodController(settings FloodSettings, persist store.FloodStore, now Clock, logger zerolog.Logger) *FloodController {
	if settings.Window <= 0 {
		settings.Window = time.Hour
	}
	if settings.MaxPerPeriod <= 0 {
		settings.MaxPerPeriod = 3
	}
	if settings.EscalationThreshold <= 0 {
		settings.EscalationThreshold = 5
	}
	if now == nil {
		now = systemClock
	}
	return &FloodController{
		settings: settings,
		persist:  persist,
		now:      now,
		locks:    newKeyedMutex(),
		logger:   logger.With().Str("component", "flood-controller").Logger(),
	}
}

// OnEscalate registers the escalation callback.
func (f *FloodController) OnEscalate(fn EscalateFunc) {
	f.onEscalate = fn
}

// OnRelease registers the callback for escalated windows that ended.
func (f *FloodController) OnRelease(fn ReleaseFunc) {
	f.onRelease = fn
}

// Load restores persisted windows.
func (f *FloodController) Load(ctx context.Context) error {
	if f.persist == nil {
		return nil
	}
	windows, err := f.persist.LoadFloodWindows(ctx)
	if err != nil {
		return err
	}
	for _, w := range windows {
		f.windows.Store(floodKey{w.MetricName, w.ChannelType}, w)
	}
	f.logger.Debug().Int("windows", len(windows)).Msg("flood windows restored")
	return nil
}

// Allow records one notification attempt and reports whether it may be sent.
func (f *FloodController) Allow(ctx context.Context, metric string, channelType model.ChannelType) bool {
	key := floodKey{metric, channelType}
	unlock := f.locks.Lock(metric + "\x00" + string(channelType))

	now := f.now()
	w, ok := f.windows.Load(key)
	var ended *model.FloodControlWindow
	if !ok || now.Sub(w.WindowStart) > f.settings.Window {
		if ok && w.EscalatedThisWindow {
			prev := *w
			ended = &prev
		}
		w = &model.FloodControlWindow{
			MetricName:  metric,
			ChannelType: channelType,
			WindowStart: now,
		}
		f.windows.Store(key, w)
	}

	w.CountInWindow++
	w.LastSeen = now
	allowed := w.CountInWindow <= f.settings.MaxPerPeriod
	escalate := false
	if !allowed && w.CountInWindow >= f.settings.EscalationThreshold && !w.EscalatedThisWindow {
		w.EscalatedThisWindow = true
		escalate = true
	}
	snapshot := *w
	unlock()

	if ended != nil {
		f.release(ctx, *ended)
	}
	if f.persist != nil {
		if err := f.persist.SaveFloodWindow(ctx, &snapshot); err != nil {
			f.logger.Warn().Err(err).Str("metric", metric).Msg("failed to persist flood window")
		}
	}

	if !allowed {
		f.logger.Debug().
			Str("metric", metric).
			Str("channel_type", string(channelType)).
			Int("count", snapshot.CountInWindow).
			Msg("notification suppressed by flood control")
	}
	if escalate {
		f.logger.Warn().
			Str("metric", metric).
			Str("channel_type", string(channelType)).
			Int("count", snapshot.CountInWindow).
			Msg("flood escalation triggered")
		if f.onEscalate != nil {
			if err := f.onEscalate(ctx, snapshot); err != nil {
				f.logger.Error().Err(err).Str("metric", metric).Msg("failed to raise flood escalation")
			}
		}
	}
	return allowed
}

// Window returns a copy of the window for the pair.
func (f *FloodController) Window(metric string, channelType model.ChannelType) (model.FloodControlWindow, bool) {
	unlock := f.locks.Lock(metric + "\x00" + string(channelType))
	defer unlock()
	w, ok := f.windows.Load(floodKey{metric, channelType})
	if !ok {
		return model.FloodControlWindow{}, false
	}
	return *w, true
}

// ReleaseExpired ends escalated windows whose period has elapsed and returns
// how many were released. The windows stay in place until the next attempt
// or sweep, with the escalation flag cleared.
func (f *FloodController) ReleaseExpired(ctx context.Context) int {
	now := f.now()
	var ended []model.FloodControlWindow
	f.windows.Range(func(key floodKey, w *model.FloodControlWindow) bool {
		unlock := f.locks.Lock(key.metric + "\x00" + string(key.channel))
		defer unlock()
		if w.EscalatedThisWindow && now.Sub(w.WindowStart) > f.settings.Window {
			ended = append(ended, *w)
			w.EscalatedThisWindow = false
		}
		return true
	})
	for _, w := range ended {
		if f.persist != nil {
			cleared := w
			cleared.EscalatedThisWindow = false
			if err := f.persist.SaveFloodWindow(ctx, &cleared); err != nil {
				f.logger.Warn().Err(err).Str("metric", w.MetricName).Msg("failed to persist flood window")
			}
		}
		f.release(ctx, w)
	}
	return len(ended)
}

func (f *FloodController) release(ctx context.Context, w model.FloodControlWindow) {
	f.logger.Info().
		Str("metric", w.MetricName).
		Str("channel_type", string(w.ChannelType)).
		Int("count", w.CountInWindow).
		Msg("flood window released")
	if f.onRelease == nil {
		return
	}
	if err := f.onRelease(ctx, w); err != nil {
		f.logger.Error().Err(err).Str("metric", w.MetricName).Msg("failed to release flood escalation")
	}
}

// Sweep drops windows not seen for longer than retention and returns how many were removed.
func (f *FloodController) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := f.now().Add(-retention)
	removed := 0
	var ended []model.FloodControlWindow
	f.windows.Range(func(key floodKey, w *model.FloodControlWindow) bool {
		unlock := f.locks.Lock(key.metric + "\x00" + string(key.channel))
		if w.LastSeen.Before(cutoff) {
			if w.EscalatedThisWindow {
				ended = append(ended, *w)
			}
			f.windows.Delete(key)
			removed++
		}
		unlock()
		return true
	})
	for _, w := range ended {
		f.release(ctx, w)
	}

	if f.persist != nil {
		if _, err := f.persist.DeleteFloodWindows(ctx, cutoff); err != nil {
			return removed, err
		}
	}
	f.logger.Debug().Int("removed", removed).Msg("flood windows swept")
	return removed, nil
}
