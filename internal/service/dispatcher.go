package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"alert-engine/internal/alerterr"
	"alert-engine/internal/model"
	"alert-engine/internal/notify"
	"alert-engine/internal/store"
)

// Skip and throttle reasons written to notification records.
const (
	ReasonChannelDisabled = "channel disabled"
	ReasonUnknownChannel  = "unknown channel"
	ReasonInactiveHours   = "outside active hours"
	ReasonCooldown        = "channel cooling down"
	ReasonHourlyLimit     = "hourly limit reached"
	ReasonFloodControl    = "suppressed by flood control"
)

// ErrChannelNotFound is returned for unknown channel ids.
var ErrChannelNotFound = errors.New("channel not found")

// DispatchSettings controls sender timeouts and retries.
type DispatchSettings struct {
	SendTimeout  time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// DispatchResult aggregates the records written by one dispatch.
type DispatchResult struct {
	Sent      int
	Failed    int
	Skipped   int
	Throttled int
	Records   []*model.NotificationRecord
}

func (r *DispatchResult) add(rec *model.NotificationRecord) {
	r.Records = append(r.Records, rec)
	switch rec.Status {
	case model.NotificationSent:
		r.Sent++
	case model.NotificationFailed:
		r.Failed++
	case model.NotificationSkipped:
		r.Skipped++
	case model.NotificationThrottled:
		r.Throttled++
	}
}

// channelEntry owns one channel's configuration and rate-limit state.
// mu serializes every dispatch to the channel.
type channelEntry struct {
	mu      sync.Mutex
	channel *model.NotificationChannel
	state   model.ChannelState
}

// Dispatcher delivers alerts to channels and records every outcome.
type Dispatcher struct {
	registry *notify.Registry
	renderer *Renderer
	flood    *FloodController
	alerts   store.AlertStore
	history  store.HistoryStore
	states   store.ChannelStateStore
	settings DispatchSettings
	loc      *time.Location
	now      Clock
	onRecord func(*model.NotificationRecord)
	logger   zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*channelEntry
	context  map[string]string
}

// NewDispatcher creates a dispatcher. flood may be nil to disable flood control.
// When history also implements store.ChannelStateStore, channel rate-limit
// state is persisted after every successful send.
func NewDispatcher(
	registry *notify.Registry,
	renderer *Renderer,
	flood *FloodController,
	alerts store.AlertStore,
	history store.HistoryStore,
	settings DispatchSettings,
	loc *time.Location,
	now Clock,
	logger zerolog.Logger,
) *Dispatcher {
	if settings.SendTimeout <= 0 {
		settings.SendTimeout = 10 * time.Second
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 3
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = systemClock
	}
	states, _ := history.(store.ChannelStateStore)
	return &Dispatcher{
		registry: registry,
		renderer: renderer,
		flood:    flood,
		alerts:   alerts,
		history:  history,
		states:   states,
		settings: settings,
		loc:      loc,
		now:      now,
		channels: make(map[string]*channelEntry),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// OnRecord registers a hook called for every appended record.
func (d *Dispatcher) OnRecord(fn func(*model.NotificationRecord)) {
	d.onRecord = fn
}

// SetContext sets extra template variables passed to every render.
func (d *Dispatcher) SetContext(vars map[string]string) {
	d.mu.Lock()
	d.context = vars
	d.mu.Unlock()
}

// SetChannels replaces the channel configuration, keeping the rate-limit
// state of channels whose id is unchanged.
func (d *Dispatcher) SetChannels(channels []*model.NotificationChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]*channelEntry, len(channels))
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		c := *ch
		if old, ok := d.channels[ch.ID]; ok {
			old.mu.Lock()
			next[ch.ID] = &channelEntry{channel: &c, state: old.state}
			old.mu.Unlock()
			continue
		}
		next[ch.ID] = &channelEntry{channel: &c}
	}
	d.channels = next
}

// LoadState restores persisted rate-limit state onto the configured channels.
func (d *Dispatcher) LoadState(ctx context.Context) error {
	if d.states == nil {
		return nil
	}
	saved, err := d.states.LoadChannelStates(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for id, st := range saved {
		entry := d.entry(id)
		if entry == nil {
			continue
		}
		entry.mu.Lock()
		entry.state = st
		entry.mu.Unlock()
		restored++
	}
	if restored > 0 {
		d.logger.Info().Int("channels", restored).Msg("channel state restored")
	}
	return nil
}

// Channel returns a copy of a channel configuration and its state.
func (d *Dispatcher) Channel(id string) (model.NotificationChannel, model.ChannelState, error) {
	entry := d.entry(id)
	if entry == nil {
		return model.NotificationChannel{}, model.ChannelState{}, ErrChannelNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return *entry.channel, entry.state, nil
}

// Channels returns copies of all channels ordered by priority then id.
func (d *Dispatcher) Channels() []model.NotificationChannel {
	d.mu.RLock()
	entries := make([]*channelEntry, 0, len(d.channels))
	for _, e := range d.channels {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	out := make([]model.NotificationChannel, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, *e.channel)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetChannelEnabled toggles a channel at runtime.
func (d *Dispatcher) SetChannelEnabled(id string, enabled bool) error {
	entry := d.entry(id)
	if entry == nil {
		return ErrChannelNotFound
	}
	entry.mu.Lock()
	c := *entry.channel
	c.Enabled = enabled
	entry.channel = &c
	entry.mu.Unlock()
	return nil
}

func (d *Dispatcher) entry(id string) *channelEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels[id]
}

// Dispatch sends alert to the given channels concurrently, one worker per channel.
// forced sends bypass active hours, cooldown and flood control but not the hourly cap.
// Only store failures are returned; per-channel failures are recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.Alert, channelIDs []string, forced bool) (*DispatchResult, error) {
	ids := uniqueIDs(channelIDs)
	result := &DispatchResult{}
	if len(ids) == 0 {
		return result, nil
	}
	ids = d.byPriority(ids)

	d.mu.RLock()
	extra := d.context
	d.mu.RUnlock()

	var mu sync.Mutex
	records := make([]*model.NotificationRecord, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(ids))
	for i, id := range ids {
		g.Go(func() error {
			rec := d.deliver(gctx, alert, id, forced, extra)
			if err := d.history.Append(gctx, rec); err != nil {
				return alerterr.Store("append notification record", err)
			}
			if d.onRecord != nil {
				d.onRecord(rec)
			}
			mu.Lock()
			records[i] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	var notified []string
	for _, rec := range records {
		result.add(rec)
		if forced || rec.Status == model.NotificationSent {
			notified = append(notified, rec.ChannelID)
		}
	}

	if len(notified) > 0 || result.Sent > 0 {
		if err := d.alerts.MarkNotified(ctx, alert.ID, notified, result.Sent > 0); err != nil {
			return result, alerterr.Store("mark notified", err)
		}
		alert.AddNotifiedChannels(notified)
		if result.Sent > 0 {
			alert.NotificationSent = true
		}
	}

	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("metric", alert.MetricName).
		Bool("forced", forced).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("throttled", result.Throttled).
		Msg("alert dispatched")

	return result, nil
}

// deliver runs the eligibility checks and the send for one channel.
func (d *Dispatcher) deliver(ctx context.Context, alert *model.Alert, channelID string, forced bool, extra map[string]string) *model.NotificationRecord {
	now := d.now()
	rec := &model.NotificationRecord{
		AlertID:   alert.ID,
		ChannelID: channelID,
		SentAt:    now,
		Forced:    forced,
	}

	entry := d.entry(channelID)
	if entry == nil {
		d.logger.Warn().
			Err(alerterr.Config("channel", "alert %s references unknown channel %q", alert.ID, channelID)).
			Msg("skipping unknown channel")
		rec.Status = model.NotificationSkipped
		rec.Error = ReasonUnknownChannel
		return rec
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	ch := entry.channel
	rec.ChannelType = ch.Type
	rec.Recipient = ch.Recipient()

	if !ch.Enabled {
		rec.Status = model.NotificationSkipped
		rec.Error = ReasonChannelDisabled
		return rec
	}
	if !forced {
		if !ch.IsActiveAt(now.In(d.loc)) {
			rec.Status = model.NotificationSkipped
			rec.Error = ReasonInactiveHours
			return rec
		}
		if ch.CooldownMinutes > 0 && !entry.state.LastSentAt.IsZero() &&
			now.Sub(entry.state.LastSentAt) < time.Duration(ch.CooldownMinutes)*time.Minute {
			rec.Status = model.NotificationSkipped
			rec.Error = ReasonCooldown
			return rec
		}
	}

	entry.state.RollHour(now)
	if ch.MaxPerHour > 0 && entry.state.SentThisHour >= ch.MaxPerHour {
		rec.Status = model.NotificationThrottled
		rec.Error = ReasonHourlyLimit
		return rec
	}
	if !forced && d.flood != nil && !d.flood.Allow(ctx, alert.MetricName, ch.Type) {
		rec.Status = model.NotificationThrottled
		rec.Error = ReasonFloodControl
		return rec
	}

	tpl := d.renderer.Select(alert.Type, alert.Severity, ch.Type)
	subject, body := d.renderer.Render(tpl, alert, extra)
	rec.Subject = subject
	rec.Content = body

	msg := &notify.Message{
		AlertID:  alert.ID,
		Severity: alert.Severity,
		Subject:  subject,
		Body:     body,
		Format:   tpl.Format,
	}
	res, attempts, latency, err := d.send(ctx, ch, msg)
	rec.Attempts = attempts
	rec.LatencyMs = latency.Milliseconds()
	if res != nil {
		rec.ProviderResponse = res.ProviderResponse
	}
	if err != nil {
		rec.Status = model.NotificationFailed
		rec.Error = err.Error()
		d.logger.Warn().
			Err(err).
			Str("alert_id", alert.ID).
			Str("channel", ch.ID).
			Int("attempts", attempts).
			Msg("notification failed")
		return rec
	}

	rec.Status = model.NotificationSent
	entry.state.LastSentAt = now
	entry.state.SentThisHour++
	if d.states != nil {
		if err := d.states.SaveChannelState(ctx, ch.ID, entry.state); err != nil {
			d.logger.Warn().Err(err).Str("channel", ch.ID).Msg("failed to persist channel state")
		}
	}
	return rec
}

// send performs up to MaxAttempts sends, each bounded by SendTimeout.
func (d *Dispatcher) send(ctx context.Context, ch *model.NotificationChannel, msg *notify.Message) (*notify.Result, int, time.Duration, error) {
	start := time.Now()
	sender, err := d.registry.Get(ch.Type)
	if err != nil {
		return nil, 0, 0, alerterr.Config("sender", "%v", err)
	}

	var (
		res     *notify.Result
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= d.settings.MaxAttempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, d.settings.SendTimeout)
		res, lastErr = sender.Send(sctx, ch, msg)
		cancel()
		if lastErr == nil {
			return res, attempt, time.Since(start), nil
		}
		if attempt == d.settings.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return res, attempt, time.Since(start), alerterr.Send(ch.ID, ctx.Err())
		case <-time.After(time.Duration(attempt) * d.settings.RetryBackoff):
		}
	}
	return res, attempt, time.Since(start), alerterr.Send(ch.ID, lastErr)
}

// SendTest delivers a test message to one channel, bypassing every gate.
func (d *Dispatcher) SendTest(ctx context.Context, channelID, message string) (*model.NotificationRecord, error) {
	entry := d.entry(channelID)
	if entry == nil {
		return nil, ErrChannelNotFound
	}
	entry.mu.Lock()
	ch := *entry.channel
	entry.mu.Unlock()

	now := d.now()
	rec := &model.NotificationRecord{
		AlertID:     "test",
		ChannelID:   ch.ID,
		ChannelType: ch.Type,
		Recipient:   ch.Recipient(),
		Subject:     fmt.Sprintf("[test] %s", ch.Name),
		Content:     message,
		SentAt:      now,
		Forced:      true,
	}
	res, attempts, latency, err := d.send(ctx, &ch, &notify.Message{
		AlertID: "test",
		Subject: rec.Subject,
		Body:    message,
		Format:  model.FormatText,
	})
	rec.Attempts = attempts
	rec.LatencyMs = latency.Milliseconds()
	if res != nil {
		rec.ProviderResponse = res.ProviderResponse
	}
	rec.Status = model.NotificationSent
	if err != nil {
		rec.Status = model.NotificationFailed
		rec.Error = err.Error()
	}

	if appendErr := d.history.Append(ctx, rec); appendErr != nil {
		return rec, alerterr.Store("append notification record", appendErr)
	}
	if d.onRecord != nil {
		d.onRecord(rec)
	}
	if err != nil {
		return rec, err
	}
	return rec, nil
}

// byPriority orders ids by channel priority; unknown ids sort last.
func (d *Dispatcher) byPriority(ids []string) []string {
	prio := make(map[string]int, len(ids))
	for _, id := range ids {
		entry := d.entry(id)
		if entry == nil {
			prio[id] = int(^uint(0) >> 1)
			continue
		}
		entry.mu.Lock()
		prio[id] = entry.channel.Priority
		entry.mu.Unlock()
	}

	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool { return prio[out[i]] < prio[out[j]] })
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
