package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"alert-engine/internal/model"
)

// AlertDispatcher is the part of the Dispatcher used by escalation.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *model.Alert, channelIDs []string, forced bool) (*DispatchResult, error)
}

// EscalationEngine widens the audience of long-lived active alerts.
type EscalationEngine struct {
	dispatcher AlertDispatcher
	business   model.BusinessHours
	loc        *time.Location
	now        Clock
	logger     zerolog.Logger
}

// EscalationSummary aggregates one escalation pass.
type EscalationSummary struct {
	Escalated int
	Dispatch  DispatchResult
}

// NewEscalationEngine creates an escalation engine.
func NewEscalationEngine(dispatcher AlertDispatcher, business model.BusinessHours, loc *time.Location, now Clock, logger zerolog.Logger) *EscalationEngine {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = systemClock
	}
	return &EscalationEngine{
		dispatcher: dispatcher,
		business:   business,
		loc:        loc,
		now:        now,
		logger:     logger.With().Str("component", "escalation").Logger(),
	}
}

// MatchRule returns the first rule accepting the alert, or nil.
func MatchRule(rules []*model.EscalationRule, alert *model.Alert) *model.EscalationRule {
	for _, r := range rules {
		if r.Matches(alert) {
			return r
		}
	}
	return nil
}

// Run escalates every due alert. Store failures abort the pass.
func (e *EscalationEngine) Run(ctx context.Context, alerts []*model.Alert, rules []*model.EscalationRule) (*EscalationSummary, error) {
	summary := &EscalationSummary{}
	if len(rules) == 0 {
		return summary, nil
	}
	now := e.now()

	for _, alert := range alerts {
		if !alert.IsActive() {
			continue
		}
		rule := MatchRule(rules, alert)
		if rule == nil {
			continue
		}
		if rule.RequireAck && alert.IsAcknowledged() {
			continue
		}

		level := rule.Level(alert.CreatedAt, now)
		if level == 0 {
			continue
		}
		if rule.BusinessHoursOnly && !e.business.Contains(now.In(e.loc)) {
			e.logger.Debug().Str("alert_id", alert.ID).Str("rule", rule.Name).Msg("outside business hours, escalation deferred")
			continue
		}

		channels := rule.ChannelsAt(level)
		if len(channels) == 0 || alert.HasNotifiedAll(channels) {
			continue
		}

		e.logger.Info().
			Str("alert_id", alert.ID).
			Str("metric", alert.MetricName).
			Str("rule", rule.Name).
			Int("level", level).
			Strs("channels", channels).
			Msg("escalating alert")

		res, err := e.dispatcher.Dispatch(ctx, alert, channels, true)
		if err != nil {
			return summary, err
		}
		summary.Escalated++
		summary.Dispatch.Sent += res.Sent
		summary.Dispatch.Failed += res.Failed
		summary.Dispatch.Skipped += res.Skipped
		summary.Dispatch.Throttled += res.Throttled
		summary.Dispatch.Records = append(summary.Dispatch.Records, res.Records...)
	}
	return summary, nil
}
