package service

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"alert-engine/internal/model"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AlertsRaised     *prometheus.CounterVec
	AlertsAbsorbed   prometheus.Counter
	AlertsResolved   *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	FloodEscalations prometheus.Counter
	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	DroppedTriggers  prometheus.Counter
	ConfigErrors     prometheus.Counter
	ActiveAlerts     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_alerts_raised_total",
			Help: "Alerts created, by type and severity.",
		}, []string{"type", "severity"}),
		AlertsAbsorbed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_alerts_absorbed_total",
			Help: "Breaches absorbed by an already active alert.",
		}),
		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_alerts_resolved_total",
			Help: "Alerts resolved, by resolver kind.",
		}, []string{"by"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_notifications_total",
			Help: "Notification records written, by channel type and status.",
		}, []string{"channel_type", "status"}),
		FloodEscalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_flood_escalations_total",
			Help: "Synthetic flood escalation alerts raised.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_cycles_total",
			Help: "Evaluation cycles, by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertd_cycle_duration_seconds",
			Help:    "Duration of evaluation cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		DroppedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_dropped_triggers_total",
			Help: "Cycle triggers dropped because a cycle was already running.",
		}),
		ConfigErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_config_errors_total",
			Help: "Rule items rejected at load time.",
		}),
		ActiveAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alertd_active_alerts",
			Help: "Active alerts after the last cycle, by severity.",
		}, []string{"severity"}),
	}

	collectors := []prometheus.Collector{
		m.AlertsRaised, m.AlertsAbsorbed, m.AlertsResolved, m.Notifications, m.FloodEscalations,
		m.Cycles, m.CycleDuration, m.DroppedTriggers, m.ConfigErrors, m.ActiveAlerts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) alertRaised(a *model.Alert) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	if a.Type == model.AlertTypeFloodEscalation {
		m.FloodEscalations.Inc()
	}
}

func (m *Metrics) alertAbsorbed() {
	if m != nil {
		m.AlertsAbsorbed.Inc()
	}
}

func (m *Metrics) alertResolved(by string) {
	if m != nil {
		m.AlertsResolved.WithLabelValues(by).Inc()
	}
}

func (m *Metrics) notification(rec *model.NotificationRecord) {
	if m != nil {
		m.Notifications.WithLabelValues(string(rec.ChannelType), string(rec.Status)).Inc()
	}
}

func (m *Metrics) cycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) droppedTrigger() {
	if m != nil {
		m.DroppedTriggers.Inc()
	}
}

func (m *Metrics) configErrors(n int) {
	if m != nil && n > 0 {
		m.ConfigErrors.Add(float64(n))
	}
}

func (m *Metrics) activeAlerts(warning, critical int) {
	if m == nil {
		return
	}
	m.ActiveAlerts.WithLabelValues(string(model.SeverityWarning)).Set(float64(warning))
	m.ActiveAlerts.WithLabelValues(string(model.SeverityCritical)).Set(float64(critical))
}
