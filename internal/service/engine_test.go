package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-engine/internal/config"
	"alert-engine/internal/model"
	"alert-engine/internal/notify"
	"alert-engine/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Concurrency: 4,
			DedupWindow: time.Hour,
			Timezone:    "UTC",
			Interval:    time.Minute,
			BusinessHours: config.BusinessHoursConfig{
				Start: 9, End: 18, Days: []int{1, 2, 3, 4, 5},
			},
		},
		Notification: config.NotificationConfig{
			SendTimeout:  200 * time.Millisecond,
			MaxAttempts:  3,
			RetryBackoff: time.Millisecond,
		},
		Flood: config.FloodConfig{
			Window:              time.Hour,
			MaxPerPeriod:        3,
			EscalationThreshold: 5,
			Retention:           24 * time.Hour,
		},
	}
}

type engineFixture struct {
	engine *Engine
	store  *store.Memory
	clock  *manualClock
	source *fakeSource
	rules  *staticRules
	mail   *fakeSender
	chat   *fakeSender
}

func newEngineFixture(t *testing.T, rs *model.RuleSet, opts ...Option) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:  store.NewMemory(),
		clock:  newManualClock(t0),
		source: newFakeSource(map[string]float64{}),
		rules:  &staticRules{set: rs},
		mail:   newFakeSender(model.ChannelEmail),
		chat:   newFakeSender(model.ChannelChat),
	}
	opts = append([]Option{
		WithClock(f.clock.Now),
		WithSenders(notify.NewRegistry(f.mail, f.chat)),
	}, opts...)
	f.engine = NewEngine(testConfig(), f.source, f.rules, f.store, zerolog.Nop(), opts...)
	require.NoError(t, f.engine.Init(context.Background()))
	return f
}

func baseRules() *model.RuleSet {
	return &model.RuleSet{
		Thresholds: []*model.AlertThreshold{memoryThreshold()},
		Channels:   []*model.NotificationChannel{emailChannel("ops-mail"), chatChannel("ops-chat")},
	}
}

func TestEngine_CriticalBreachRaisesAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, baseRules())
	f.source.Set("memory_usage_percent", 96)

	res, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 1, res.Raised)
	assert.Equal(t, 2, res.Sent)

	active, err := f.engine.ListActiveAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	alert := active[0]
	assert.Equal(t, model.SeverityCritical, alert.Severity)
	assert.Equal(t, 96.0, alert.Value)
	assert.Equal(t, 95.0, alert.ThresholdValue)
	assert.True(t, alert.NotificationSent)
	assert.ElementsMatch(t, []string{"ops-mail", "ops-chat"}, alert.NotifiedChannels)

	history, err := f.engine.GetNotificationHistory(ctx, alert.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Contains(t, f.mail.Last().Subject, "Memory usage critical")

	// A second breach within the dedup window is absorbed.
	f.clock.Advance(time.Minute)
	f.source.Set("memory_usage_percent", 97)
	res, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Raised)
	assert.Equal(t, 1, res.Absorbed)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, f.mail.Calls())
}

func TestEngine_TemplateContextAndCurrentReadings(t *testing.T) {
	rs := baseRules()
	rs.Thresholds[0].NotificationChannels = []string{"ops-mail"}
	rs.Thresholds = append(rs.Thresholds, &model.AlertThreshold{
		MetricName:     "disk_usage_percent",
		WarningLevel:   80,
		CriticalLevel:  90,
		ComparisonMode: model.ComparisonGreaterIsBad,
		Enabled:        true,
	})
	rs.TemplateContext = map[string]string{"dashboard_url": "https://grafana.local/d/host"}
	rs.Templates = []*model.NotificationTemplate{{
		Name:            "critical-mail",
		AlertType:       model.AlertTypeThreshold,
		Severity:        model.SeverityCritical,
		ChannelType:     model.ChannelEmail,
		SubjectTemplate: "{{title}}",
		BodyTemplate:    "see {{dashboard_url}} mem={{current_memory_usage_percent}} disk={{current_disk_usage_percent}}",
		Format:          model.FormatText,
	}}
	f := newEngineFixture(t, rs)
	f.source.Set("memory_usage_percent", 96)
	f.source.Set("disk_usage_percent", 42.5)

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.mail.Calls())
	assert.Equal(t, "see https://grafana.local/d/host mem=96 disk=42.5", f.mail.Last().Body)
}

func TestEngine_MissingReadingIsSkipped(t *testing.T) {
	f := newEngineFixture(t, baseRules())

	res, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evaluated)
	assert.Equal(t, 1, res.Missing)
}

func TestEngine_FloodEscalation(t *testing.T) {
	ctx := context.Background()
	rs := baseRules()
	rs.Thresholds[0].NotificationChannels = []string{"ops-mail"}
	rs.EscalationRules = []*model.EscalationRule{{
		Name:            "floods",
		TypeFilter:      []model.AlertType{model.AlertTypeFloodEscalation},
		DelayMinutes:    1,
		MaxLevel:        1,
		ChannelsByLevel: [][]string{{"ops-chat"}},
	}}
	f := newEngineFixture(t, rs)
	f.source.Set("memory_usage_percent", 96)

	var sent []int
	for i := 0; i < 6; i++ {
		res, err := f.engine.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Raised, "cycle %d", i+1)
		sent = append(sent, res.Sent)

		active, err := f.store.ListActive(ctx, model.AlertFilter{Type: model.AlertTypeThreshold})
		require.NoError(t, err)
		for _, a := range active {
			require.NoError(t, f.engine.ResolveAlert(ctx, a.ID, "ops"))
		}
	}
	assert.Equal(t, []int{1, 1, 1, 0, 0, 0}, sent)
	assert.Equal(t, 3, f.mail.Calls())

	floods, err := f.engine.ListActiveAlerts(ctx, model.AlertFilter{Type: model.AlertTypeFloodEscalation})
	require.NoError(t, err)
	require.Len(t, floods, 1)
	flood := floods[0]
	assert.Equal(t, model.SeverityCritical, flood.Severity)
	assert.Equal(t, "memory_usage_percent", flood.MetricName)

	health, err := f.engine.GetHealthSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), health.NotificationsThrottled)

	// The flood alert reaches its escalation channel once the rule delay passes.
	f.clock.Advance(time.Minute)
	f.source.Set("memory_usage_percent", 50)
	res, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)
	assert.Equal(t, 1, f.chat.Calls())
	assert.Contains(t, f.chat.Last().Subject, "Notification flood")

	got, err := f.engine.GetAlert(ctx, flood.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops-chat"}, got.NotifiedChannels)

	// Once the flood window has passed the flood alert resolves itself.
	f.clock.Advance(time.Hour)
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	got, err = f.engine.GetAlert(ctx, flood.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusResolved, got.Status)
	assert.Equal(t, model.ResolvedByAuto, got.ResolvedBy)

	health, err = f.engine.GetHealthSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, health.CriticalCount)
}

func TestEngine_CycleDoesNotOverlap(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, baseRules())
	f.source.Set("memory_usage_percent", 10)
	f.source.block = make(chan struct{})
	f.source.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunCycle(ctx)
		done <- err
	}()
	<-f.source.started

	_, err := f.engine.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(f.source.block)
	require.NoError(t, <-done)

	health, err := f.engine.GetHealthSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.Cycles)
	assert.Equal(t, int64(1), health.DroppedTriggers)
}

func TestEngine_SourceFailureFailsCycle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, baseRules())
	f.source.err = errors.New("connection refused")

	_, err := f.engine.RunCycle(ctx)
	require.Error(t, err)

	health, err := f.engine.GetHealthSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.FailedCycles)
	assert.Contains(t, health.LastError, "connection refused")

	// The next healthy cycle clears the last error.
	f.source.err = nil
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	health, err = f.engine.GetHealthSummary(ctx)
	require.NoError(t, err)
	assert.Empty(t, health.LastError)
}

func TestEngine_AutoResolveResetsStreak(t *testing.T) {
	ctx := context.Background()
	rs := baseRules()
	th := cpuThreshold()
	th.RequiredConsecutiveBreaches = 2
	rs.Thresholds = append(rs.Thresholds, th)
	f := newEngineFixture(t, rs)

	f.source.Set("cpu_usage_percent", 75)
	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	res, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Raised)

	f.clock.Advance(15 * time.Minute)
	f.source.Set("cpu_usage_percent", 40)
	res, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, 0, f.engine.evaluator.Streak("cpu_usage_percent"))

	active, err := f.engine.ListActiveAlerts(ctx, model.AlertFilter{MetricName: "cpu_usage_percent"})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEngine_AcknowledgeAndResolve(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, baseRules())
	f.source.Set("memory_usage_percent", 85)
	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	active, err := f.engine.ListActiveAlerts(ctx, model.AlertFilter{Severity: model.SeverityWarning})
	require.NoError(t, err)
	require.Len(t, active, 1)
	id := active[0].ID

	require.NoError(t, f.engine.AcknowledgeAlert(ctx, id, "alice"))
	got, err := f.engine.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.AcknowledgedBy)
	assert.True(t, got.IsActive())

	require.NoError(t, f.engine.ResolveAlert(ctx, id, "alice"))
	require.NoError(t, f.engine.ResolveAlert(ctx, id, "bob"))
	got, err = f.engine.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AlertStatusResolved, got.Status)
	assert.Equal(t, "alice", got.ResolvedBy)

	assert.ErrorIs(t, f.engine.AcknowledgeAlert(ctx, "missing", "alice"), store.ErrNotFound)
	assert.ErrorIs(t, f.engine.ResolveAlert(ctx, "missing", "alice"), store.ErrNotFound)
}

func TestEngine_ChannelOverrideSurvivesReload(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, baseRules())

	require.NoError(t, f.engine.SetChannelEnabled("ops-chat", false))
	require.NoError(t, f.engine.ReloadRules(ctx))

	for _, ch := range f.engine.Channels() {
		assert.Equal(t, ch.ID != "ops-chat", ch.Enabled, ch.ID)
	}

	f.source.Set("memory_usage_percent", 96)
	res, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, f.chat.Calls())

	assert.ErrorIs(t, f.engine.SetChannelEnabled("ghost", true), ErrChannelNotFound)
}

func TestEngine_ConfigProblemsCounted(t *testing.T) {
	f := newEngineFixture(t, baseRules())
	f.rules.problems = []error{errors.New("threshold[3]: unknown comparison mode")}
	require.NoError(t, f.engine.ReloadRules(context.Background()))

	health, err := f.engine.GetHealthSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.ConfigErrors)
}

func TestEngine_SendTestNotification(t *testing.T) {
	f := newEngineFixture(t, baseRules())

	rec, err := f.engine.SendTestNotification(context.Background(), "ops-mail", "ping")
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, rec.Status)
	assert.Equal(t, "ping", f.mail.Last().Body)
}

func TestEngine_ExportData(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, baseRules())
	f.source.Set("memory_usage_percent", 96)
	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	alerts, records, err := f.engine.ExportData(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, records, 2)

	alerts, records, err = f.engine.ExportData(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, records)
}

func TestEngine_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newEngineFixture(t, baseRules(), WithMetrics(m))
	f.source.Set("memory_usage_percent", 96)
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsRaised.WithLabelValues("threshold", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("email", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveAlerts.WithLabelValues("critical")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}
