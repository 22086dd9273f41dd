package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-engine/internal/model"
	"alert-engine/internal/store"
)

func TestEvaluate(t *testing.T) {
	greater := &model.AlertThreshold{WarningLevel: 80, CriticalLevel: 95, ComparisonMode: model.ComparisonGreaterIsBad}
	lower := &model.AlertThreshold{WarningLevel: 0.9, CriticalLevel: 0.8, ComparisonMode: model.ComparisonLowerIsBad}
	defaultMode := &model.AlertThreshold{WarningLevel: 70, CriticalLevel: 90}

	tests := []struct {
		name      string
		threshold *model.AlertThreshold
		value     float64
		want      model.Severity
	}{
		{"greater_normal", greater, 79.9, model.SeverityNone},
		{"greater_warning_boundary", greater, 80, model.SeverityWarning},
		{"greater_warning", greater, 94.99, model.SeverityWarning},
		{"greater_critical_boundary", greater, 95, model.SeverityCritical},
		{"greater_critical", greater, 96, model.SeverityCritical},
		{"lower_normal", lower, 0.95, model.SeverityNone},
		{"lower_warning_boundary", lower, 0.9, model.SeverityWarning},
		{"lower_warning", lower, 0.85, model.SeverityWarning},
		{"lower_critical_boundary", lower, 0.8, model.SeverityCritical},
		{"lower_critical", lower, 0.1, model.SeverityCritical},
		{"empty_mode_is_greater", defaultMode, 91, model.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.value, tt.threshold))
		})
	}
}

func newTestEvaluator(clock *manualClock) (*Evaluator, *store.Memory) {
	st := store.NewMemory()
	return NewEvaluator(st, time.Hour, clock.Now, zerolog.Nop()), st
}

func TestEvaluator_Process_CreatesOnceWithinDedupWindow(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock(t0)
	ev, st := newTestEvaluator(clock)
	th := memoryThreshold()

	out, err := ev.Process(ctx, model.NewMetricReading(th.MetricName, 96, t0), th)
	require.NoError(t, err)
	require.True(t, out.Created)
	assert.Equal(t, model.SeverityCritical, out.Alert.Severity)
	assert.Equal(t, 95.0, out.Alert.ThresholdValue)
	assert.Equal(t, model.AlertTypeThreshold, out.Alert.Type)
	assert.Equal(t, "Memory usage critical", out.Alert.Title)
	first := out.Alert.ID

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Minute)
		out, err = ev.Process(ctx, model.NewMetricReading(th.MetricName, 85, clock.Now()), th)
		require.NoError(t, err)
		assert.False(t, out.Created)
		assert.Equal(t, first, out.Alert.ID)
	}

	active, err := st.ListActive(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEvaluator_Process_NewAlertAfterDedupWindow(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock(t0)
	ev, _ := newTestEvaluator(clock)
	th := memoryThreshold()

	out, err := ev.Process(ctx, model.NewMetricReading(th.MetricName, 96, t0), th)
	require.NoError(t, err)
	first := out.Alert.ID

	clock.Advance(61 * time.Minute)
	out, err = ev.Process(ctx, model.NewMetricReading(th.MetricName, 96, clock.Now()), th)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.NotEqual(t, first, out.Alert.ID)
}

func TestEvaluator_Process_NoBreach(t *testing.T) {
	clock := newManualClock(t0)
	ev, st := newTestEvaluator(clock)
	th := memoryThreshold()

	out, err := ev.Process(context.Background(), model.NewMetricReading(th.MetricName, 50, t0), th)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityNone, out.Severity)
	assert.Nil(t, out.Alert)

	active, _ := st.ListActive(context.Background(), model.AlertFilter{})
	assert.Empty(t, active)
}

func TestEvaluator_Process_ConsecutiveBreaches(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock(t0)
	ev, _ := newTestEvaluator(clock)
	th := memoryThreshold()
	th.RequiredConsecutiveBreaches = 3

	breach := model.NewMetricReading(th.MetricName, 90, t0)
	normal := model.NewMetricReading(th.MetricName, 10, t0)

	out, err := ev.Process(ctx, breach, th)
	require.NoError(t, err)
	assert.True(t, out.Pending)
	out, _ = ev.Process(ctx, breach, th)
	assert.True(t, out.Pending)
	assert.Equal(t, 2, ev.Streak(th.MetricName))

	// A normal tick resets the counter.
	out, _ = ev.Process(ctx, normal, th)
	assert.False(t, out.Pending)
	assert.Equal(t, 0, ev.Streak(th.MetricName))

	ev.Process(ctx, breach, th)
	ev.Process(ctx, breach, th)
	out, err = ev.Process(ctx, breach, th)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, model.SeverityWarning, out.Alert.Severity)

	ev.ResetStreak(ctx, th.MetricName)
	assert.Equal(t, 0, ev.Streak(th.MetricName))
}

func TestEvaluator_Process_MergesDuplicates(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock(t0)
	ev, st := newTestEvaluator(clock)
	th := memoryThreshold()

	// Simulate a duplicate written behind the evaluator's back.
	oldest := &model.Alert{Type: model.AlertTypeThreshold, MetricName: th.MetricName, Severity: model.SeverityWarning, CreatedAt: t0.Add(-20 * time.Minute)}
	dup := &model.Alert{Type: model.AlertTypeThreshold, MetricName: th.MetricName, Severity: model.SeverityWarning, CreatedAt: t0.Add(-10 * time.Minute)}
	_, err := st.Create(ctx, oldest)
	require.NoError(t, err)
	_, err = st.Create(ctx, dup)
	require.NoError(t, err)

	out, err := ev.Process(ctx, model.NewMetricReading(th.MetricName, 96, t0), th)
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, oldest.ID, out.Alert.ID)

	active, err := st.ListActive(ctx, model.AlertFilter{MetricName: th.MetricName})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, oldest.ID, active[0].ID)

	merged, err := st.Get(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, ResolvedByMerge, merged.ResolvedBy)
}

func TestEvaluator_Process_ConcurrentSameMetric(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock(t0)
	ev, st := newTestEvaluator(clock)
	th := memoryThreshold()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ev.Process(ctx, model.NewMetricReading(th.MetricName, 97, t0), th)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := st.ListActive(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
