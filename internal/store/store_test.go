package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-engine/internal/model"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func newAlert(metric string, created time.Time) *model.Alert {
	return &model.Alert{
		Type:           model.AlertTypeThreshold,
		MetricName:     metric,
		Severity:       model.SeverityCritical,
		Value:          96,
		ThresholdValue: 95,
		Title:          metric + " critical",
		CreatedAt:      created,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newAlert("memory_usage", baseTime)
			a.Tags = map[string]string{"env": "prod"}

			id, err := s.Create(ctx, a)
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "memory_usage", got.MetricName)
			assert.Equal(t, model.AlertStatusActive, got.Status)
			assert.Equal(t, model.SeverityCritical, got.Severity)
			assert.True(t, got.CreatedAt.Equal(baseTime))
			assert.Equal(t, "prod", got.Tags["env"])
			assert.Nil(t, got.ResolvedAt)

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_CreateIfAbsent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			since := baseTime.Add(-time.Hour)

			first, created, err := s.CreateIfAbsent(ctx, newAlert("cpu", baseTime), since)
			require.NoError(t, err)
			assert.True(t, created)

			second, created, err := s.CreateIfAbsent(ctx, newAlert("cpu", baseTime.Add(time.Minute)), since)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)

			// Outside the window a new alert is created.
			_, created, err = s.CreateIfAbsent(ctx, newAlert("cpu", baseTime.Add(2*time.Hour)), baseTime.Add(time.Hour))
			require.NoError(t, err)
			assert.True(t, created)

			// Other metrics are independent.
			_, created, err = s.CreateIfAbsent(ctx, newAlert("disk", baseTime), since)
			require.NoError(t, err)
			assert.True(t, created)
		})
	}
}

func TestStore_CreateIfAbsentConcurrent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				created int
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := s.CreateIfAbsent(ctx, newAlert("memory_usage", baseTime), baseTime.Add(-time.Hour))
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						created++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, created)
			active, err := s.ListActive(ctx, model.AlertFilter{MetricName: "memory_usage"})
			require.NoError(t, err)
			assert.Len(t, active, 1)
		})
	}
}

func TestStore_FindActiveIgnoresResolvedAndFloodAlerts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			since := baseTime.Add(-time.Hour)

			flood := newAlert("cpu", baseTime)
			flood.Type = model.AlertTypeFloodEscalation
			_, err := s.Create(ctx, flood)
			require.NoError(t, err)

			got, err := s.FindActive(ctx, "cpu", since)
			require.NoError(t, err)
			assert.Nil(t, got)

			id, err := s.Create(ctx, newAlert("cpu", baseTime))
			require.NoError(t, err)
			got, err = s.FindActive(ctx, "cpu", since)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, id, got.ID)

			require.NoError(t, s.Resolve(ctx, id, "alice", baseTime.Add(time.Minute)))
			got, err = s.FindActive(ctx, "cpu", since)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_ResolveIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.Create(ctx, newAlert("cpu", baseTime))
			require.NoError(t, err)

			first := baseTime.Add(5 * time.Minute)
			require.NoError(t, s.Resolve(ctx, id, model.ResolvedByAuto, first))
			require.NoError(t, s.Resolve(ctx, id, "bob", first.Add(time.Hour)))

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.AlertStatusResolved, got.Status)
			assert.Equal(t, model.ResolvedByAuto, got.ResolvedBy)
			require.NotNil(t, got.ResolvedAt)
			assert.True(t, got.ResolvedAt.Equal(first))

			assert.ErrorIs(t, s.Resolve(ctx, "missing", "bob", first), ErrNotFound)
		})
	}
}

func TestStore_Acknowledge(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.Create(ctx, newAlert("cpu", baseTime))
			require.NoError(t, err)

			require.NoError(t, s.Acknowledge(ctx, id, "carol", baseTime.Add(time.Minute)))
			require.NoError(t, s.Acknowledge(ctx, id, "dave", baseTime.Add(2*time.Minute)))

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, got.IsAcknowledged())
			assert.Equal(t, "carol", got.AcknowledgedBy)
			assert.True(t, got.IsActive())

			assert.ErrorIs(t, s.Acknowledge(ctx, "missing", "x", baseTime), ErrNotFound)
		})
	}
}

func TestStore_ListActiveFilter(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			warn := newAlert("disk", baseTime.Add(time.Minute))
			warn.Severity = model.SeverityWarning
			for _, a := range []*model.Alert{newAlert("cpu", baseTime), warn, newAlert("memory", baseTime.Add(2*time.Minute))} {
				_, err := s.Create(ctx, a)
				require.NoError(t, err)
			}

			all, err := s.ListActive(ctx, model.AlertFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "cpu", all[0].MetricName)
			assert.Equal(t, "memory", all[2].MetricName)

			critical, err := s.ListActive(ctx, model.AlertFilter{Severity: model.SeverityCritical})
			require.NoError(t, err)
			assert.Len(t, critical, 2)

			disk, err := s.ListActive(ctx, model.AlertFilter{MetricName: "disk"})
			require.NoError(t, err)
			require.Len(t, disk, 1)
			assert.Equal(t, model.SeverityWarning, disk[0].Severity)

			since, err := s.ListAlerts(ctx, baseTime.Add(time.Minute))
			require.NoError(t, err)
			assert.Len(t, since, 2)
		})
	}
}

func TestStore_MarkNotified(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.Create(ctx, newAlert("cpu", baseTime))
			require.NoError(t, err)

			require.NoError(t, s.MarkNotified(ctx, id, []string{"mail", "chat"}, false))
			require.NoError(t, s.MarkNotified(ctx, id, []string{"chat", "sms"}, true))
			require.NoError(t, s.MarkNotified(ctx, id, []string{"pager"}, false))

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []string{"mail", "chat", "sms", "pager"}, got.NotifiedChannels)
			assert.True(t, got.NotificationSent)

			assert.ErrorIs(t, s.MarkNotified(ctx, "missing", nil, true), ErrNotFound)
		})
	}
}

func TestStore_History(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			records := []*model.NotificationRecord{
				{AlertID: "a1", ChannelID: "mail", ChannelType: model.ChannelEmail, Status: model.NotificationSent, SentAt: baseTime, Attempts: 1},
				{AlertID: "a2", ChannelID: "chat", ChannelType: model.ChannelChat, Status: model.NotificationFailed, SentAt: baseTime.Add(time.Minute), Error: "boom", Attempts: 3},
				{AlertID: "a1", ChannelID: "sms", ChannelType: model.ChannelSMS, Status: model.NotificationThrottled, SentAt: baseTime.Add(2 * time.Minute)},
			}
			for _, r := range records {
				require.NoError(t, s.Append(ctx, r))
				assert.NotZero(t, r.ID)
			}

			byAlert, err := s.ListByAlert(ctx, "a1")
			require.NoError(t, err)
			require.Len(t, byAlert, 2)
			assert.Equal(t, "mail", byAlert[0].ChannelID)
			assert.Equal(t, model.NotificationThrottled, byAlert[1].Status)

			since, err := s.ListSince(ctx, baseTime.Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, since, 2)
			assert.Equal(t, "boom", since[0].Error)
			assert.Equal(t, 3, since[0].Attempts)
		})
	}
}

func TestStore_FloodWindows(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := &model.FloodControlWindow{
				MetricName:    "cpu",
				ChannelType:   model.ChannelEmail,
				WindowStart:   baseTime,
				CountInWindow: 2,
				LastSeen:      baseTime,
			}
			require.NoError(t, s.SaveFloodWindow(ctx, w))

			w.CountInWindow = 5
			w.EscalatedThisWindow = true
			w.LastSeen = baseTime.Add(10 * time.Minute)
			require.NoError(t, s.SaveFloodWindow(ctx, w))

			require.NoError(t, s.SaveFloodWindow(ctx, &model.FloodControlWindow{
				MetricName: "disk", ChannelType: model.ChannelChat, WindowStart: baseTime.Add(-48 * time.Hour),
				CountInWindow: 1, LastSeen: baseTime.Add(-48 * time.Hour),
			}))

			windows, err := s.LoadFloodWindows(ctx)
			require.NoError(t, err)
			require.Len(t, windows, 2)

			removed, err := s.DeleteFloodWindows(ctx, baseTime.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			windows, err = s.LoadFloodWindows(ctx)
			require.NoError(t, err)
			require.Len(t, windows, 1)
			assert.Equal(t, 5, windows[0].CountInWindow)
			assert.True(t, windows[0].EscalatedThisWindow)
			assert.True(t, windows[0].LastSeen.Equal(baseTime.Add(10*time.Minute)))
		})
	}
}

func TestStore_ChannelStateAndStreaks(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveChannelState(ctx, "ops-mail", model.ChannelState{
				SentThisHour: 1, HourWindowStart: baseTime, LastSentAt: baseTime,
			}))
			require.NoError(t, s.SaveChannelState(ctx, "ops-mail", model.ChannelState{
				SentThisHour: 2, HourWindowStart: baseTime, LastSentAt: baseTime.Add(5 * time.Minute),
			}))
			require.NoError(t, s.SaveChannelState(ctx, "ops-chat", model.ChannelState{}))

			states, err := s.LoadChannelStates(ctx)
			require.NoError(t, err)
			require.Len(t, states, 2)
			assert.Equal(t, 2, states["ops-mail"].SentThisHour)
			assert.True(t, states["ops-mail"].LastSentAt.Equal(baseTime.Add(5*time.Minute)))
			assert.True(t, states["ops-chat"].LastSentAt.IsZero())
			assert.True(t, states["ops-chat"].HourWindowStart.IsZero())

			require.NoError(t, s.SaveBreachStreak(ctx, "cpu", 1))
			require.NoError(t, s.SaveBreachStreak(ctx, "cpu", 2))
			require.NoError(t, s.SaveBreachStreak(ctx, "disk", 1))
			require.NoError(t, s.SaveBreachStreak(ctx, "disk", 0))

			streaks, err := s.LoadBreachStreaks(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"cpu": 2}, streaks)
		})
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	id, err := s.Create(context.Background(), newAlert("cpu", baseTime))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.DBPath())

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "cpu", got.MetricName)
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open("postgres", "")
	assert.Error(t, err)
}
