// Package store provides the canonical alert state and notification history.
package store

import (
	"context"
	"errors"
	"time"

	"alert-engine/internal/model"
)

// ErrNotFound is returned when an alert id does not exist.
var ErrNotFound = errors.New("alert not found")

// AlertStore holds the canonical state of alerts.
// Implementations serialize CreateIfAbsent per metric so that at most one
// active alert exists per metric within the dedup window.
type AlertStore interface {
	// Create inserts a new alert and returns its id.
	Create(ctx context.Context, alert *model.Alert) (string, error)
	// CreateIfAbsent inserts alert unless an active alert for the same metric was
	// created after since. It returns the stored alert and whether it was created.
	CreateIfAbsent(ctx context.Context, alert *model.Alert, since time.Time) (*model.Alert, bool, error)
	// FindActive returns the newest active alert for metric created after since, or nil.
	FindActive(ctx context.Context, metricName string, since time.Time) (*model.Alert, error)
	// Get returns an alert by id.
	Get(ctx context.Context, id string) (*model.Alert, error)
	// Resolve marks an alert resolved. Resolving a resolved alert is a no-op.
	Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error
	// Acknowledge records an operator acknowledgement.
	Acknowledge(ctx context.Context, id, by string, at time.Time) error
	// ListActive returns active alerts matching filter, oldest first.
	ListActive(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)
	// MarkNotified appends channel ids to NotifiedChannels and sets NotificationSent when sent.
	MarkNotified(ctx context.Context, id string, channelIDs []string, sent bool) error
}

// HistoryStore holds immutable notification records.
type HistoryStore interface {
	// Append stores a record and assigns its id.
	Append(ctx context.Context, record *model.NotificationRecord) error
	// ListByAlert returns records of an alert in insertion order.
	ListByAlert(ctx context.Context, alertID string) ([]*model.NotificationRecord, error)
	// ListSince returns records sent at or after since in insertion order.
	ListSince(ctx context.Context, since time.Time) ([]*model.NotificationRecord, error)
}

// FloodStore persists flood-control windows so throttling survives restarts.
type FloodStore interface {
	// SaveFloodWindow upserts a window keyed by (metric, channel type).
	SaveFloodWindow(ctx context.Context, w *model.FloodControlWindow) error
	// LoadFloodWindows returns every stored window.
	LoadFloodWindows(ctx context.Context) ([]*model.FloodControlWindow, error)
	// DeleteFloodWindows removes windows last seen before olderThan and returns the count.
	DeleteFloodWindows(ctx context.Context, olderThan time.Time) (int, error)
}

// ChannelStateStore persists per-channel rate-limit state so cooldown and
// hourly caps hold across restarts and one-shot cycles.
type ChannelStateStore interface {
	// SaveChannelState upserts the state of one channel.
	SaveChannelState(ctx context.Context, channelID string, state model.ChannelState) error
	// LoadChannelStates returns the stored state keyed by channel id.
	LoadChannelStates(ctx context.Context) (map[string]model.ChannelState, error)
}

// StreakStore persists consecutive breach counters per metric.
type StreakStore interface {
	// SaveBreachStreak stores count for metric. A zero count removes the entry.
	SaveBreachStreak(ctx context.Context, metricName string, count int) error
	// LoadBreachStreaks returns every stored counter keyed by metric name.
	LoadBreachStreaks(ctx context.Context) (map[string]int, error)
}

// Store combines alert state, history, flood windows and pipeline state behind one backend.
type Store interface {
	AlertStore
	HistoryStore
	FloodStore
	ChannelStateStore
	StreakStore
	// ListAlerts returns every alert created at or after since, oldest first.
	ListAlerts(ctx context.Context, since time.Time) ([]*model.Alert, error)
	Close() error
}

// Open returns a store for the given driver ("memory" or "sqlite").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		return NewSQLite(path)
	default:
		return nil, errors.New("unsupported store driver: " + driver)
	}
}
