package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"alert-engine/internal/model"
)

// Memory is an in-process Store. All operations are guarded by one mutex,
// which makes CreateIfAbsent an atomic check-and-insert.
type Memory struct {
	mu      sync.RWMutex
	alerts  map[string]*model.Alert
	order   []string
	records []*model.NotificationRecord
	nextID  int64
	floods  map[floodKey]model.FloodControlWindow
	states  map[string]model.ChannelState
	streaks map[string]int
}

type floodKey struct {
	metric  string
	channel model.ChannelType
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		alerts:  make(map[string]*model.Alert),
		floods:  make(map[floodKey]model.FloodControlWindow),
		states:  make(map[string]model.ChannelState),
		streaks: make(map[string]int),
	}
}

// Create inserts a new alert and returns its id.
func (m *Memory) Create(_ context.Context, alert *model.Alert) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(alert), nil
}

func (m *Memory) insertLocked(alert *model.Alert) string {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = model.AlertStatusActive
	}
	m.alerts[alert.ID] = alert.Clone()
	m.order = append(m.order, alert.ID)
	return alert.ID
}

// CreateIfAbsent inserts alert unless an active alert for its metric exists since since.
func (m *Memory) CreateIfAbsent(_ context.Context, alert *model.Alert, since time.Time) (*model.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findActiveLocked(alert.MetricName, since); existing != nil {
		return existing.Clone(), false, nil
	}
	m.insertLocked(alert)
	return alert.Clone(), true, nil
}

// FindActive returns the newest active alert for metric created after since.
func (m *Memory) FindActive(_ context.Context, metricName string, since time.Time) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActiveLocked(metricName, since).Clone(), nil
}

func (m *Memory) findActiveLocked(metricName string, since time.Time) *model.Alert {
	var found *model.Alert
	for _, id := range m.order {
		a := m.alerts[id]
		if a.MetricName != metricName || !a.IsActive() || a.Type == model.AlertTypeFloodEscalation {
			continue
		}
		if a.CreatedAt.Before(since) {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	return found
}

// Get returns an alert by id.
func (m *Memory) Get(_ context.Context, id string) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// Resolve marks an alert resolved; already resolved alerts are left untouched.
func (m *Memory) Resolve(_ context.Context, id, resolvedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status == model.AlertStatusResolved {
		return nil
	}
	a.Status = model.AlertStatusResolved
	a.ResolvedAt = &at
	a.ResolvedBy = resolvedBy
	return nil
}

// Acknowledge records an operator acknowledgement once.
func (m *Memory) Acknowledge(_ context.Context, id, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if a.AcknowledgedAt != nil {
		return nil
	}
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = by
	return nil
}

// ListActive returns active alerts matching filter, oldest first.
func (m *Memory) ListActive(_ context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Alert
	for _, id := range m.order {
		a := m.alerts[id]
		if a.IsActive() && filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

// ListAlerts returns every alert created at or after since, oldest first.
func (m *Memory) ListAlerts(_ context.Context, since time.Time) ([]*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Alert
	for _, id := range m.order {
		a := m.alerts[id]
		if !a.CreatedAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

// MarkNotified appends channel ids and flags the alert as notified.
func (m *Memory) MarkNotified(_ context.Context, id string, channelIDs []string, sent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.AddNotifiedChannels(channelIDs)
	if sent {
		a.NotificationSent = true
	}
	return nil
}

// Append stores a notification record.
func (m *Memory) Append(_ context.Context, record *model.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = m.nextID
	c := *record
	m.records = append(m.records, &c)
	return nil
}

// ListByAlert returns the records of an alert in insertion order.
func (m *Memory) ListByAlert(_ context.Context, alertID string) ([]*model.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.NotificationRecord
	for _, r := range m.records {
		if r.AlertID == alertID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// ListSince returns records sent at or after since.
func (m *Memory) ListSince(_ context.Context, since time.Time) ([]*model.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.NotificationRecord
	for _, r := range m.records {
		if !r.SentAt.Before(since) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveFloodWindow upserts a flood window.
func (m *Memory) SaveFloodWindow(_ context.Context, w *model.FloodControlWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.floods[floodKey{w.MetricName, w.ChannelType}] = *w
	return nil
}

// LoadFloodWindows returns every stored flood window.
func (m *Memory) LoadFloodWindows(_ context.Context) ([]*model.FloodControlWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.FloodControlWindow, 0, len(m.floods))
	for _, w := range m.floods {
		c := w
		out = append(out, &c)
	}
	return out, nil
}

// DeleteFloodWindows removes windows last seen before olderThan.
func (m *Memory) DeleteFloodWindows(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.floods {
		if w.LastSeen.Before(olderThan) {
			delete(m.floods, k)
			n++
		}
	}
	return n, nil
}

// SaveChannelState upserts the state of one channel.
func (m *Memory) SaveChannelState(_ context.Context, channelID string, state model.ChannelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[channelID] = state
	return nil
}

// LoadChannelStates returns the stored channel states.
func (m *Memory) LoadChannelStates(_ context.Context) (map[string]model.ChannelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.ChannelState, len(m.states))
	for id, st := range m.states {
		out[id] = st
	}
	return out, nil
}

// SaveBreachStreak stores a breach counter; zero removes it.
func (m *Memory) SaveBreachStreak(_ context.Context, metricName string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count <= 0 {
		delete(m.streaks, metricName)
		return nil
	}
	m.streaks[metricName] = count
	return nil
}

// LoadBreachStreaks returns the stored breach counters.
func (m *Memory) LoadBreachStreaks(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.streaks))
	for k, v := range m.streaks {
		out[k] = v
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }

func sortByCreated(alerts []*model.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
}
