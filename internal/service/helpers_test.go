package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alert-engine/internal/model"
	"alert-engine/internal/notify"
	"alert-engine/internal/store"
)

// Monday 2026-03-02 10:00 UTC, inside default business hours.
var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{now: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSender records messages and fails the first failFirst calls.
type fakeSender struct {
	typ       model.ChannelType
	mu        sync.Mutex
	messages  []*notify.Message
	channels  []string
	failFirst int
	failAll   bool
	delay     time.Duration
}

func newFakeSender(t model.ChannelType) *fakeSender {
	return &fakeSender{typ: t}
}

func (f *fakeSender) Type() model.ChannelType { return f.typ }

func (f *fakeSender) Send(ctx context.Context, ch *model.NotificationChannel, msg *notify.Message) (*notify.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.channels = append(f.channels, ch.ID)
	if f.failAll || len(f.messages) <= f.failFirst {
		return &notify.Result{ProviderResponse: "503"}, errors.New("provider unavailable")
	}
	return &notify.Result{StatusCode: 200, ProviderResponse: "ok"}, nil
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeSender) Last() *notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

// fakeSource serves fixed readings.
type fakeSource struct {
	mu       sync.Mutex
	values   map[string]float64
	err      error
	calls    int
	block    chan struct{}
	started  chan struct{}
	observed time.Time
}

func newFakeSource(values map[string]float64) *fakeSource {
	return &fakeSource{values: values, observed: t0}
}

func (s *fakeSource) Set(name string, v float64) {
	s.mu.Lock()
	s.values[name] = v
	s.mu.Unlock()
}

func (s *fakeSource) Delete(name string) {
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
}

func (s *fakeSource) GetLatest(ctx context.Context, names []string) (map[string]model.MetricReading, error) {
	s.mu.Lock()
	s.calls++
	block, started := s.block, s.started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]model.MetricReading)
	for _, n := range names {
		if v, ok := s.values[n]; ok {
			out[n] = model.NewMetricReading(n, v, s.observed)
		}
	}
	return out, nil
}

// staticRules serves a fixed rule set.
type staticRules struct {
	mu       sync.Mutex
	set      *model.RuleSet
	problems []error
	err      error
	loads    int
}

func (r *staticRules) Load(context.Context) (*model.RuleSet, []error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.err != nil {
		return nil, nil, r.err
	}
	return r.set, r.problems, nil
}

func emailChannel(id string) *model.NotificationChannel {
	return &model.NotificationChannel{
		ID:      id,
		Name:    id,
		Type:    model.ChannelEmail,
		Enabled: true,
		Email:   &model.EmailConfig{SMTPHost: "smtp.local", From: "alertd@local", To: []string{id + "@local"}},
	}
}

func chatChannel(id string) *model.NotificationChannel {
	return &model.NotificationChannel{
		ID:      id,
		Name:    id,
		Type:    model.ChannelChat,
		Enabled: true,
		Chat:    &model.ChatConfig{WebhookURL: "http://chat.local/" + id},
	}
}

func testSettings() DispatchSettings {
	return DispatchSettings{
		SendTimeout:  200 * time.Millisecond,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}
}

// newTestDispatcher wires a dispatcher over a memory store with fake senders.
func newTestDispatcher(clock *manualClock, flood *FloodController, senders ...notify.Sender) (*Dispatcher, *store.Memory) {
	st := store.NewMemory()
	d := NewDispatcher(
		notify.NewRegistry(senders...),
		NewRenderer(nil, time.UTC, clock.Now),
		flood,
		st, st,
		testSettings(),
		time.UTC,
		clock.Now,
		zerolog.Nop(),
	)
	return d, st
}

func memoryThreshold() *model.AlertThreshold {
	return &model.AlertThreshold{
		MetricName:           "memory_usage_percent",
		DisplayName:          "Memory usage",
		WarningLevel:         80,
		CriticalLevel:        95,
		ComparisonMode:       model.ComparisonGreaterIsBad,
		Enabled:              true,
		NotificationChannels: []string{"ops-mail", "ops-chat"},
	}
}
