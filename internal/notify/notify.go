// Package notify delivers rendered messages to notification channels.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"alert-engine/internal/model"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	AlertID  string               // 告警 ID
	Severity model.Severity       // 告警级别
	Subject  string               // 标题
	Body     string               // 正文
	Format   model.TemplateFormat // 正文格式
}

// Result carries what the provider answered.
type Result struct {
	StatusCode       int    // HTTP / SMTP 状态码
	ProviderResponse string // 服务商响应
}

// Sender delivers a message through one channel type.
// Send performs exactly one attempt; retries belong to the caller.
type Sender interface {
	Type() model.ChannelType
	Send(ctx context.Context, channel *model.NotificationChannel, msg *Message) (*Result, error)
}

// Registry maps channel types to senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[model.ChannelType]Sender
}

// NewRegistry creates a registry holding the given senders.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[model.ChannelType]Sender)}
	for _, s := range senders {
		r.Register(s)
	}
	return r
}

// NewDefaultRegistry creates a registry with the email, chat, sms and webhook senders.
func NewDefaultRegistry(timeout time.Duration, logger zerolog.Logger) *Registry {
	return NewRegistry(
		NewEmailSender(timeout, logger),
		NewChatSender(timeout, logger),
		NewSMSSender(timeout, logger),
		NewWebhookSender(timeout, logger),
	)
}

// Register adds or replaces the sender for its channel type.
func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
}

// Get returns the sender for a channel type.
func (r *Registry) Get(t model.ChannelType) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[t]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel type %q", t)
	}
	return s, nil
}

// newHTTPClient creates the resty client shared by the HTTP based senders.
// Retries are disabled here because the dispatcher owns the attempt loop.
func newHTTPClient(timeout time.Duration) *resty.Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "alertd").
		SetRetryCount(0)
}

// checkResponse converts a resty response into a Result, failing on non-2xx status.
func checkResponse(resp *resty.Response, err error) (*Result, error) {
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	result := &Result{
		StatusCode:       resp.StatusCode(),
		ProviderResponse: truncate(string(resp.Body()), 512),
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return result, fmt.Errorf("provider returned status %d: %s", resp.StatusCode(), result.ProviderResponse)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
