package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"alert-engine/internal/model"
)

// WebhookPayload is the JSON body posted to generic webhooks.
type WebhookPayload struct {
	AlertID   string          `json:"alert_id"`
	Severity  string          `json:"severity"`
	Subject   string          `json:"subject"`
	Body      string          `json:"body,omitempty"`
	Rendered  json.RawMessage `json:"rendered,omitempty"` // JSON-formatted templates are embedded as-is
	Timestamp time.Time       `json:"timestamp"`
}

// WebhookSender posts messages to arbitrary HTTP endpoints.
type WebhookSender struct {
	httpClient *resty.Client
	logger     zerolog.Logger
}

// NewWebhookSender creates a generic webhook sender.
func NewWebhookSender(timeout time.Duration, logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		httpClient: newHTTPClient(timeout),
		logger:     logger.With().Str("component", "webhook-sender").Logger(),
	}
}

// Type returns the channel type handled by this sender.
func (s *WebhookSender) Type() model.ChannelType { return model.ChannelWebhook }

// Send delivers the message with the configured method and headers.
func (s *WebhookSender) Send(ctx context.Context, channel *model.NotificationChannel, msg *Message) (*Result, error) {
	cfg := channel.Webhook
	if cfg == nil {
		return nil, fmt.Errorf("channel %q has no webhook config", channel.ID)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	payload := WebhookPayload{
		AlertID:   msg.AlertID,
		Severity:  string(msg.Severity),
		Subject:   msg.Subject,
		Timestamp: time.Now().UTC(),
	}
	if msg.Format == model.FormatJSON && json.Valid([]byte(msg.Body)) {
		payload.Rendered = json.RawMessage(msg.Body)
	} else {
		payload.Body = msg.Body
	}

	req := s.httpClient.R().
		SetContext(ctx).
		SetHeaders(cfg.Headers).
		SetBody(payload)

	result, err := checkResponse(req.Execute(method, cfg.URL))
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", channel.ID).Str("method", method).Msg("webhook delivery failed")
		return result, err
	}

	s.logger.Debug().Str("channel", channel.ID).Msg("webhook notification sent")
	return result, nil
}
