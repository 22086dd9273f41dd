package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"alert-engine/internal/model"
)

// ChatMessage is a Slack compatible incoming-webhook payload.
type ChatMessage struct {
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
	Markdown bool   `json:"mrkdwn,omitempty"`
}

// ChatSender posts messages to chat incoming webhooks.
type ChatSender struct {
	httpClient *resty.Client
	logger     zerolog.Logger
}

// NewChatSender creates a chat webhook sender.
func NewChatSender(timeout time.Duration, logger zerolog.Logger) *ChatSender {
	return &ChatSender{
		httpClient: newHTTPClient(timeout),
		logger:     logger.With().Str("component", "chat-sender").Logger(),
	}
}

// Type returns the channel type handled by this sender.
func (s *ChatSender) Type() model.ChannelType { return model.ChannelChat }

// Send posts the message to the channel's webhook URL.
func (s *ChatSender) Send(ctx context.Context, channel *model.NotificationChannel, msg *Message) (*Result, error) {
	cfg := channel.Chat
	if cfg == nil {
		return nil, fmt.Errorf("channel %q has no chat config", channel.ID)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n" + msg.Body
	}
	payload := ChatMessage{
		Channel:  cfg.Channel,
		Username: cfg.Username,
		Text:     text,
		Markdown: msg.Format == model.FormatMarkdown,
	}

	result, err := checkResponse(s.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(cfg.WebhookURL))
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", channel.ID).Msg("chat webhook delivery failed")
		return result, err
	}

	s.logger.Debug().Str("channel", channel.ID).Msg("chat notification sent")
	return result, nil
}
