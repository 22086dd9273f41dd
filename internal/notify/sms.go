package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"alert-engine/internal/model"
)

// smsMaxLength is the length at which SMS text is cut.
const smsMaxLength = 480

// SMSRequest is the JSON body accepted by the SMS gateway.
type SMSRequest struct {
	Sender  string   `json:"sender,omitempty"`
	To      []string `json:"to"`
	Message string   `json:"message"`
}

// SMSSender delivers messages through an HTTP SMS gateway.
type SMSSender struct {
	httpClient *resty.Client
	logger     zerolog.Logger
}

// NewSMSSender creates an SMS gateway sender.
func NewSMSSender(timeout time.Duration, logger zerolog.Logger) *SMSSender {
	return &SMSSender{
		httpClient: newHTTPClient(timeout),
		logger:     logger.With().Str("component", "sms-sender").Logger(),
	}
}

// Type returns the channel type handled by this sender.
func (s *SMSSender) Type() model.ChannelType { return model.ChannelSMS }

// Send submits one SMS request for all configured numbers.
func (s *SMSSender) Send(ctx context.Context, channel *model.NotificationChannel, msg *Message) (*Result, error) {
	cfg := channel.SMS
	if cfg == nil {
		return nil, fmt.Errorf("channel %q has no sms config", channel.ID)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + ": " + msg.Body
	}
	req := s.httpClient.R().
		SetContext(ctx).
		SetBody(SMSRequest{
			Sender:  cfg.Sender,
			To:      cfg.Numbers,
			Message: truncate(text, smsMaxLength),
		})
	if cfg.APIKey != "" {
		req.SetAuthToken(cfg.APIKey)
	}

	result, err := checkResponse(req.Post(cfg.Endpoint))
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", channel.ID).Msg("sms delivery failed")
		return result, err
	}

	s.logger.Debug().
		Str("channel", channel.ID).
		Int("numbers", len(cfg.Numbers)).
		Msg("sms notification sent")
	return result, nil
}
