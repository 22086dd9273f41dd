package notify

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alert-engine/internal/model"
)

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(timeout time.Duration, logger zerolog.Logger) *EmailSender {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &EmailSender{
		timeout: timeout,
		logger:  logger.With().Str("component", "email-sender").Logger(),
	}
}

// Type returns the channel type handled by this sender.
func (s *EmailSender) Type() model.ChannelType { return model.ChannelEmail }

// Send delivers msg to every recipient of the channel in one SMTP transaction.
func (s *EmailSender) Send(ctx context.Context, channel *model.NotificationChannel, msg *Message) (*Result, error) {
	cfg := channel.Email
	if cfg == nil {
		return nil, fmt.Errorf("channel %q has no email config", channel.ID)
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(nil); err != nil {
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return nil, fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(buildMail(cfg, msg)); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish message: %w", err)
	}
	if err := client.Quit(); err != nil {
		s.logger.Debug().Err(err).Str("channel", channel.ID).Msg("smtp QUIT failed after delivery")
	}

	s.logger.Debug().
		Str("channel", channel.ID).
		Strs("recipients", cfg.To).
		Str("subject", msg.Subject).
		Msg("email notification sent")

	return &Result{StatusCode: 250, ProviderResponse: "250 accepted"}, nil
}

// buildMail renders RFC 5322 headers and body.
// crlf normalizes body line endings to CRLF without doubling existing ones.
var crlf = strings.NewReplacer("\r\n", "\r\n", "\r", "\r\n", "\n", "\r\n")

func buildMail(cfg *model.EmailConfig, msg *Message) []byte {
	contentType := "text/plain; charset=UTF-8"
	if msg.Format == model.FormatHTML {
		contentType = "text/html; charset=UTF-8"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	if msg.AlertID != "" {
		fmt.Fprintf(&b, "X-Alert-ID: %s\r\n", msg.AlertID)
	}
	b.WriteString("\r\n")
	b.WriteString(crlf.Replace(msg.Body))
	return []byte(b.String())
}
