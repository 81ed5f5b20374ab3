// Package mail sends operator alerts over SMTP. Used by the webhook turn
// driver to report unhandled conversation errors.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/logger"
	"log/slog"
)

// Alerter is the narrow surface the engine needs.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// SMTP sends alerts through a plain-auth SMTP relay.
type SMTP struct {
	cfg config.MailConfig
}

// New builds an SMTP alerter, or a no-op one when no operator address is
// configured.
func New(cfg config.MailConfig) Alerter {
	if cfg.Operator == "" || cfg.SMTPHost == "" {
		return Nop{}
	}
	return &SMTP{cfg: cfg}
}

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
}

// Alert delivers one message to the configured operator address.
func (s *SMTP) Alert(ctx context.Context, subject, body string) error {
	addr := s.addr()
	auth := smtp.PlainAuth("", s.cfg.Sender, s.cfg.Password, s.cfg.SMTPHost)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.Sender)
	fmt.Fprintf(&msg, "To: %s\r\n", s.cfg.Operator)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("\r\n")
	msg.WriteString(body)

	start := time.Now()
	err := smtp.SendMail(addr, auth, s.cfg.Sender, []string{s.cfg.Operator}, []byte(msg.String()))
	took := time.Since(start)
	if err != nil {
		logger.LogEvent(ctx, logger.MAIL, slog.LevelError, "mail.alert",
			slog.String("status", "fail"),
			slog.String("host", s.cfg.SMTPHost),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("send alert: %w", err)
	}
	logger.LogEvent(ctx, logger.MAIL, slog.LevelInfo, "mail.alert",
		slog.String("status", "ok"),
		slog.String("host", s.cfg.SMTPHost),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return nil
}

// Nop discards alerts. Active when mail is not configured.
type Nop struct{}

func (Nop) Alert(ctx context.Context, subject, _ string) error {
	logger.LogEvent(ctx, logger.MAIL, slog.LevelDebug, "mail.alert",
		slog.String("status", "skip"),
		slog.String("cause", "mail not configured"),
		slog.String("payload", subject),
	)
	return nil
}
