// internal/app/system/mailer/mailer.go
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/dalemusser/waffle/pantry/email"
	"go.uber.org/zap"
)

// Email is one outgoing message.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers email. Handlers depend on this, not on *Mailer.
type Sender interface {
	Send(ctx context.Context, msg Email) error
}

// Config holds SMTP settings. An empty Host selects log-only delivery.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Mailer sends email through the WAFFLE SMTP sender, or writes it to the
// log when no SMTP host is configured (local development).
type Mailer struct {
	cfg    Config
	log    *zap.Logger
	sender delivery
}

// delivery is the part of *email.Sender the Mailer uses.
type delivery interface {
	Send(ctx context.Context, msg email.Message) error
}

// New returns a Mailer for cfg.
func New(cfg Config, logger *zap.Logger) (*Mailer, error) {
	m := &Mailer{cfg: cfg, log: logger}
	if cfg.Host == "" {
		return m, nil
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("mail_from %q: %w", cfg.From, err)
	}
	m.sender = email.NewSender(email.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		FromAddress: cfg.From,
		FromName:    cfg.FromName,
	})
	return m, nil
}

// LogOnly reports whether messages are logged instead of sent.
func (m *Mailer) LogOnly() bool { return m.sender == nil }

// Send delivers msg. ctx bounds the SMTP dial and transfer.
func (m *Mailer) Send(ctx context.Context, msg Email) error {
	if msg.To == "" {
		return errors.New("mailer: empty recipient")
	}
	if m.LogOnly() {
		m.log.Info("email (log-only delivery)",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.String("body", msg.TextBody))
		return nil
	}

	err := m.sender.Send(ctx, email.Message{
		To:       []string{msg.To},
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
	})
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
