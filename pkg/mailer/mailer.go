// Package mailer delivers password reset codes.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const subject = "Chess Game Password Reset"

// Body renders the message text for a reset code.
func Body(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your password reset code is: %s\nThis code expires in %d minutes.", code, int(ttl.Minutes()))
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends mail through an authenticated relay, upgrading with STARTTLS
// when the server offers it.
type SMTP struct {
	cfg  SMTPConfig
	ttl  time.Duration
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates a mailer. ttl is quoted in the message body.
func NewSMTP(cfg SMTPConfig, ttl time.Duration) *SMTP {
	return &SMTP{cfg: cfg, ttl: ttl, send: smtp.SendMail}
}

// SendCode mails the reset code to email.
func (m *SMTP) SendCode(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{email}, m.message(email, code)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}

func (m *SMTP) message(to, code string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(Body(code, m.ttl))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Log writes codes to the log instead of sending them. Used when no SMTP
// host is configured.
type Log struct {
	log *zap.SugaredLogger
}

// NewLog creates a logging mailer.
func NewLog(log *zap.SugaredLogger) *Log {
	return &Log{log: log}
}

// SendCode logs the code at warn level.
func (m *Log) SendCode(_ context.Context, email, code string) error {
	m.log.Warnw("smtp not configured, reset code logged instead", "email", email, "code", code)
	return nil
}
