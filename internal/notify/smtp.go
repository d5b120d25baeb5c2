package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/errors"
)

// SMTPTransport sends messages over SMTP with STARTTLS.
type SMTPTransport struct {
	cfg  config.SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport creates an SMTP transport for the given configuration.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, send: smtp.SendMail}
}

// Send delivers a message as a multipart/alternative email.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	payload := buildMIMEMessage(t.cfg.From, msg)
	if err := t.send(t.cfg.Address(), auth, t.cfg.From, msg.To, payload); err != nil {
		return errors.WrapScanError(errors.CodeTransport, "SMTP delivery failed", err)
	}
	return nil
}

// buildMIMEMessage renders a multipart/alternative message with plain-text
// and HTML parts.
func buildMIMEMessage(from string, msg *Message) []byte {
	const boundary = "scanward-alt-boundary"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.TextBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
