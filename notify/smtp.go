package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPOptions configures the relay. Port defaults to 587.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	From     string
}

// SMTPSender sends plain text mail through a relay, upgrading with STARTTLS when enabled.
type SMTPSender struct {
	opts SMTPOptions
}

// NewSMTPSender returns a sender for opts.
func NewSMTPSender(opts SMTPOptions) *SMTPSender {
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &SMTPSender{opts: opts}
}

// Send delivers one plain text message to to. Authentication is used when a
// username is set.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	from, err := mail.ParseAddress(s.opts.From)
	if err != nil {
		return fmt.Errorf("%w: invalid sender %q: %v", ErrNotConfigured, s.opts.From, err)
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	msg := buildMessage(from, to, subject, body)

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	// ensure we don't hang forever
	deadline := time.Now().Add(15 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.opts.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if s.opts.TLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.opts.Host}); err != nil {
				return err
			}
		}
	}
	if s.opts.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from *mail.Address, to, subject, body string) []byte {
	var msg strings.Builder
	headers := [][2]string{
		{"From", from.String()},
		{"To", to},
		{"Subject", mime.BEncoding.Encode("UTF-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
		{"Content-Transfer-Encoding", "8bit"},
	}
	for _, h := range headers {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(msg.String())
}
