package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cppla/livewell/config"
)

// Sender delivers one plain text message. A nil error means the provider accepted it.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ErrNotConfigured is returned when the delivery credential or endpoint is missing.
var ErrNotConfigured = errors.New("notification delivery is not configured")

// NewSenderFromConfig returns the Sender selected by DELIVERY_PROVIDER.
func NewSenderFromConfig(cfg config.AppConfig) (Sender, error) {
	switch strings.ToLower(cfg.DeliveryProvider) {
	case config.DeliverySMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("%w: SMTP_HOST is not set", ErrNotConfigured)
		}
		return NewSMTPSender(SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
			From:     cfg.AlertFrom,
		}), nil
	case config.DeliveryResend, "":
		if strings.TrimSpace(cfg.ResendAPIKey) == "" {
			return nil, fmt.Errorf("%w: RESEND_API_KEY is not set", ErrNotConfigured)
		}
		return NewResendSender(cfg.ResendBaseURL, cfg.ResendAPIKey, cfg.AlertFrom, nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown DELIVERY_PROVIDER %q", ErrNotConfigured, cfg.DeliveryProvider)
	}
}
