// Package notify delivers login emails through an external sink.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clientportal/internal/platform/config"
)

var (
	// ErrSinkUnreachable means the message never reached the provider.
	ErrSinkUnreachable = errors.New("email provider unreachable")
	// ErrSinkRejected means the provider answered and refused the message.
	ErrSinkRejected = errors.New("email provider rejected message")
)

type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// NewSender picks the provider named in cfg.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "http":
		if cfg.APIURL == "" {
			return nil, errors.New("email.api_url is required for the http provider")
		}
		return NewHTTPSender(cfg), nil
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, errors.New("email.smtp.host is required for the smtp provider")
		}
		return NewSMTPSender(cfg), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

func fromHeader(cfg config.EmailConfig) string {
	if cfg.FromName == "" {
		return cfg.FromAddress
	}
	return fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
}
