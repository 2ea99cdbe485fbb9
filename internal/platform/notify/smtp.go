package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"clientportal/internal/platform/config"
)

// SMTPSender relays messages through an SMTP server.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password),
		from:   fromHeader(cfg),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnreachable, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	conn, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnreachable, err)
	}
	defer conn.Close()

	if err := gomail.Send(conn, m); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkRejected, err)
	}
	return nil
}
