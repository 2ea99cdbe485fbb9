package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clientportal/internal/platform/config"
)

// HTTPSender posts messages to a Postmark-compatible JSON email API.
type HTTPSender struct {
	apiURL     string
	apiToken   string
	from       string
	httpClient *http.Client
}

type HTTPOption func(*HTTPSender)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSender) {
		s.httpClient = c
	}
}

func NewHTTPSender(cfg config.EmailConfig, opts ...HTTPOption) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &HTTPSender{
		apiURL:     cfg.APIURL,
		apiToken:   cfg.APIToken,
		from:       fromHeader(cfg),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type apiEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	MessageStream string `json:"MessageStream"`
}

func (s *HTTPSender) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(apiEmail{
		From:          s.from,
		To:            to,
		Subject:       subject,
		HtmlBody:      html,
		MessageStream: "outbound",
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", s.apiToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrSinkRejected, resp.StatusCode)
	}
	return nil
}
