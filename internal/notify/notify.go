// Package notify delivers verification codes out of band. Codes never travel
// back to the HTTP client that requested them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"licensetrust/internal/config"
	"licensetrust/internal/security"
)

// CodeMessage is a verification code addressed to a license owner.
type CodeMessage struct {
	LicenseID string    `json:"license_id"`
	Email     string    `json:"email"`
	Purpose   string    `json:"purpose"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeSender hands a code to an external delivery channel.
type CodeSender interface {
	SendCode(ctx context.Context, msg CodeMessage) error
}

// New builds the sender selected by cfg.
func New(cfg config.NotifyConfig, logger *slog.Logger) (CodeSender, error) {
	switch cfg.Mode {
	case "", "log":
		return NewLogSender(logger), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("notify: webhook mode requires webhook_url")
		}
		return NewWebhookSender(cfg.WebhookURL, &http.Client{Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("notify: unsupported mode %q", cfg.Mode)
	}
}

// LogSender writes codes to the log. Intended for development installs
// without a mail relay.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With(slog.String("component", "notify"))}
}

// SendCode implements CodeSender.
func (s *LogSender) SendCode(ctx context.Context, msg CodeMessage) error {
	s.logger.InfoContext(ctx, "verification code",
		slog.String("license_id", msg.LicenseID),
		slog.String("email", security.MaskEmail(msg.Email)),
		slog.String("purpose", msg.Purpose),
		slog.String("code", msg.Code),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// WebhookSender posts codes as JSON to a mail relay.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(url string, client *http.Client) *WebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSender{url: url, client: client}
}

// SendCode implements CodeSender.
func (s *WebhookSender) SendCode(ctx context.Context, msg CodeMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode code message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver code: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver code: webhook returned %d", resp.StatusCode)
	}
	return nil
}
