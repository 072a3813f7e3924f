package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-LogNexus-Signature"

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	URL     string            `yaml:"url"`     // Default target URL (optional when rules set recipients)
	Secret  string            `yaml:"secret"`  // HMAC secret (optional)
	Headers map[string]string `yaml:"headers"` // Extra request headers
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL != "" && !isHTTPURL(c.URL) {
		return errors.New("webhook URL must use http or https")
	}
	return nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

// WebhookNotifier posts alert instances as JSON.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	return &WebhookNotifier{
		config:     config,
		httpClient: newChannelClient(),
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Event       EventType             `json:"event"`
	Description string                `json:"description,omitempty"`
	Alert       *models.AlertInstance `json:"alert"`
	SentAt      time.Time             `json:"sent_at"`
}

// Send posts the alert to the message recipient, or to the configured URL.
func (w *WebhookNotifier) Send(ctx context.Context, msg *Message) error {
	url := w.config.URL
	if msg.Recipient != "" {
		url = msg.Recipient
	}
	if url == "" {
		return errors.New("no webhook URL")
	}
	if !isHTTPURL(url) {
		return errors.New("webhook URL must use http or https")
	}

	payload := webhookPayload{
		Event:       EventAlertTriggered,
		Description: msg.Description,
		Alert:       msg.Instance,
		SentAt:      time.Now().UTC(),
	}
	return postJSON(ctx, w.httpClient, "webhook", url, payload, func(req *http.Request, body []byte) {
		for k, v := range w.config.Headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("X-LogNexus-Alert-ID", msg.Instance.ID)
		if w.config.Secret != "" {
			req.Header.Set(SignatureHeader, Sign(w.config.Secret, body))
		}
	})
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
