package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	channelHTTPTimeout = 30 * time.Second
	maxErrorBody       = 1024
)

// DeliveryError is a refusal by a channel endpoint: a non-2xx HTTP answer,
// or an SMTP reply code when SMTP is set.
type DeliveryError struct {
	Channel string
	Status  int
	Body    string
	SMTP    bool
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: status %d: %s", e.Channel, e.Status, e.Body)
}

// Temporary reports whether the endpoint may accept the same payload later.
// SMTP signals that with 4xx replies.
func (e *DeliveryError) Temporary() bool {
	if e.SMTP {
		return e.Status >= 400 && e.Status < 500
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// checkHTTPSWebhook accepts absolute https URLs with a host.
func checkHTTPSWebhook(raw string) error {
	if raw == "" {
		return errors.New("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook URL: %w", err)
	}
	if u.Scheme != "https" {
		return errors.New("webhook URL must use HTTPS")
	}
	if u.Host == "" {
		return errors.New("webhook URL has no host")
	}
	return nil
}

func newChannelClient() *http.Client {
	return &http.Client{Timeout: channelHTTPTimeout}
}

// postJSON posts payload as JSON to url. decorate, when non-nil, sees the
// request and the encoded body before sending, e.g. to sign it.
func postJSON(ctx context.Context, client *http.Client, channel, url string, payload any, decorate func(req *http.Request, body []byte)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req, body)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{Channel: channel, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// truncate shortens s to max runes, ending in "...".
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
