package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

func TestWebhookConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty allowed", "", false},
		{"http", "http://hooks.internal/alerts", false},
		{"https", "https://hooks.example.com/alerts", false},
		{"ftp rejected", "ftp://hooks.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WebhookConfig{URL: tt.url}
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWebhookNotifierSendSigned(t *testing.T) {
	var (
		body      []byte
		signature string
		custom    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		custom = r.Header.Get("X-Team")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(WebhookConfig{
		URL:     server.URL,
		Secret:  "s3cret",
		Headers: map[string]string{"X-Team": "ops"},
	})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	if err := notifier.Send(context.Background(), &Message{Instance: testInstance(models.SeverityHigh), Description: "desc"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if signature != Sign("s3cret", body) {
		t.Errorf("signature mismatch: %q", signature)
	}
	if custom != "ops" {
		t.Errorf("custom header = %q, want ops", custom)
	}

	var payload struct {
		Event       string                `json:"event"`
		Description string                `json:"description"`
		Alert       *models.AlertInstance `json:"alert"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Event != string(EventAlertTriggered) || payload.Description != "desc" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if payload.Alert == nil || payload.Alert.ID != "inst-1" {
		t.Errorf("alert not embedded: %+v", payload.Alert)
	}
}

func TestWebhookNotifierRecipientOverride(t *testing.T) {
	var defaultHits, overrideHits int
	defaultSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defaultHits++
	}))
	defer defaultSrv.Close()
	overrideSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overrideHits++
	}))
	defer overrideSrv.Close()

	notifier, err := NewWebhookNotifier(WebhookConfig{URL: defaultSrv.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	msg := &Message{Instance: testInstance(models.SeverityLow), Recipient: overrideSrv.URL}
	if err := notifier.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if defaultHits != 0 || overrideHits != 1 {
		t.Errorf("hits default=%d override=%d", defaultHits, overrideHits)
	}
}

func TestWebhookNotifierErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	notifier, _ := NewWebhookNotifier(WebhookConfig{URL: server.URL})
	err := notifier.Send(context.Background(), &Message{Instance: testInstance(models.SeverityLow)})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("expected status 503 error, got %v", err)
	}

	empty, _ := NewWebhookNotifier(WebhookConfig{})
	if err := empty.Send(context.Background(), &Message{Instance: testInstance(models.SeverityLow)}); err == nil {
		t.Error("expected error without a URL")
	}
}

func TestSign(t *testing.T) {
	a := Sign("k", []byte("body"))
	if len(a) != 64 {
		t.Errorf("signature length = %d, want 64", len(a))
	}
	if a == Sign("other", []byte("body")) {
		t.Error("signature must depend on the secret")
	}
}
