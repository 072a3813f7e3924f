package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

func TestTeamsNotifierSend(t *testing.T) {
	var (
		hits    int
		path    string
		payload teamsMessage
	)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	n := &TeamsNotifier{config: TeamsConfig{WebhookURL: srv.URL + "/default"}, httpClient: srv.Client()}

	if err := n.Send(context.Background(), &Message{Instance: testInstance(models.SeverityHigh)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/default" || payload.Type != "message" || len(payload.Attachments) != 1 {
		t.Errorf("unexpected delivery to %q: %+v", path, payload)
	}

	msg := &Message{Instance: testInstance(models.SeverityLow), Recipient: srv.URL + "/override"}
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send with override: %v", err)
	}
	if hits != 2 || path != "/override" {
		t.Errorf("override: hits %d, last path %q", hits, path)
	}
}

func TestTeamsNotifierRejectsPlainRecipient(t *testing.T) {
	n := &TeamsNotifier{
		config:     TeamsConfig{WebhookURL: "https://outlook.office.com/webhook/default"},
		httpClient: http.DefaultClient,
	}
	err := n.Send(context.Background(), &Message{Instance: testInstance(models.SeverityLow), Recipient: "ops-channel"})
	if err == nil || !strings.Contains(err.Error(), "HTTPS") {
		t.Fatalf("expected HTTPS error, got %v", err)
	}
}

func TestTeamsAdaptiveCard(t *testing.T) {
	tests := []struct {
		name        string
		context     map[string]any
		description string
		wantBody    int
	}{
		// title, facts, message
		{"minimal", nil, "", 3},
		{"with context", map[string]any{"errorCount": 6}, "", 4},
		{"full", map[string]any{"errorCount": 6}, "More than 5 errors in 10 minutes", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := testInstance(models.SeverityCritical)
			inst.Context = tt.context
			payload := (&TeamsNotifier{}).buildPayload(&Message{Instance: inst, Description: tt.description})

			att := payload.Attachments[0]
			if att.ContentType != "application/vnd.microsoft.card.adaptive" {
				t.Errorf("content type = %q", att.ContentType)
			}
			if att.Content.Type != "AdaptiveCard" || att.Content.Version != "1.4" {
				t.Errorf("unexpected card %s/%s", att.Content.Type, att.Content.Version)
			}
			if len(att.Content.Body) != tt.wantBody {
				t.Errorf("body elements = %d, want %d", len(att.Content.Body), tt.wantBody)
			}
		})
	}

	inst := testInstance(models.SeverityCritical)
	inst.Context = map[string]any{"errorCount": 6}
	raw, err := json.Marshal((&TeamsNotifier{}).buildPayload(&Message{Instance: inst, Description: "More than 5 errors"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{"Error Spike", "CRITICAL", "attention", "IMPORT-01", "web-1", "errorCount", "More than 5 errors", "inst-1", "New", `"isSubtle":true`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("card missing %q", want)
		}
	}
}
