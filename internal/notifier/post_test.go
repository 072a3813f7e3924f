package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   bool
		temporary bool
	}{
		{"ok", http.StatusOK, "ok", false, false},
		{"no content", http.StatusNoContent, "", false, false},
		{"bad request", http.StatusBadRequest, "invalid_payload", true, false},
		{"throttled", http.StatusTooManyRequests, "slow down", true, true},
		{"unavailable", http.StatusServiceUnavailable, "maintenance", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotHeader string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotHeader = r.Header.Get("X-Test")
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q", ct)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			decorate := func(req *http.Request, body []byte) {
				req.Header.Set("X-Test", string(body))
			}
			err := postJSON(context.Background(), srv.Client(), "slack", srv.URL, map[string]int{"n": 1}, decorate)

			if gotHeader != `{"n":1}` {
				t.Errorf("decorate saw body %q", gotHeader)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var de *DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("expected DeliveryError, got %v", err)
			}
			if de.Status != tt.status || de.Body != tt.body || de.Temporary() != tt.temporary {
				t.Errorf("DeliveryError = %+v, temporary %v", de, de.Temporary())
			}
			if !strings.Contains(err.Error(), "slack delivery failed") {
				t.Errorf("error = %q", err)
			}
		})
	}
}

func TestPostJSON_ErrorBodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer srv.Close()

	err := postJSON(context.Background(), srv.Client(), "teams", srv.URL, struct{}{}, nil)
	var de *DeliveryError
	if !errors.As(err, &de) || len(de.Body) != maxErrorBody {
		t.Fatalf("expected body capped at %d, got %v", maxErrorBody, err)
	}
}

func TestPostJSON_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := postJSON(ctx, srv.Client(), "webhook", srv.URL, struct{}{}, nil)
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		t.Error("transport failure must not look like an endpoint answer")
	}
}

func TestWebhookChannelConfigValidation(t *testing.T) {
	validators := map[string]func(string) error{
		"slack": func(u string) error { c := SlackConfig{WebhookURL: u}; return c.Validate() },
		"teams": func(u string) error { c := TeamsConfig{WebhookURL: u}; return c.Validate() },
	}
	tests := []struct {
		url    string
		errMsg string
	}{
		{"", "webhook URL is required"},
		{"http://hooks.example.com/x", "must use HTTPS"},
		{"https:///services/x", "has no host"},
		{"https://hooks.example.com/x", ""},
	}

	for channel, validate := range validators {
		for _, tt := range tests {
			err := validate(tt.url)
			switch {
			case tt.errMsg == "" && err != nil:
				t.Errorf("%s %q: unexpected error %v", channel, tt.url, err)
			case tt.errMsg != "" && (err == nil || !strings.Contains(err.Error(), tt.errMsg)):
				t.Errorf("%s %q: error = %v, want %q", channel, tt.url, err, tt.errMsg)
			}
		}
	}

	if _, err := NewSlackNotifier(SlackConfig{WebhookURL: "http://x"}); err == nil {
		t.Error("NewSlackNotifier accepted an http URL")
	}
	if _, err := NewTeamsNotifier(TeamsConfig{WebhookURL: "https://outlook.office.com/webhook/x"}); err != nil {
		t.Errorf("NewTeamsNotifier: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a longer string", 10, "this is..."},
		{"ünïcödé wörds", 8, "ünïcö..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSeverityPresentation(t *testing.T) {
	tests := []struct {
		severity models.Severity
		emoji    string
		style    string
	}{
		{models.SeverityCritical, "\U0001F534", "attention"},
		{models.SeverityHigh, "\U0001F7E0", "warning"},
		{models.SeverityMedium, "\U0001F7E1", "accent"},
		{models.SeverityLow, "\U0001F7E2", "good"},
		{models.Severity("unknown"), "⚪", "default"},
	}
	for _, tt := range tests {
		if got := severityEmoji(tt.severity); got != tt.emoji {
			t.Errorf("severityEmoji(%q) = %q, want %q", tt.severity, got, tt.emoji)
		}
		if got := teamsSeverityStyle(tt.severity); got != tt.style {
			t.Errorf("teamsSeverityStyle(%q) = %q, want %q", tt.severity, got, tt.style)
		}
	}
}

// rewriteTo sends every request to target, keeping the request path.
func rewriteTo(t *testing.T, target string) http.RoundTripper {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse %q: %v", target, err)
	}
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		r = r.Clone(r.Context())
		r.URL.Scheme, r.URL.Host = u.Scheme, u.Host
		return http.DefaultTransport.RoundTrip(r)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
