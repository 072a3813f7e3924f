package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// TeamsConfig holds the default Microsoft Teams incoming webhook.
type TeamsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

func (c *TeamsConfig) Validate() error {
	return checkHTTPSWebhook(c.WebhookURL)
}

// TeamsNotifier posts alert instances as Adaptive Cards.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates the Teams channel.
func NewTeamsNotifier(config TeamsConfig) (*TeamsNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid teams config: %w", err)
	}
	return &TeamsNotifier{config: config, httpClient: newChannelClient()}, nil
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send posts the card. Teams webhooks are bound to one channel, so a
// recipient must itself be an HTTPS webhook URL.
func (t *TeamsNotifier) Send(ctx context.Context, msg *Message) error {
	url := t.config.WebhookURL
	if msg.Recipient != "" {
		if err := checkHTTPSWebhook(msg.Recipient); err != nil {
			return fmt.Errorf("teams recipient %q: %w", msg.Recipient, err)
		}
		url = msg.Recipient
	}
	return postJSON(ctx, t.httpClient, "teams", url, t.buildPayload(msg), nil)
}

// Close is a no-op.
func (t *TeamsNotifier) Close() error {
	return nil
}

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

type textBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Size     string `json:"size,omitempty"`
	Weight   string `json:"weight,omitempty"`
	Color    string `json:"color,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
	IsSubtle bool   `json:"isSubtle,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

// buildPayload lays the card out as: a severity-styled title, the instance
// facts, the message, context values and the rule description.
func (t *TeamsNotifier) buildPayload(msg *Message) teamsMessage {
	inst := msg.Instance
	emoji := severityEmoji(inst.Severity)

	facts := []fact{
		{Title: "Severity", Value: emoji + " " + strings.ToUpper(string(inst.Severity))},
		{Title: "Status", Value: string(inst.Status)},
		{Title: "Type", Value: string(inst.RuleType)},
		{Title: "Triggered", Value: inst.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST")},
	}
	if inst.JobID != "" {
		facts = append(facts, fact{Title: "Job", Value: inst.JobID})
	}
	if inst.ServerName != "" {
		facts = append(facts, fact{Title: "Server", Value: inst.ServerName})
	}
	facts = append(facts, fact{Title: "Alert ID", Value: inst.ID})

	body := []any{
		container{
			Type:  "Container",
			Style: teamsSeverityStyle(inst.Severity),
			Items: []any{textBlock{
				Type:   "TextBlock",
				Text:   fmt.Sprintf("%s %s", emoji, inst.RuleName),
				Size:   "Large",
				Weight: "Bolder",
				Wrap:   true,
			}},
		},
		factSet{Type: "FactSet", Facts: facts},
		textBlock{Type: "TextBlock", Text: truncate(inst.Message, 2000), Wrap: true},
	}

	if items := contextItems(inst.Context); len(items) > 0 {
		details := make([]fact, 0, len(items))
		for _, item := range items {
			details = append(details, fact{Title: item.Key, Value: truncate(item.Value, 200)})
		}
		body = append(body, factSet{Type: "FactSet", Facts: details})
	}

	if msg.Description != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: msg.Description, Wrap: true, IsSubtle: true})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: adaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
			},
		}},
	}
}

// teamsSeverityStyle maps severity to an Adaptive Card container style.
func teamsSeverityStyle(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "attention"
	case models.SeverityHigh:
		return "warning"
	case models.SeverityMedium:
		return "accent"
	case models.SeverityLow:
		return "good"
	default:
		return "default"
	}
}
