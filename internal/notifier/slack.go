package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// SlackConfig holds the default Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

func (c *SlackConfig) Validate() error {
	return checkHTTPSWebhook(c.WebhookURL)
}

// SlackNotifier posts alert instances as Block Kit messages.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates the Slack channel.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}
	return &SlackNotifier{config: config, httpClient: newChannelClient()}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send posts the instance. A recipient starting with https:// replaces the
// webhook, so a rule can target another workspace; any other recipient
// ("#ops", "@oncall") overrides the webhook's default channel.
func (s *SlackNotifier) Send(ctx context.Context, msg *Message) error {
	url, channel := s.config.WebhookURL, msg.Recipient
	if strings.HasPrefix(msg.Recipient, "https://") {
		url, channel = msg.Recipient, ""
	}
	payload := s.buildPayload(msg)
	payload.Channel = channel
	return postJSON(ctx, s.httpClient, "slack", url, payload, nil)
}

// Close is a no-op.
func (s *SlackNotifier) Close() error {
	return nil
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func mrkdwn(format string, args ...any) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

// buildPayload lays the instance out as: header, state fields, message,
// scope, rule description, context values and an operator hint.
func (s *SlackNotifier) buildPayload(msg *Message) slackMessage {
	inst := msg.Instance
	emoji := severityEmoji(inst.Severity)
	title := fmt.Sprintf("%s %s", emoji, inst.RuleName)

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: truncate(title, 150), Emoji: true}},
		{Type: "section", Fields: []slackText{
			mrkdwn("*Severity:*\n%s %s", emoji, strings.ToUpper(string(inst.Severity))),
			mrkdwn("*Status:*\n%s", inst.Status),
			mrkdwn("*Rule type:*\n%s", inst.RuleType),
			mrkdwn("*Triggered:*\n<!date^%d^{date_short_pretty} {time_secs}|%s>",
				inst.TriggeredAt.Unix(), inst.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST")),
		}},
		{Type: "section", Text: ptr(mrkdwn("*Message:*\n%s", truncate(inst.Message, 2000)))},
	}

	var scope []slackText
	if inst.JobID != "" {
		scope = append(scope, mrkdwn("*Job:*\n`%s`", inst.JobID))
	}
	if inst.ServerName != "" {
		scope = append(scope, mrkdwn("*Server:*\n`%s`", inst.ServerName))
	}
	if len(scope) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: scope})
	}

	if msg.Description != "" {
		blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{mrkdwn("Rule: %s", msg.Description)}})
	}

	if items := contextItems(inst.Context); len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, fmt.Sprintf("`%s=%s`", item.Key, truncate(item.Value, 80)))
		}
		blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{mrkdwn("%s", strings.Join(parts, " "))}})
	}

	blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{
		mrkdwn("Alert `%s` · acknowledge with `lognexusctl alerts ack %s`", inst.ID, inst.ID),
	}})

	return slackMessage{
		Text:   fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(inst.Severity)), inst.RuleName, truncate(inst.Message, 200)),
		Blocks: blocks,
	}
}

func ptr[T any](v T) *T { return &v }

func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534"
	case models.SeverityHigh:
		return "\U0001F7E0"
	case models.SeverityMedium:
		return "\U0001F7E1"
	case models.SeverityLow:
		return "\U0001F7E2"
	default:
		return "⚪"
	}
}
