package notifier

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	AlertID       string
	RuleName      string
	RuleType      string
	Description   string
	Severity      string
	SeverityColor string
	Message       string
	Timestamp     string
	JobID         string
	ServerName    string
	Context       []ContextItem
}

// ContextItem is one sorted entry of the instance context payload.
type ContextItem struct {
	Key   string
	Value string
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	funcs := map[string]any{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := htmltemplate.New("alert.html").Funcs(funcs).ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").Funcs(funcs).ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityHigh:
		return "#f57c00" // orange
	case models.SeverityMedium:
		return "#fbc02d" // yellow
	case models.SeverityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

// MessageToTemplateData converts a message to template data.
func MessageToTemplateData(msg *Message) TemplateData {
	inst := msg.Instance
	return TemplateData{
		AlertID:       inst.ID,
		RuleName:      inst.RuleName,
		RuleType:      string(inst.RuleType),
		Description:   msg.Description,
		Severity:      string(inst.Severity),
		SeverityColor: severityColor(inst.Severity),
		Message:       inst.Message,
		Timestamp:     inst.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST"),
		JobID:         inst.JobID,
		ServerName:    inst.ServerName,
		Context:       contextItems(inst.Context),
	}
}

// contextItems flattens the context payload in key order.
func contextItems(ctx map[string]any) []ContextItem {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]ContextItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, ContextItem{Key: k, Value: fmt.Sprint(ctx[k])})
	}
	return items
}
