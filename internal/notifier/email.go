package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const (
	smtpDialTimeout = 30 * time.Second
	// smtpsPort is the implicit TLS port; any other port upgrades with
	// STARTTLS when the server offers it.
	smtpsPort = 465
)

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// Validate checks the SMTP settings and that every address parses.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("SMTP host is required")
	}
	if c.Port == 0 {
		return errors.New("SMTP port is required")
	}
	if c.From == "" {
		return errors.New("from address is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", c.From, err)
	}
	for _, r := range c.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("invalid recipient %q: %w", r, err)
		}
	}
	return nil
}

// EmailNotifier delivers alert instances over SMTP as multipart mail with a
// plain text and an HTML part.
type EmailNotifier struct {
	config    EmailConfig
	from      *mail.Address
	templates *Templates
	now       func() time.Time
}

// NewEmailNotifier creates the email channel.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	from, _ := mail.ParseAddress(config.From)

	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &EmailNotifier{
		config:    config,
		from:      from,
		templates: templates,
		now:       time.Now,
	}, nil
}

// Name returns "email".
func (e *EmailNotifier) Name() string {
	return "email"
}

// Send mails the instance to the message recipient, or to the configured
// recipients when the message has none. A recipient may be a
// comma-separated address list.
func (e *EmailNotifier) Send(ctx context.Context, msg *Message) error {
	recipients := e.config.Recipients
	if msg.Recipient != "" {
		parsed, err := parseRecipients(msg.Recipient)
		if err != nil {
			return err
		}
		recipients = parsed
	}
	if len(recipients) == 0 {
		return errors.New("no email recipients")
	}

	data := MessageToTemplateData(msg)
	htmlBody, err := e.templates.RenderHTML(data)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	plainBody, err := e.templates.RenderPlain(data)
	if err != nil {
		return fmt.Errorf("render plain text: %w", err)
	}

	body, err := e.compose(msg.Instance, recipients, plainBody, htmlBody)
	if err != nil {
		return err
	}
	return e.sendMail(ctx, recipients, body)
}

// Close is a no-op; every Send opens its own connection.
func (e *EmailNotifier) Close() error {
	return nil
}

// parseRecipients turns "a@x, Ops <b@x>" into bare addresses.
func parseRecipients(raw string) ([]string, error) {
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient list %q: %w", raw, err)
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out, nil
}

// emailSubject names severity, rule and scope, e.g.
// "[LogNexus HIGH] Error Spike (server web-1)".
func emailSubject(inst *models.AlertInstance) string {
	subject := fmt.Sprintf("[LogNexus %s] %s", strings.ToUpper(string(inst.Severity)), inst.RuleName)
	switch {
	case inst.ServerName != "":
		subject += " (server " + inst.ServerName + ")"
	case inst.JobID != "":
		subject += " (job " + inst.JobID + ")"
	}
	return subject
}

// compose builds the RFC 5322 message. The Message-ID is derived from the
// instance id so mail clients thread repeated deliveries of one alert.
func (e *EmailNotifier) compose(inst *models.AlertInstance, recipients []string, plainBody, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", e.from.String())
	header("To", strings.Join(recipients, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", emailSubject(inst)))
	header("Date", e.now().UTC().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<alert-%s@lognexus>", inst.ID))
	header("X-LogNexus-Alert-ID", inst.ID)
	header("X-LogNexus-Severity", string(inst.Severity))
	header("MIME-Version", "1.0")
	header("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
	buf.WriteString("\r\n")

	for _, part := range []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", plainBody},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("encode mime part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("encode mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime message: %w", err)
	}
	return buf.Bytes(), nil
}

// smtpRefusal turns an SMTP reply error into a DeliveryError so 4xx
// replies are retried. Other errors pass through.
func smtpRefusal(step string, err error) error {
	var te *textproto.Error
	if errors.As(err, &te) {
		return fmt.Errorf("%s: %w", step, &DeliveryError{Channel: "email", Status: te.Code, Body: te.Msg, SMTP: true})
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (e *EmailNotifier) sendMail(ctx context.Context, recipients []string, msg []byte) error {
	client, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return smtpRefusal("SMTP auth", err)
		}
	}
	if err := client.Mail(e.from.Address); err != nil {
		return smtpRefusal("MAIL FROM", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return smtpRefusal("RCPT TO "+rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return smtpRefusal("DATA", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return smtpRefusal("end message", err)
	}
	return client.Quit()
}

// dial connects with implicit TLS on port 465 and STARTTLS elsewhere. The
// context deadline, if any, bounds the whole SMTP conversation.
func (e *EmailNotifier) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	tlsConfig := &tls.Config{ServerName: e.config.Host, MinVersion: tls.VersionTLS12}
	netDialer := &net.Dialer{Timeout: smtpDialTimeout}

	var conn net.Conn
	var err error
	if e.config.Port == smtpsPort {
		conn, err = (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if e.config.Port != smtpsPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	return client, nil
}
