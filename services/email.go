package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"nest-server/config"
)

// EmailMessage is what the dispatcher hands to a provider.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailSender delivers one message and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// SMTPSender sends through an SMTP relay. A client is dialed per message.
type SMTPSender struct {
	cfg config.EmailConfig
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return "", fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return "", fmt.Errorf("invalid recipient address: %w", err)
	}

	id := fmt.Sprintf("%s@%s", uuid.NewString(), s.cfg.Host)
	m.SetMessageIDWithValue(id)
	m.SetDate()
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	if msg.Text != "" {
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return id, nil
}

// LogSender only logs; used when email is disabled.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	logrus.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("📧 Email disabled, message not sent")
	return "log-" + uuid.NewString(), nil
}

// EmailResult is returned instead of an error; email is best effort.
type EmailResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EmailDispatcher renders templates and hands them to the sender. At most
// concurrency messages are in flight with the provider at once.
type EmailDispatcher struct {
	sender  EmailSender
	appName string
	baseURL string
	slots   chan struct{}
}

func NewEmailDispatcher(sender EmailSender, app config.ApplicationConfig, concurrency int) *EmailDispatcher {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &EmailDispatcher{
		sender:  sender,
		appName: app.Name,
		baseURL: app.BaseURL,
		slots:   make(chan struct{}, concurrency),
	}
}

// SendTemplated renders template with params and sends it to address.
func (d *EmailDispatcher) SendTemplated(ctx context.Context, template, address string, params map[string]interface{}) (result EmailResult) {
	log := logrus.WithFields(logrus.Fields{"template": template, "to": address})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Email dispatch panicked: %v", r)
			result = EmailResult{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	address = strings.TrimSpace(address)
	if address == "" {
		return EmailResult{Error: "recipient address is empty"}
	}

	subject, html, text, err := RenderEmail(template, d.withDefaults(params))
	if err != nil {
		log.WithError(err).Error("Failed to render email")
		return EmailResult{Error: err.Error()}
	}

	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-ctx.Done():
		log.WithError(ctx.Err()).Warn("Email not sent, context done")
		return EmailResult{Error: ctx.Err().Error()}
	}

	start := time.Now()
	id, err := d.sender.Send(ctx, EmailMessage{To: address, Subject: subject, HTML: html, Text: text})
	if err != nil {
		log.WithError(err).Error("❌ Failed to send email")
		return EmailResult{Error: err.Error()}
	}

	log.WithFields(logrus.Fields{"id": id, "duration": time.Since(start)}).Info("✅ Email sent")
	return EmailResult{Success: true, ID: id}
}

func (d *EmailDispatcher) withDefaults(params map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"AppName": d.appName,
		"BaseURL": d.baseURL,
		"Name":    "there",
	}
	for k, v := range params {
		if k == "Name" && v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
