package services

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/jaytaylor/html2text"
)

var ErrUnknownTemplate = errors.New("unknown email template")

// Template names
const (
	TemplateRequestApproved     = "request_approved"
	TemplateRequestRejected     = "request_rejected"
	TemplateCheckinApproved     = "checkin_approved"
	TemplateCheckinRejected     = "checkin_rejected"
	TemplateCarBookingApproved  = "car_booking_approved"
	TemplateCarBookingRejected  = "car_booking_rejected"
	TemplateReservationReminder = "reservation_reminder"
	TemplateOverdue             = "overdue"
	TemplateWelcome             = "welcome"
	TemplateAnnouncement        = "announcement"
	TemplateLoginAlert          = "login_alert"
	TemplateAdminNewRequest     = "admin_new_request"
)

const emailLayout = `{{define "layout"}}<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f6f6; padding: 24px;">
<div style="max-width: 560px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 24px;">
<h2 style="margin-top: 0;">{{template "heading" .}}</h2>
{{template "content" .}}
{{if .Link}}<p><a href="{{.Link}}" style="display: inline-block; padding: 10px 16px; background: #1f6feb; color: #ffffff; text-decoration: none; border-radius: 4px;">{{if .LinkLabel}}{{.LinkLabel}}{{else}}Open {{.AppName}}{{end}}</a></p>{{end}}
<p style="color: #888888; font-size: 12px;">You are receiving this email from {{.AppName}}. You can change which emails you get in your notification settings.</p>
</div>
</body>
</html>{{end}}`

type emailTemplate struct {
	subject *texttemplate.Template
	body    *htmltemplate.Template
}

var emailTemplateSources = map[string]struct {
	subject string
	heading string
	content string
}{
	TemplateRequestApproved: {
		subject: `Your gear request for {{.GearName}} was approved`,
		heading: `Request approved`,
		content: `<p>Hi {{.Name}},</p>
<p>Your request for <strong>{{.GearName}}</strong> has been approved.</p>
{{if .DueDate}}<p>Please return it by <strong>{{.DueDate}}</strong>.</p>{{end}}
{{if .Notes}}<p>Notes from the team: {{.Notes}}</p>{{end}}`,
	},
	TemplateRequestRejected: {
		subject: `Your gear request for {{.GearName}} was not approved`,
		heading: `Request rejected`,
		content: `<p>Hi {{.Name}},</p>
<p>Unfortunately your request for <strong>{{.GearName}}</strong> was not approved.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`,
	},
	TemplateCheckinApproved: {
		subject: `Check-in confirmed for {{.GearName}}`,
		heading: `Check-in approved`,
		content: `<p>Hi {{.Name}},</p>
<p>Your return of <strong>{{.GearName}}</strong> has been confirmed. Thank you!</p>
{{if .Condition}}<p>Recorded condition: {{.Condition}}</p>{{end}}`,
	},
	TemplateCheckinRejected: {
		subject: `Check-in for {{.GearName}} needs attention`,
		heading: `Check-in rejected`,
		content: `<p>Hi {{.Name}},</p>
<p>Your check-in of <strong>{{.GearName}}</strong> could not be confirmed.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
<p>Please contact an administrator.</p>`,
	},
	TemplateCarBookingApproved: {
		subject: `Car booking confirmed for {{.Date}}`,
		heading: `Car booking approved`,
		content: `<p>Hi {{.Name}},</p>
<p>Your car booking{{if .CarLabel}} for <strong>{{.CarLabel}}</strong>{{end}} on <strong>{{.Date}}</strong>{{if .TimeSlot}} ({{.TimeSlot}}){{end}} is confirmed.</p>
{{if .Destination}}<p>Destination: {{.Destination}}</p>{{end}}`,
	},
	TemplateCarBookingRejected: {
		subject: `Car booking for {{.Date}} was not approved`,
		heading: `Car booking rejected`,
		content: `<p>Hi {{.Name}},</p>
<p>Your car booking on <strong>{{.Date}}</strong>{{if .TimeSlot}} ({{.TimeSlot}}){{end}} was not approved.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`,
	},
	TemplateReservationReminder: {
		subject: `Reminder: your car booking on {{.Date}}`,
		heading: `Upcoming reservation`,
		content: `<p>Hi {{.Name}},</p>
<p>This is a reminder that you have a car booked{{if .CarLabel}} ({{.CarLabel}}){{end}} on <strong>{{.Date}}</strong>{{if .TimeSlot}} for {{.TimeSlot}}{{end}}.</p>
{{if .Destination}}<p>Destination: {{.Destination}}</p>{{end}}`,
	},
	TemplateOverdue: {
		subject: `You have {{.Count}} overdue item{{if ne .Count 1}}s{{end}}`,
		heading: `Overdue gear`,
		content: `<p>Hi {{.Name}},</p>
<p>The following gear is past its due date. Please return it as soon as possible.</p>
<ul>{{range .Items}}<li><strong>{{.GearName}}</strong> (due {{.DueDate}})</li>{{end}}</ul>`,
	},
	TemplateWelcome: {
		subject: `Welcome to {{.AppName}}`,
		heading: `Welcome, {{.Name}}!`,
		content: `<p>Your account is ready. You can now request gear, book cars and follow your requests from your dashboard.</p>`,
	},
	TemplateAnnouncement: {
		subject: `{{.Title}}`,
		heading: `{{.Title}}`,
		content: `<p>Hi {{.Name}},</p>
<p>{{.Content}}</p>`,
	},
	TemplateLoginAlert: {
		subject: `New sign-in to your {{.AppName}} account`,
		heading: `New sign-in`,
		content: `<p>Hi {{.Name}},</p>
<p>Your account was signed in to on <strong>{{.Time}}</strong>{{if .IPAddress}} from {{.IPAddress}}{{end}}{{if .UserAgent}} using {{.UserAgent}}{{end}}.</p>
<p>If this wasn't you, change your password right away.</p>`,
	},
	TemplateAdminNewRequest: {
		subject: `New {{.RequestKind}} from {{.RequesterName}}`,
		heading: `New {{.RequestKind}}`,
		content: `<p>Hi {{.Name}},</p>
<p><strong>{{.RequesterName}}</strong> submitted a new {{.RequestKind}}{{if .GearName}} for <strong>{{.GearName}}</strong>{{end}}.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
<p>Please review it in the admin dashboard.</p>`,
	},
}

var emailTemplates = mustParseEmailTemplates()

func mustParseEmailTemplates() map[string]emailTemplate {
	out := make(map[string]emailTemplate, len(emailTemplateSources))
	for name, src := range emailTemplateSources {
		subject := texttemplate.Must(texttemplate.New(name).Parse(src.subject))

		body := htmltemplate.Must(htmltemplate.New(name).Parse(emailLayout))
		htmltemplate.Must(body.New("heading").Parse(src.heading))
		htmltemplate.Must(body.New("content").Parse(src.content))

		out[name] = emailTemplate{subject: subject, body: body}
	}
	return out
}

// TemplateNames lists every registered template.
func TemplateNames() []string {
	names := make([]string, 0, len(emailTemplates))
	for name := range emailTemplates {
		names = append(names, name)
	}
	return names
}

// RenderEmail renders subject, HTML and plain-text bodies for a named template.
func RenderEmail(name string, params map[string]interface{}) (subject, html, text string, err error) {
	tpl, ok := emailTemplates[name]
	if !ok {
		return "", "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	var subjectBuf, bodyBuf bytes.Buffer
	if err := tpl.subject.Execute(&subjectBuf, params); err != nil {
		return "", "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.ExecuteTemplate(&bodyBuf, "layout", params); err != nil {
		return "", "", "", fmt.Errorf("render body: %w", err)
	}

	html = bodyBuf.String()
	text, err = plainText(html)
	if err != nil {
		return "", "", "", err
	}
	return strings.TrimSpace(subjectBuf.String()), html, text, nil
}

// plainText derives the text/plain alternative of an HTML body.
func plainText(html string) (string, error) {
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: false})
	if err != nil {
		return "", fmt.Errorf("render text body: %w", err)
	}
	return strings.TrimSpace(text), nil
}
