package email

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

type rendered struct {
	Subject string
	HTML    string
}

const layout = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
<p>Hello {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
{{template "body" .}}
<p style="margin-top: 20px; font-size: 12px; color: #777;">This is an automated message, please do not reply.</p>
</body>
</html>`

var bodies = map[domain.EmailTemplate]struct {
	subject string
	body    string
}{
	domain.TemplateVerifyEmail: {
		subject: "Confirm your email address",
		body: `<p>Please confirm your email address to finish setting up your account.</p>
<p><a href="{{.Data.link}}">Confirm email</a></p>
<p>The link is valid for 24 hours.</p>`,
	},
	domain.TemplatePasswordReset: {
		subject: "Reset your password",
		body: `<p>We received a request to reset the password of your account. If you did not ask for it, ignore this message.</p>
<p><a href="{{.Data.link}}">Reset password</a></p>
<p>The link is valid for 1 hour.</p>`,
	},
	domain.TemplatePasswordChanged: {
		subject: "Your password was changed",
		body: `<p>The password of your account was {{if eq .Data.reason "reset"}}reset{{else}}changed{{end}} and every active session was signed out.</p>
<p>If this was not you, reset your password right away.</p>`,
	},
	domain.TemplateAccountLocked: {
		subject: "Your account was locked",
		body: `<p>Your account was locked after {{.Data.failed_login_attempts}} failed sign-in attempts.</p>
<p>Contact support to unlock it.</p>`,
	},
}

// templates are parsed once at package init; an unknown EmailTemplate is a programming error.
var templates = mustParseTemplates()

func mustParseTemplates() map[domain.EmailTemplate]*template.Template {
	out := make(map[domain.EmailTemplate]*template.Template, len(bodies))
	for name, b := range bodies {
		t := template.Must(template.New(string(name)).Parse(layout))
		template.Must(t.New("body").Parse(b.body))
		out[name] = t
	}
	return out
}

func render(msg ports.EmailMessage) (rendered, error) {
	t, ok := templates[msg.Template]
	if !ok {
		return rendered{}, fmt.Errorf("%w: unknown email template %q", domain.ErrInvalidInput, msg.Template)
	}
	subject := bodies[msg.Template].subject
	data := msg.Data
	if data == nil {
		data = map[string]string{}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any{
		"Subject": subject,
		"Name":    msg.RecipientName,
		"Data":    data,
	}); err != nil {
		return rendered{}, fmt.Errorf("render %s: %w", msg.Template, err)
	}
	return rendered{Subject: subject, HTML: buf.String()}, nil
}
