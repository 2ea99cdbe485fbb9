package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const LoginSubject = "Your client portal login link"

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
  <p>Hi {{if .FirstName}}{{.FirstName}}{{else}}there{{end}},</p>
  <p>Click the button below to sign in to the {{.OrgName}} client portal.</p>
  <p><a href="{{.Link}}" style="display:inline-block;padding:10px 18px;background:#2563eb;color:#fff;text-decoration:none;border-radius:4px;">Sign in</a></p>
  <p>Or paste this link into your browser:<br>{{.Link}}</p>
  <p>This link expires in {{.ExpiresIn}} and can only be used once. If you did not request it, you can ignore this email.</p>
</body>
</html>
`))

type LoginEmail struct {
	FirstName string
	OrgName   string
	Link      string
	TTL       time.Duration
}

// Render returns the HTML body of the login email.
func (e LoginEmail) Render() (string, error) {
	data := struct {
		FirstName string
		OrgName   string
		Link      string
		ExpiresIn string
	}{
		FirstName: e.FirstName,
		OrgName:   e.OrgName,
		Link:      e.Link,
		ExpiresIn: formatMinutes(e.TTL),
	}

	var buf bytes.Buffer
	if err := loginTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render login email: %w", err)
	}
	return buf.String(), nil
}

func formatMinutes(d time.Duration) string {
	m := int(d.Minutes())
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
