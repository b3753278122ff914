package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"
)

// ReengagementData fills the expired-session email.
type ReengagementData struct {
	// ExpiredAt is when the session expired, rendered in the user's locale
	// conventions (dd/mm/yyyy).
	ExpiredAt time.Time
	// LoginURL is the CTA deep link carrying the signed login token.
	LoginURL string
}

const reengagementSubject = "La tua sessione è scaduta"

var reengagementHTML = template.Must(template.New("reengagement_html").Parse(`<html>
<body>
<p>La sessione che avevi aperto in app è scaduta il {{.ExpiredAt.Format "02/01/2006"}}.</p>
<p>Per continuare a ricevere messaggi e avvisi, accedi di nuovo.</p>
<p><a href="{{.LoginURL}}">Accedi all'app</a></p>
</body>
</html>
`))

var reengagementText = texttemplate.Must(texttemplate.New("reengagement_text").Parse(
	`La sessione che avevi aperto in app è scaduta il {{.ExpiredAt.Format "02/01/2006"}}.
Per continuare a ricevere messaggi e avvisi, accedi di nuovo: {{.LoginURL}}
`))

// RenderReengagement builds the full message for the given recipient.
func RenderReengagement(from, to string, data ReengagementData) (Message, error) {
	var html, text bytes.Buffer
	if err := reengagementHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	if err := reengagementText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	return Message{
		From:    from,
		To:      to,
		Subject: reengagementSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
