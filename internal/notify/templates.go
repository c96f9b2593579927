package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Alert is the guardian-facing summary of a threat.
type Alert struct {
	Severity       string
	Level          int
	Platform       string
	PrimaryThreat  string
	ParentGuidance string
	Content        string
	Explanation    string
	Timestamp      time.Time
}

const alertTimeLayout = "Jan 2, 2006 3:04 PM"

func (a Alert) withDefaults() Alert {
	if a.Platform == "" {
		a.Platform = "Unknown"
	}
	if a.Content == "" {
		a.Content = "Content unavailable"
	}
	if a.Explanation == "" {
		a.Explanation = "See dashboard for details"
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	return a
}

var alertHTML = template.Must(template.New("alert").Option("missingkey=error").Parse(`<h2 style="color: #dc2626;">SafeGuard Kids Alert</h2>
<p><strong>Severity:</strong> {{.Severity}} ({{.Level}}/10)</p>
<p><strong>Time:</strong> {{.Time}}</p>
<p><strong>Platform:</strong> {{.Platform}}</p>
<p><strong>Primary Threat:</strong> {{.PrimaryThreat}}</p>
<h3>Parent Guidance:</h3>
<p>{{.ParentGuidance}}</p>
<h3>Flagged Content:</h3>
<div style="background: #fee; border-left: 4px solid #dc2626; padding: 12px; margin: 16px 0; font-family: monospace;">"{{.Content}}"</div>
<h3>Analysis:</h3>
<p><strong>Category:</strong> {{.PrimaryThreat}}</p>
<p><strong>Explanation:</strong> {{.Explanation}}</p>
<hr>
<p style="color: #666; font-size: 12px;">This is an automated alert from SafeGuard Kids.<br>Open the dashboard for more details.</p>
`))

// RenderEmail builds the guardian alert email. Flagged content is HTML-escaped.
func RenderEmail(a Alert) (EmailMessage, error) {
	a = a.withDefaults()
	data := struct {
		Alert
		Time string
	}{Alert: a, Time: a.Timestamp.Format(alertTimeLayout)}

	var buf bytes.Buffer
	if err := alertHTML.Execute(&buf, data); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render email: %w", err)
	}

	text := fmt.Sprintf("SafeGuard Kids Alert\n\nSeverity: %s (%d/10)\nTime: %s\nPlatform: %s\nPrimary Threat: %s\n\nParent Guidance:\n%s\n\nFlagged Content:\n%q\n",
		a.Severity, a.Level, data.Time, a.Platform, a.PrimaryThreat, a.ParentGuidance, a.Content)

	return EmailMessage{
		Subject: fmt.Sprintf("🚨 SafeGuard Alert: %s Threat Detected", a.Severity),
		Text:    text,
		HTML:    buf.String(),
	}, nil
}

// RenderSMS builds the guardian alert text message.
func RenderSMS(a Alert) string {
	a = a.withDefaults()
	return fmt.Sprintf("🚨 SafeGuard Alert: %s threat detected on %s. Threat level: %d/10. Check extension dashboard for details. - %s",
		a.Severity, a.Platform, a.Level, a.Timestamp.Format(alertTimeLayout))
}
