// Package email renders alert emails from embedded templates and sends them
// to a rule's recipients through an external.EmailProvider.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

//go:embed templates/alert.html templates/alert.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// Alert is the content of one alert email. Value and Threshold are already
// formatted with their unit.
type Alert struct {
	Domain       string
	MetricName   string
	Device       string
	Date         string
	Value        string
	Threshold    string
	DashboardURL string
}

type templateData struct {
	Alert
	Subject string
}

// Renderer renders alert emails with html/template and text/template.
type Renderer struct {
	html *template.Template
	text *texttemplate.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	html, err := template.ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: parse alert.html: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: parse alert.txt: %w", err)
	}
	return &Renderer{html: html, text: text}, nil
}

// Subject returns the subject line for a.
func Subject(a Alert) string {
	return fmt.Sprintf("[SEOPulse] %s alert on %s (%s)", a.MetricName, a.Domain, a.Device)
}

// Render produces the subject and both bodies for a.
func (r *Renderer) Render(a Alert) (*RenderedEmail, error) {
	data := templateData{Alert: a, Subject: Subject(a)}

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: render html: %w", err)
	}
	var textBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: render text: %w", err)
	}
	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}
