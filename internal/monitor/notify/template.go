package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"epon-monitor/internal/monitor"
)

// DefaultTemplate is the text rendered when no custom template is set.
const DefaultTemplate = `[ONU Health {{.EventLabel}}]
ONU: {{.ONU}}{{ if .OLT }} (OLT {{.OLT}}){{ end }}
Health: {{.Previous}} -> {{.Current}}
Severity: {{.Severity}}
Layer: {{.Layer}}
Causes: {{.Causes}}
Observed: {{.Observed}}
Suggestion: {{.Suggestion}}
Time: {{.Time}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	ONU        string
	OLT        string
	Event      string
	EventLabel string
	Previous   string
	Current    string
	Severity   string
	Layer      string
	Causes     string
	Observed   string
	Suggestion string
	Time       string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("health-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("health template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildTemplateData(event monitor.HealthEvent) TemplateData {
	result := event.Result
	olt := ""
	if result.OLTID != nil {
		olt = *result.OLTID
	}
	suggestion := "Continue monitoring."
	if len(result.SuggestedActions) > 0 {
		suggestion = result.SuggestedActions[0]
	}
	return TemplateData{
		ONU:        event.ONUID,
		OLT:        olt,
		Event:      event.Type,
		EventLabel: eventLabel(event.Type),
		Previous:   orUnknown(event.Previous),
		Current:    event.Current,
		Severity:   result.Severity,
		Layer:      result.LikelyLayer,
		Causes:     strings.Join(result.ProbableCauses, "; "),
		Observed:   observedSummary(event),
		Suggestion: suggestion,
		Time:       event.OccurredAt.UTC().Format(time.RFC3339),
	}
}

func eventLabel(event string) string {
	switch event {
	case monitor.EventDegraded:
		return "Degraded"
	case monitor.EventImproved:
		return "Improved"
	case monitor.EventRecovered:
		return "Recovered"
	default:
		return event
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// observedSummary compacts the readings that drove the classification into
// one line, leaving out fields the event did not carry.
func observedSummary(event monitor.HealthEvent) string {
	qot := event.Event.QoT
	var parts []string
	if s := formatReading("rx", qot.RxPowerDBm, "dBm"); s != "" {
		parts = append(parts, s)
	}
	if s := formatReading("snr", qot.SNRdB, "dB"); s != "" {
		parts = append(parts, s)
	}
	if qot.BERPreFEC != nil {
		parts = append(parts, fmt.Sprintf("ber=%.2e", *qot.BERPreFEC))
	}
	if s := formatReading("temp", qot.Temperature, "C"); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "n/a"
	}
	return strings.Join(parts, " ")
}

func formatReading(name string, value *float64, unit string) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%s=%.2f%s", name, *value, unit)
}
