package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// TimeLayout formats FieldTime and FieldResumeAt values of type time.Time
const TimeLayout = "2006-01-02 15:04:05 MST"

type messageTemplate struct {
	subject string
	summary *template.Template
	body    *template.Template
}

var templateFuncs = template.FuncMap{
	"when": func(v interface{}) string {
		switch t := v.(type) {
		case time.Time:
			return t.Format(TimeLayout)
		case nil:
			return "n/a"
		default:
			return fmt.Sprint(t)
		}
	},
	"orNA": func(v interface{}) interface{} {
		if v == nil {
			return "n/a"
		}
		if s, ok := v.(string); ok && s == "" {
			return "n/a"
		}
		return v
	},
}

const dailySummaryBody = `|| ~~~ This is an automated message from the stream scraper ~~~ ||

STREAM IS RUNNING - THIS IS AN UPDATE.

DETAILS:
System Report Time: {{ when .time }}
Total Records Processed: {{ orNA .total_records }}
Total Records Today: {{ orNA .todays_records }}
Closed Partition: {{ orNA .partition }}
Log Filename: {{ orNA .log_file }}
************************************************************
`

const rateLimitBody = `|| ~~~ This is an automated message from the stream scraper ~~~ ||

THE STREAM IS BEING RATE LIMITED AND WILL RECONNECT AT {{ when .resume_at }}.

DETAILS:
System Report Time: {{ when .time }}
Log Filename: {{ orNA .log_file }}
Number of Times Rate Limited: {{ orNA .rate_limit_count }}
Rate Limits This Run: {{ orNA .total_rate_limits }}
******************************
`

var templates = map[Kind]messageTemplate{
	DailySummary: {
		subject: "[STREAM] - Daily Update: Details on Stream",
		summary: template.Must(template.New("daily-summary").Funcs(templateFuncs).Parse(
			`{{ orNA .todays_records }} records today, {{ orNA .total_records }} total`)),
		body: template.Must(template.New("daily-body").Funcs(templateFuncs).Parse(dailySummaryBody)),
	},
	RateLimitWarning: {
		subject: "[STREAM] - RATE LIMIT",
		summary: template.Must(template.New("rate-summary").Funcs(templateFuncs).Parse(
			`Rate limited ({{ orNA .rate_limit_count }}), resuming at {{ when .resume_at }}`)),
		body: template.Must(template.New("rate-body").Funcs(templateFuncs).Parse(rateLimitBody)),
	},
}

// Render builds the message for kind from fields
func Render(kind Kind, fields Fields, now time.Time) (Message, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}

	data := fields.clone()
	if _, ok := data[FieldTime]; !ok {
		data[FieldTime] = now
	}

	var summary, body strings.Builder
	if err := tmpl.summary.Execute(&summary, map[string]interface{}(data)); err != nil {
		return Message{}, fmt.Errorf("failed to render %s summary: %w", kind, err)
	}
	if err := tmpl.body.Execute(&body, map[string]interface{}(data)); err != nil {
		return Message{}, fmt.Errorf("failed to render %s body: %w", kind, err)
	}

	return Message{
		Kind:    kind,
		Subject: tmpl.subject,
		Summary: summary.String(),
		Body:    body.String(),
		SentAt:  now,
	}, nil
}
