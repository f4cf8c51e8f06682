// Package notify delivers out-of-band operator notifications.
//
// The stream session calls Notifier.Notify for daily summaries and
// rate-limit warnings. Notify never returns an error and never panics into
// the caller: delivery problems are logged and the stream keeps running.
// Dispatcher renders each notification once and fans it out to one or more
// Transports (SMTP, desktop, log).
package notify

import (
	"context"
	"time"
)

// Kind identifies a notification template
type Kind string

const (
	DailySummary     Kind = "daily_summary"
	RateLimitWarning Kind = "rate_limit"
)

// Field names understood by the templates
const (
	FieldTime            = "time"
	FieldLogFile         = "log_file"
	FieldTotalRecords    = "total_records"
	FieldTodaysRecords   = "todays_records"
	FieldPartition       = "partition"
	FieldRateLimitCount  = "rate_limit_count"
	FieldTotalRateLimits = "total_rate_limits"
	FieldResumeAt        = "resume_at"
)

// Fields carries the values rendered into a notification
type Fields map[string]interface{}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Notifier sends best-effort notifications
type Notifier interface {
	Notify(kind Kind, fields Fields)
}

// Nop discards every notification
type Nop struct{}

// Notify does nothing
func (Nop) Notify(Kind, Fields) {}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(kind Kind, fields Fields)

// Notify calls f
func (f NotifierFunc) Notify(kind Kind, fields Fields) { f(kind, fields) }

// Message is a rendered notification
type Message struct {
	Kind    Kind
	Subject string
	// Summary is a single line for space-constrained transports
	Summary string
	Body    string
	SentAt  time.Time
}

// Transport delivers a rendered message
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
