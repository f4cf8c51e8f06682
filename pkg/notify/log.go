package notify

import (
	"context"

	"streamscraper/pkg/logger"
)

// LogTransport writes notifications to the application log
type LogTransport struct {
	logger logger.Logger
}

// NewLogTransport creates a LogTransport; nil uses the global logger
func NewLogTransport(log logger.Logger) *LogTransport {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogTransport{logger: log}
}

// Name returns "log"
func (l *LogTransport) Name() string { return "log" }

// Send logs the subject and summary at WARN for rate limits, INFO otherwise
func (l *LogTransport) Send(_ context.Context, msg Message) error {
	fields := map[string]interface{}{
		"kind":    string(msg.Kind),
		"subject": msg.Subject,
		"summary": msg.Summary,
	}
	if msg.Kind == RateLimitWarning {
		l.logger.WarnWithFields("Notification", fields)
	} else {
		l.logger.InfoWithFields("Notification", fields)
	}
	return nil
}
