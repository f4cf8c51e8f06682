package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs an upstream HTTP exchange
func LogRequest(log Logger, method, url string, statusCode int, duration time.Duration) {
	if log == nil {
		log = GetLogger()
	}
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 500:
		log.ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		log.WarnWithFields("HTTP request client error", fields)
	default:
		log.DebugWithFields("HTTP request completed", fields)
	}
}

// LogRollover logs a partition change
func LogRollover(log Logger, previousKey, newKey string, todaysRecords, totalRecords int64) {
	fields := map[string]interface{}{
		"previous_partition": previousKey,
		"partition":          newKey,
		"todays_records":     todaysRecords,
		"total_records":      totalRecords,
	}
	if previousKey == "" {
		log.InfoWithFields("Opened partition", fields)
		return
	}
	log.InfoWithFields("Partition rolled over", fields)
}

// LogRateLimit logs a rate-limit cooldown
func LogRateLimit(log Logger, count int, sleepFor time.Duration, until time.Time) {
	log.WithFields(map[string]interface{}{
		"rate_limit_count": count,
		"sleep_for":        sleepFor,
		"resume_at":        until,
		"action":           "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogComponentStart logs when a component starts
func LogComponentStart(log Logger, component string, config map[string]interface{}) {
	if log == nil {
		log = GetLogger()
	}
	logger := log.WithField("component", component)
	if len(config) > 0 {
		logger = logger.WithFields(config)
	}
	logger.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(log Logger, component string, reason string) {
	if log == nil {
		log = GetLogger()
	}
	log.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMetrics logs counters at the end of an operation
func LogMetrics(log Logger, operation string, metrics map[string]interface{}) {
	if log == nil {
		log = GetLogger()
	}
	fields := map[string]interface{}{
		"operation": operation,
		"type":      "metrics",
	}
	for k, v := range metrics {
		fields[k] = v
	}
	log.InfoWithFields("Session metrics", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
