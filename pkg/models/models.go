package models

import "time"

// Record is one unit received from the upstream stream. Data is persisted
// verbatim and never inspected beyond an optional well-formedness check.
type Record struct {
	Data       []byte
	ReceivedAt time.Time
}

// FilterRule is one server-side match rule
type FilterRule struct {
	Pattern string `json:"value" yaml:"pattern"`
	Tag     string `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// ActiveRule is a FilterRule as registered upstream
type ActiveRule struct {
	ID      string `json:"id"`
	Pattern string `json:"value"`
	Tag     string `json:"tag,omitempty"`
}

// RolloverEvent is reported when the current partition changes
type RolloverEvent struct {
	PreviousKey string `json:"previous_key"`
	NewKey      string `json:"new_key"`
}

// Initial reports whether this is the first partition opened by the
// process rather than a date-key transition
func (e RolloverEvent) Initial() bool {
	return e.PreviousKey == ""
}

// Stats holds the session counters
type Stats struct {
	StartedAt                  time.Time `json:"started_at"`
	TotalRecords               int64     `json:"total_records"`
	TodaysRecords              int64     `json:"todays_records"`
	ConsecutiveRateLimitEvents int       `json:"consecutive_rate_limit_events"`
	TotalRateLimitEvents       int       `json:"total_rate_limit_events"`
	DecodeErrors               int64     `json:"decode_errors"`
	DroppedRecords             int64     `json:"dropped_records"`
	Reconnects                 int       `json:"reconnects"`
	Partition                  string    `json:"partition"`
}
