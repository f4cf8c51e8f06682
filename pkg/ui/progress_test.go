package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"streamscraper/pkg/backoff"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/models"
	"streamscraper/pkg/session"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func event(typ session.EventType, at time.Duration, stats models.Stats) session.Event {
	stats.StartedAt = start
	return session.Event{Type: typ, Time: start.Add(at), Stats: stats}
}

func TestProgressDisplayThrottlesStatusLine(t *testing.T) {
	SetColor(false)
	var out bytes.Buffer
	p := NewProgressDisplay(&out, false)

	p.OnEvent(event(session.EventRecord, time.Second, models.Stats{TotalRecords: 1, TodaysRecords: 1, Partition: "2024-03-01"}))
	p.OnEvent(event(session.EventRecord, time.Second+time.Millisecond, models.Stats{TotalRecords: 2, TodaysRecords: 2, Partition: "2024-03-01"}))

	assert.Contains(t, out.String(), "1 today • 1 total")
	assert.NotContains(t, out.String(), "2 total", "redraws inside the interval are skipped")

	p.OnEvent(event(session.EventRecord, 2*time.Second, models.Stats{TotalRecords: 3, TodaysRecords: 3, Partition: "2024-03-01"}))
	assert.Contains(t, out.String(), "3 today • 3 total")
}

func TestProgressDisplayRollover(t *testing.T) {
	SetColor(false)
	var out bytes.Buffer
	p := NewProgressDisplay(&out, false)

	e := event(session.EventRollover, time.Minute, models.Stats{TotalRecords: 10})
	e.Rollover = &models.RolloverEvent{PreviousKey: "2024-03-01", NewKey: "2024-03-02"}
	p.OnEvent(e)

	assert.Contains(t, out.String(), "Closed partition 2024-03-01, now writing 2024-03-02 (10 total)")
}

func TestProgressDisplayBackoffLines(t *testing.T) {
	SetColor(false)
	var out bytes.Buffer
	p := NewProgressDisplay(&out, false)

	e := event(session.EventBackoff, 0, models.Stats{ConsecutiveRateLimitEvents: 2})
	e.Backoff = backoff.Status{State: backoff.Cooling, Attempt: 2, Until: start.Add(315 * time.Second), LastKind: errors.KindRateLimited}
	p.OnEvent(e)
	assert.Contains(t, out.String(), "Rate limited (2 in a row). Reconnecting at 12:05:15 (5m15s)")

	out.Reset()
	e = event(session.EventBackoff, 0, models.Stats{})
	e.Err = errors.New(errors.ErrorTypeNetwork, "stream stalled")
	e.Backoff = backoff.Status{State: backoff.Cooling, Until: start.Add(30 * time.Second), LastKind: errors.KindTransient}
	p.OnEvent(e)
	assert.Contains(t, out.String(), "Connection lost")
	assert.Contains(t, out.String(), "Reconnecting in 30s")
}

func TestProgressDisplaySummary(t *testing.T) {
	SetColor(false)
	var out bytes.Buffer
	p := NewProgressDisplay(&out, false)

	p.OnEvent(event(session.EventStopped, 2*time.Minute, models.Stats{
		TotalRecords:         120,
		TodaysRecords:        20,
		Partition:            "2024-03-02",
		TotalRateLimitEvents: 1,
		Reconnects:           2,
		DroppedRecords:       1,
	}))

	s := out.String()
	assert.Contains(t, s, "Collected 120 records in 2m0s (60.0/min)")
	assert.Contains(t, s, "20 in partition 2024-03-02")
	assert.Contains(t, s, "1 rate limits, 2 reconnects")
	assert.Contains(t, s, "0 malformed, 1 dropped")
	assert.Equal(t, session.EventStopped, p.Last().Type)
}

func TestPrintHelpersRespectQuietMode(t *testing.T) {
	SetColor(false)
	var out bytes.Buffer
	previous := Output
	Output = &out
	t.Cleanup(func() {
		Output = previous
		SetQuietMode(false)
	})

	SetQuietMode(true)
	PrintInfo("Rules", "3")
	PrintSuccess("done")
	PrintError("Failed to connect", "timeout")

	assert.Equal(t, "Failed to connect: timeout\n", out.String())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{5*time.Minute + 15*time.Second, "5m15s"},
		{2*time.Hour + 3*time.Minute, "2h3m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
