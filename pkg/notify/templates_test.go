package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDailySummary(t *testing.T) {
	now := time.Date(2024, 3, 2, 0, 0, 5, 0, time.UTC)
	msg, err := Render(DailySummary, Fields{
		FieldTotalRecords:  int64(1200),
		FieldTodaysRecords: int64(42),
		FieldPartition:     "2024-03-01",
		FieldLogFile:       "2024-03-01_10-00-00_stream.log",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "[STREAM] - Daily Update: Details on Stream", msg.Subject)
	assert.Contains(t, msg.Body, "Total Records Processed: 1200")
	assert.Contains(t, msg.Body, "Total Records Today: 42")
	assert.Contains(t, msg.Body, "Closed Partition: 2024-03-01")
	assert.Contains(t, msg.Body, "Log Filename: 2024-03-01_10-00-00_stream.log")
	assert.Contains(t, msg.Body, "System Report Time: 2024-03-02 00:00:05 UTC")
	assert.Equal(t, "42 records today, 1200 total", msg.Summary)
	assert.Equal(t, now, msg.SentAt)
}

func TestRenderRateLimitWarning(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	msg, err := Render(RateLimitWarning, Fields{
		FieldRateLimitCount:  3,
		FieldTotalRateLimits: 5,
		FieldResumeAt:        now.Add(315 * time.Second),
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "[STREAM] - RATE LIMIT", msg.Subject)
	assert.Contains(t, msg.Body, "Number of Times Rate Limited: 3")
	assert.Contains(t, msg.Body, "Rate Limits This Run: 5")
	assert.Contains(t, msg.Body, "RECONNECT AT 2024-03-02 12:05:15 UTC")
	assert.Contains(t, msg.Body, "Log Filename: n/a")
}

func TestRenderMissingFieldsAndUnknownKind(t *testing.T) {
	msg, err := Render(DailySummary, nil, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Total Records Today: n/a")
	assert.NotContains(t, msg.Body, "<no value>")

	_, err = Render(Kind("bogus"), Fields{}, time.Now())
	assert.Error(t, err)
}
