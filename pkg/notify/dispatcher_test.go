package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamscraper/internal/worker"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/logger"
)

type recordingTransport struct {
	name string
	err  error
	mu   sync.Mutex
	sent []Message
}

func (r *recordingTransport) Name() string { return r.name }

func (r *recordingTransport) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type panickingTransport struct{}

func (panickingTransport) Name() string { return "panics" }

func (panickingTransport) Send(context.Context, Message) error { panic("transport exploded") }

func TestDispatcherFansOutToAllTransports(t *testing.T) {
	first := &recordingTransport{name: "first"}
	second := &recordingTransport{name: "second"}
	d := NewDispatcher(Options{
		Transports: []Transport{first, second},
		Logger:     logger.NewNopLogger(),
	})

	d.Notify(DailySummary, Fields{FieldTodaysRecords: 2})

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
	assert.Equal(t, []string{"first", "second"}, d.Transports())
}

func TestDispatcherSurvivesFailingTransports(t *testing.T) {
	log := logger.NewTestLogger()
	failing := &recordingTransport{name: "smtp", err: errors.New("connection refused")}
	after := &recordingTransport{name: "log"}
	d := NewDispatcher(Options{
		Transports: []Transport{failing, panickingTransport{}, after},
		Logger:     log,
	})

	assert.NotPanics(t, func() {
		d.Notify(RateLimitWarning, Fields{FieldRateLimitCount: 1})
	})
	assert.Equal(t, 1, after.count())
	assert.Equal(t, 2, log.CountMessages("Notification delivery failed"))
}

func TestDispatcherRespectsDisabledKinds(t *testing.T) {
	rec := &recordingTransport{name: "rec"}
	d := NewDispatcher(Options{
		Transports: []Transport{rec},
		Kinds:      map[Kind]bool{DailySummary: true, RateLimitWarning: false},
		Logger:     logger.NewNopLogger(),
	})

	d.Notify(RateLimitWarning, Fields{})
	d.Notify(DailySummary, Fields{})

	require.Equal(t, 1, rec.count())
	assert.Equal(t, DailySummary, rec.sent[0].Kind)
}

func TestDispatcherThrottlesPerKind(t *testing.T) {
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recordingTransport{name: "rec"}
	d := NewDispatcher(Options{
		Transports: []Transport{rec},
		MaxPerHour: 2,
		Clock:      clk,
		Logger:     logger.NewNopLogger(),
	})

	for i := 0; i < 4; i++ {
		d.Notify(RateLimitWarning, Fields{FieldRateLimitCount: i + 1})
	}
	assert.Equal(t, 2, rec.count())

	// another kind has its own budget
	d.Notify(DailySummary, Fields{})
	assert.Equal(t, 3, rec.count())

	clk.Advance(time.Hour + time.Second)
	d.Notify(RateLimitWarning, Fields{FieldRateLimitCount: 5})
	assert.Equal(t, 4, rec.count())
}

func TestDispatcherAsyncDelivery(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 1, QueueSize: 4, Logger: logger.NewNopLogger()})
	pool.Start()

	rec := &recordingTransport{name: "rec"}
	d := NewDispatcher(Options{
		Transports: []Transport{rec},
		Pool:       pool,
		Logger:     logger.NewNopLogger(),
	})

	fields := Fields{FieldTodaysRecords: 7}
	d.Notify(DailySummary, fields)
	fields[FieldTodaysRecords] = 8

	pool.Stop(time.Second)
	require.Equal(t, 1, rec.count())
	assert.Contains(t, rec.sent[0].Body, "Total Records Today: 7")
}

func TestNopAndFunc(t *testing.T) {
	assert.NotPanics(t, func() { Nop{}.Notify(DailySummary, nil) })

	var got Kind
	NotifierFunc(func(kind Kind, _ Fields) { got = kind }).Notify(RateLimitWarning, nil)
	assert.Equal(t, RateLimitWarning, got)
}
