package session

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/models"
	"streamscraper/pkg/notify"
	"streamscraper/pkg/partition"
	"streamscraper/pkg/rules"
)

var (
	day1 = time.Date(2024, 3, 1, 23, 58, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 2, 0, 0, 30, 0, time.UTC)

	testRules = rules.FromPatterns([]string{"cats"}, "")
)

const rateLimitCooldown = 315 * time.Second

func newWriter(t *testing.T) *partition.Writer {
	t.Helper()
	w, err := partition.NewWriter(partition.Options{Dir: t.TempDir(), Location: time.UTC})
	require.NoError(t, err)
	return w
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

type runResult struct {
	stats models.Stats
	err   error
}

func runAsync(ctx context.Context, s *Session) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		stats, err := s.Run(ctx, testRules)
		out <- runResult{stats: stats, err: err}
	}()
	return out
}

func waitResult(t *testing.T, results <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
		return runResult{}
	}
}

func rateLimited() error {
	return errors.FromStatus(429, "Too Many Requests")
}

func TestNewRequiresSourceAndWriter(t *testing.T) {
	_, err := New(Options{Writer: &failingWriter{}})
	assert.Error(t, err)
	_, err = New(Options{Source: &fakeSource{}})
	assert.Error(t, err)
}

func TestRolloverSendsOneDailySummary(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{
		lines: []scriptedLine{
			{data: `{"id":"A"}`, at: day1},
			{data: `{"id":"B"}`, at: day1.Add(time.Minute)},
			{data: `{"id":"C"}`, at: day2},
		},
	}}}
	w := newWriter(t)
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{
		Source:    src,
		Writer:    w,
		Notifier:  notifier,
		LogFile:   "run.log",
		Clock:     clk,
		Observers: []Observer{cancelAfterRecords(3, cancel)},
	})

	stats, err := s.Run(ctx, testRules)
	require.NoError(t, err)

	summaries := notifier.ofKind(notify.DailySummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(2), summaries[0][notify.FieldTodaysRecords])
	assert.Equal(t, int64(2), summaries[0][notify.FieldTotalRecords])
	assert.Equal(t, "2024-03-01", summaries[0][notify.FieldPartition])
	assert.Equal(t, "run.log", summaries[0][notify.FieldLogFile])
	assert.Empty(t, notifier.ofKind(notify.RateLimitWarning))

	assert.Equal(t, int64(3), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.TodaysRecords)
	assert.Equal(t, "2024-03-02", stats.Partition)

	assert.Equal(t, []string{`{"id":"A"}`, `{"id":"B"}`}, readLines(t, w.PathFor("2024-03-01")))
	assert.Equal(t, []string{`{"id":"C"}`}, readLines(t, w.PathFor("2024-03-02")))
}

func TestBlankAndMalformedLinesAreSkipped(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{
		lines: []scriptedLine{{data: ""}, {data: "   "}, {data: `{"broken":`}, {data: `{"ok":1}`}},
	}}}
	w := newWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var decodeEvents int
	s := newSession(t, Options{
		Source: src,
		Writer: w,
		Clock:  clk,
		Observers: []Observer{
			cancelAfterRecords(1, cancel),
			ObserverFunc(func(e Event) {
				if e.Type == EventDecodeError {
					decodeEvents++
				}
			}),
		},
	})

	stats, err := s.Run(ctx, testRules)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.DecodeErrors)
	assert.Equal(t, 1, decodeEvents)
	assert.Equal(t, []string{`{"ok":1}`}, readLines(t, w.PathFor("2024-03-01")))
}

func TestRawDecoderKeepsNonJSONLines(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{lines: []scriptedLine{{data: "plain text"}}}}}
	w := newWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{Source: src, Writer: w, Decoder: RawDecoder, Clock: clk,
		Observers: []Observer{cancelAfterRecords(1, cancel)}})

	stats, err := s.Run(ctx, testRules)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(0), stats.DecodeErrors)
}

func TestRateLimitWarningsCountConsecutiveEvents(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{
		{openErr: rateLimited()},
		{openErr: rateLimited()},
		{openErr: rateLimited()},
		{lines: []scriptedLine{{data: `{"id":1}`}}},
	}}
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{
		Source:    src,
		Writer:    newWriter(t),
		Notifier:  notifier,
		Clock:     clk,
		Observers: []Observer{cancelAfterRecords(1, cancel)},
	})
	results := runAsync(ctx, s)

	start := clk.Now()
	for i := 0; i < 3; i++ {
		clk.WaitForTimers(1)
		clk.Advance(rateLimitCooldown)
	}
	res := waitResult(t, results)
	require.NoError(t, res.err)

	warnings := notifier.ofKind(notify.RateLimitWarning)
	require.Len(t, warnings, 3)
	for i, w := range warnings {
		assert.Equal(t, i+1, w[notify.FieldRateLimitCount])
	}
	assert.Equal(t, start.Add(rateLimitCooldown), warnings[0][notify.FieldResumeAt])

	assert.Equal(t, 0, res.stats.ConsecutiveRateLimitEvents)
	assert.Equal(t, 3, res.stats.TotalRateLimitEvents)
	assert.Equal(t, 3, res.stats.Reconnects)
	assert.Equal(t, int64(1), res.stats.TotalRecords)
	assert.Equal(t, 4, src.openCount())
}

func TestRateLimitCounterResetsAfterRecord(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{
		{openErr: rateLimited()},
		{lines: []scriptedLine{{data: `{"id":1}`}}, endErr: rateLimited()},
		{lines: []scriptedLine{{data: `{"id":2}`}}},
	}}
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{
		Source:    src,
		Writer:    newWriter(t),
		Notifier:  notifier,
		Clock:     clk,
		Observers: []Observer{cancelAfterRecords(2, cancel)},
	})
	results := runAsync(ctx, s)

	for i := 0; i < 2; i++ {
		clk.WaitForTimers(1)
		clk.Advance(rateLimitCooldown)
	}
	res := waitResult(t, results)
	require.NoError(t, res.err)

	warnings := notifier.ofKind(notify.RateLimitWarning)
	require.Len(t, warnings, 2)
	assert.Equal(t, 1, warnings[0][notify.FieldRateLimitCount])
	assert.Equal(t, 1, warnings[1][notify.FieldRateLimitCount])
	assert.Equal(t, 2, warnings[1][notify.FieldTotalRateLimits])
}

func TestResetHintExtendsCooldown(t *testing.T) {
	clk := clock.Fake(day1)
	hinted := errors.FromStatus(429, "slow down")
	hinted.ResetAt = day1.Add(10 * time.Minute)
	src := &fakeSource{clock: clk, connections: []connection{
		{openErr: hinted},
		{lines: []scriptedLine{{data: `{"id":1}`}}},
	}}
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{Source: src, Writer: newWriter(t), Notifier: notifier, Clock: clk,
		Observers: []Observer{cancelAfterRecords(1, cancel)}})
	results := runAsync(ctx, s)

	clk.WaitForTimers(1)
	clk.Advance(rateLimitCooldown)
	assert.Equal(t, 1, src.openCount(), "must not reconnect before the vendor reset")

	clk.Advance(10*time.Minute + 15*time.Second - rateLimitCooldown)
	res := waitResult(t, results)
	require.NoError(t, res.err)

	warnings := notifier.ofKind(notify.RateLimitWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, day1.Add(10*time.Minute+15*time.Second), warnings[0][notify.FieldResumeAt])
}

func TestTransientErrorsReconnectSilently(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{
		{openErr: errors.FromStatus(503, "Service Unavailable")},
		{endErr: errors.Wrap(errors.ErrorTypeNetwork, "stream closed by upstream", io.EOF)},
		{lines: []scriptedLine{{data: `{"id":1}`}}},
	}}
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{Source: src, Writer: newWriter(t), Notifier: notifier, Clock: clk,
		Observers: []Observer{cancelAfterRecords(1, cancel)}})
	results := runAsync(ctx, s)

	for i := 0; i < 2; i++ {
		clk.WaitForTimers(1)
		clk.Advance(30 * time.Second)
	}
	res := waitResult(t, results)
	require.NoError(t, res.err)

	assert.Empty(t, notifier.ofKind(notify.RateLimitWarning))
	assert.Equal(t, 2, res.stats.Reconnects)
	assert.Equal(t, 0, res.stats.TotalRateLimitEvents)
	assert.Equal(t, 3, src.openCount())
}

func TestFatalErrorEndsSession(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{openErr: errors.FromStatus(401, "Unauthorized")}}}
	w := &failingWriter{}

	var stopped *Event
	s := newSession(t, Options{Source: src, Writer: w, Clock: clk,
		Observers: []Observer{ObserverFunc(func(e Event) {
			if e.Type == EventStopped {
				stopped = &e
			}
		})}})

	_, err := s.Run(context.Background(), testRules)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeAuth))
	assert.Equal(t, 1, src.openCount())
	assert.Equal(t, 0, clk.PendingCount())
	assert.True(t, w.closed)
	require.NotNil(t, stopped)
	assert.Equal(t, PhaseFailed, stopped.Phase)
}

func TestCancelDuringBackoffSleep(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{openErr: rateLimited()}}}
	ctx, cancel := context.WithCancel(context.Background())

	s := newSession(t, Options{Source: src, Writer: newWriter(t), Clock: clk})
	results := runAsync(ctx, s)

	clk.WaitForTimers(1)
	cancel()

	res := waitResult(t, results)
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.stats.TotalRateLimitEvents)
	assert.Equal(t, 1, src.openCount())
}

func TestCancelDuringRead(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk}
	ctx, cancel := context.WithCancel(context.Background())

	connected := make(chan struct{})
	s := newSession(t, Options{Source: src, Writer: newWriter(t), Clock: clk,
		Observers: []Observer{ObserverFunc(func(e Event) {
			if e.Type == EventConnected {
				close(connected)
			}
		})}})
	results := runAsync(ctx, s)

	<-connected
	cancel()
	res := waitResult(t, results)
	require.NoError(t, res.err)
	assert.Equal(t, 0, res.stats.Reconnects)
}

func TestNotifierPanicsNeverStopStream(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{
		lines: []scriptedLine{{data: `{"id":1}`, at: day1}, {data: `{"id":2}`, at: day2}},
	}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{
		Source:    src,
		Writer:    newWriter(t),
		Notifier:  notify.NotifierFunc(func(notify.Kind, notify.Fields) { panic("smtp exploded") }),
		Clock:     clk,
		Observers: []Observer{cancelAfterRecords(2, cancel)},
	})

	stats, err := s.Run(ctx, testRules)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
}

func TestWriteFailureDropsRecord(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{
		lines: []scriptedLine{{data: `{"id":1}`}, {data: `{"id":2}`}, {data: `{"id":3}`}},
	}}}
	w := &failingWriter{ok: 1, err: errors.New(errors.ErrorTypeWrite, "permission denied")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{Source: src, Writer: w, Clock: clk,
		Observers: []Observer{ObserverFunc(func(e Event) {
			if e.Type == EventWriteFailure && e.Stats.DroppedRecords >= 2 {
				cancel()
			}
		})}})

	stats, err := s.Run(ctx, testRules)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.DroppedRecords)
}

func TestUnrecoverableWriteEndsSession(t *testing.T) {
	clk := clock.Fake(day1)
	src := &fakeSource{clock: clk, connections: []connection{{lines: []scriptedLine{{data: `{"id":1}`}}}}}
	w := &failingWriter{err: &errors.Error{Type: errors.ErrorTypeWrite, Message: "disk full", Unrecoverable: true}}

	stats, err := newSession(t, Options{Source: src, Writer: w, Clock: clk}).Run(context.Background(), testRules)
	require.Error(t, err)
	assert.True(t, errors.IsUnrecoverable(err))
	assert.Equal(t, int64(1), stats.DroppedRecords)
	assert.Equal(t, "2024-01-01", stats.Partition)
}

func TestRulesRegisteredOnceBeforeFirstOpen(t *testing.T) {
	clk := clock.Fake(day1)
	base := &fakeSource{
		clock:       clk,
		registerErr: []error{errors.FromStatus(503, "unavailable")},
		connections: []connection{
			{openErr: errors.FromStatus(500, "boom")},
			{lines: []scriptedLine{{data: `{"id":1}`}}},
		},
	}
	src := registeringSource{base}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{Source: src, Writer: newWriter(t), RegisterRules: true, Clock: clk,
		Observers: []Observer{cancelAfterRecords(1, cancel)}})
	results := runAsync(ctx, s)

	for i := 0; i < 2; i++ {
		clk.WaitForTimers(1)
		clk.Advance(30 * time.Second)
	}
	res := waitResult(t, results)
	require.NoError(t, res.err)

	assert.Len(t, base.registered, 2, "one failed and one successful registration")
	assert.Equal(t, testRules.Patterns(), base.registered[1].Patterns())
	assert.Equal(t, 2, base.openCount())
}

func TestRegistrationSkippedWhenDisabled(t *testing.T) {
	clk := clock.Fake(day1)
	base := &fakeSource{clock: clk, connections: []connection{{lines: []scriptedLine{{data: `{"id":1}`}}}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(t, Options{Source: registeringSource{base}, Writer: newWriter(t), Clock: clk,
		Observers: []Observer{cancelAfterRecords(1, cancel)}})
	_, err := s.Run(ctx, testRules)
	require.NoError(t, err)
	assert.Empty(t, base.registered)
}

func TestDecoderFor(t *testing.T) {
	dec, err := DecoderFor("json")
	require.NoError(t, err)
	assert.NoError(t, dec([]byte(`{"a":1}`)))
	assert.True(t, errors.Is(dec([]byte(`{"a":`)), errors.ErrorTypeDecode))

	dec, err = DecoderFor("RAW")
	require.NoError(t, err)
	assert.NoError(t, dec([]byte("anything")))

	_, err = DecoderFor("xml")
	assert.Error(t, err)
}
