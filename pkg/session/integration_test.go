package session_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamscraper/internal/mockstream"
	"streamscraper/pkg/backoff"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/models"
	"streamscraper/pkg/notify"
	"streamscraper/pkg/partition"
	"streamscraper/pkg/rules"
	"streamscraper/pkg/session"
	"streamscraper/pkg/upstream"
)

const integrationToken = "integration-token"

type capturedNotification struct {
	kind   notify.Kind
	fields notify.Fields
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []capturedNotification
}

func (c *captureNotifier) Notify(kind notify.Kind, fields notify.Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, capturedNotification{kind, fields})
}

func (c *captureNotifier) all() []capturedNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedNotification(nil), c.sent...)
}

// fastPolicy keeps the production shape with millisecond delays
func fastPolicy() backoff.Policy {
	return backoff.Policy{
		RateLimit: &backoff.ConstantBackoff{Delay: 20 * time.Millisecond},
		Transient: &backoff.ConstantBackoff{Delay: 10 * time.Millisecond},
		MaxDelay:  time.Second,
	}
}

type harness struct {
	srv      *mockstream.Server
	writer   *partition.Writer
	notifier *captureNotifier
	session  *session.Session
	dir      string
}

func newHarness(t *testing.T, mode upstream.Mode) *harness {
	t.Helper()

	srv := mockstream.New(mockstream.Options{Token: integrationToken})
	t.Cleanup(srv.Close)

	client, err := upstream.NewClient(upstream.Options{
		BaseURL:     srv.URL(),
		Mode:        mode,
		StreamPath:  mockstream.DefaultStreamPath,
		RulesPath:   mockstream.DefaultRulesPath,
		BearerToken: integrationToken,
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)

	dir := t.TempDir()
	writer, err := partition.NewWriter(partition.Options{Dir: dir, Location: time.UTC})
	require.NoError(t, err)

	notifier := &captureNotifier{}
	s, err := session.New(session.Options{
		Source:        client,
		Writer:        writer,
		Backoff:       backoff.NewController(fastPolicy()),
		Notifier:      notifier,
		RegisterRules: true,
		Logger:        logger.NewNopLogger(),
	})
	require.NoError(t, err)

	return &harness{srv: srv, writer: writer, notifier: notifier, session: s, dir: dir}
}

// run streams in the background until the partition holds want records
func (h *harness) run(t *testing.T, set rules.Set, want int) models.Stats {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		stats models.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := h.session.Run(ctx, set)
		done <- result{stats, err}
	}()

	require.Eventually(t, func() bool {
		return len(h.records(t)) >= want
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.stats
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancel")
		return models.Stats{}
	}
}

func (h *harness) records(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dir, partition.DefaultPrefix+"*"))
	require.NoError(t, err)

	var lines []string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		for _, line := range strings.Split(string(data), "\n") {
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

func TestStreamSurvivesDisconnectsAndOutages(t *testing.T) {
	h := newHarness(t, upstream.ModeV2)
	h.srv.Enqueue(
		mockstream.Connection{Lines: []string{`{"id":1}`, "", `{"id":2}`}},
		mockstream.Connection{Status: http.StatusServiceUnavailable},
		mockstream.Connection{Lines: []string{`not json`, `{"id":3}`}, Hold: true},
	)

	set := rules.FromPatterns([]string{"golang", "#gophers"}, "go")
	stats := h.run(t, set, 3)

	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}, h.records(t))
	assert.EqualValues(t, 3, stats.TotalRecords)
	assert.EqualValues(t, 1, stats.DecodeErrors)
	assert.GreaterOrEqual(t, stats.Reconnects, 2)
	assert.Empty(t, h.notifier.all(), "transient errors must not notify")

	var patterns []string
	for _, r := range h.srv.Rules() {
		patterns = append(patterns, r.Pattern)
	}
	assert.Equal(t, []string{"golang", "#gophers"}, patterns)
}

func TestRateLimitedStreamWarnsAndResumes(t *testing.T) {
	h := newHarness(t, upstream.ModeV2)
	h.srv.Enqueue(
		mockstream.Connection{Status: http.StatusTooManyRequests},
		mockstream.Connection{Status: http.StatusTooManyRequests},
		mockstream.Connection{Lines: []string{`{"id":1}`}, Hold: true},
	)

	stats := h.run(t, rules.FromPatterns([]string{"news"}, ""), 1)

	sent := h.notifier.all()
	require.Len(t, sent, 2)
	for i, n := range sent {
		assert.Equal(t, notify.RateLimitWarning, n.kind)
		assert.Equal(t, i+1, n.fields[notify.FieldRateLimitCount])
	}
	assert.Equal(t, 2, stats.TotalRateLimitEvents)
	assert.Equal(t, 0, stats.ConsecutiveRateLimitEvents, "a record resets the counter")
}

func TestV1ModeSendsRulesWithTheConnection(t *testing.T) {
	h := newHarness(t, upstream.ModeV1)
	h.srv.Enqueue(mockstream.Connection{Lines: []string{`{"id":1}`}, Hold: true})

	h.run(t, rules.FromPatterns([]string{"alpha", "beta"}, ""), 1)

	assert.Empty(t, h.srv.RuleCalls(), "v1 keeps no server-side rules")
	assert.Equal(t, "alpha,beta", h.srv.LastStreamQuery().Get("track"))
}
