package session

import (
	"context"
	"sync"
	"time"

	"streamscraper/pkg/clock"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/models"
	"streamscraper/pkg/notify"
	"streamscraper/pkg/rules"
	"streamscraper/pkg/upstream"
)

// scriptedLine is delivered by a fakeStream; a non-zero at moves the clock first
type scriptedLine struct {
	data string
	at   time.Time
}

// connection scripts one Open call
type connection struct {
	openErr error
	lines   []scriptedLine
	// endErr ends the stream after the lines; nil blocks until Close
	endErr error
}

type fakeSource struct {
	clock *clock.FakeClock

	mu          sync.Mutex
	connections []connection
	opens       int
	registered  []rules.Set
	registerErr []error
}

func (f *fakeSource) Open(ctx context.Context, _ rules.Set) (upstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++

	if len(f.connections) == 0 {
		return newFakeStream(f.clock, connection{}), nil
	}
	conn := f.connections[0]
	f.connections = f.connections[1:]
	if conn.openErr != nil {
		return nil, conn.openErr
	}
	return newFakeStream(f.clock, conn), nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// registeringSource adds server-side rule registration to fakeSource
type registeringSource struct {
	*fakeSource
}

func (r registeringSource) RegisterRules(_ context.Context, set rules.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, set)
	if len(r.registerErr) > 0 {
		err := r.registerErr[0]
		r.registerErr = r.registerErr[1:]
		return err
	}
	return nil
}

type fakeStream struct {
	clock  *clock.FakeClock
	lines  []scriptedLine
	endErr error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(clk *clock.FakeClock, conn connection) *fakeStream {
	return &fakeStream{clock: clk, lines: conn.lines, endErr: conn.endErr, closed: make(chan struct{})}
}

func (s *fakeStream) Next() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, errors.New(errors.ErrorTypeNetwork, "stream closed")
	default:
	}

	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]
		if !line.at.IsZero() {
			s.clock.Set(line.at)
		}
		return []byte(line.data), nil
	}
	if s.endErr != nil {
		return nil, s.endErr
	}
	<-s.closed
	return nil, errors.New(errors.ErrorTypeNetwork, "stream closed")
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type sentNotification struct {
	kind   notify.Kind
	fields notify.Fields
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingNotifier) Notify(kind notify.Kind, fields notify.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{kind: kind, fields: fields})
}

func (r *recordingNotifier) ofKind(kind notify.Kind) []notify.Fields {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Fields
	for _, n := range r.sent {
		if n.kind == kind {
			out = append(out, n.fields)
		}
	}
	return out
}

// failingWriter returns err for every append after the first ok appends
type failingWriter struct {
	ok      int
	err     error
	appends int
	closed  bool
}

func (w *failingWriter) Append(_ []byte, _ time.Time) (*models.RolloverEvent, error) {
	w.appends++
	if w.appends == 1 {
		ev := &models.RolloverEvent{NewKey: "2024-01-01"}
		if w.ok == 0 {
			return ev, w.err
		}
		return ev, nil
	}
	if w.appends <= w.ok {
		return nil, nil
	}
	return nil, w.err
}

func (w *failingWriter) Close() error {
	w.closed = true
	return nil
}

// cancelAfterRecords cancels the run once total records reach n
func cancelAfterRecords(n int64, cancel context.CancelFunc) Observer {
	return ObserverFunc(func(e Event) {
		if e.Type == EventRecord && e.Stats.TotalRecords >= n {
			cancel()
		}
	})
}
