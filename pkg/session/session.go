package session

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"streamscraper/pkg/backoff"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/models"
	"streamscraper/pkg/notify"
	"streamscraper/pkg/rules"
	"streamscraper/pkg/upstream"
)

// Source opens stream connections
type Source interface {
	Open(ctx context.Context, rules rules.Set) (upstream.Stream, error)
}

// RuleRegistrar is implemented by sources that keep rules server-side
type RuleRegistrar interface {
	RegisterRules(ctx context.Context, rules rules.Set) error
}

// Writer persists records into date-keyed partitions
type Writer interface {
	Append(record []byte, now time.Time) (*models.RolloverEvent, error)
	Close() error
}

// Options wires a Session's collaborators
type Options struct {
	Source Source
	Writer Writer
	// Backoff defaults to a controller with backoff.DefaultPolicy
	Backoff *backoff.Controller
	// Notifier defaults to notify.Nop
	Notifier notify.Notifier
	// Decoder defaults to JSONDecoder
	Decoder Decoder
	// RegisterRules registers the rule set once before the first connection
	// when Source implements RuleRegistrar
	RegisterRules bool
	// LogFile is reported in notifications
	LogFile   string
	Clock     clock.Clock
	Logger    logger.Logger
	Observers []Observer
}

// Session is one streaming run
type Session struct {
	source    Source
	writer    Writer
	backoff   *backoff.Controller
	notifier  notify.Notifier
	decode    Decoder
	register  bool
	logFile   string
	clock     clock.Clock
	logger    logger.Logger
	observers []Observer

	stats models.Stats
	phase Phase
}

// New validates opts and creates a Session
func New(opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("session requires a source")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("session requires a writer")
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewController(backoff.DefaultPolicy())
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Decoder == nil {
		opts.Decoder = JSONDecoder
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Session{
		source:    opts.Source,
		writer:    opts.Writer,
		backoff:   opts.Backoff,
		notifier:  opts.Notifier,
		decode:    opts.Decoder,
		register:  opts.RegisterRules,
		logFile:   opts.LogFile,
		clock:     opts.Clock,
		logger:    opts.Logger.WithField("component", "session"),
		observers: opts.Observers,
	}, nil
}

// Run streams until ctx is done or a fatal error occurs. Cancellation is a
// clean stop and returns a nil error. The returned stats are final either way.
func (s *Session) Run(ctx context.Context, set rules.Set) (models.Stats, error) {
	s.stats = models.Stats{StartedAt: s.clock.Now()}
	s.phase = PhaseConnecting
	s.emit(Event{Type: EventStarted})
	logger.LogComponentStart(s.logger, "stream session", map[string]interface{}{
		"rules": set.Len(),
	})

	err := s.loop(ctx, set)
	if ctx.Err() != nil && !errors.IsUnrecoverable(err) {
		err = nil
	}

	if closeErr := s.writer.Close(); closeErr != nil {
		s.logger.WithError(closeErr).Warn("Failed to close partition")
	}

	s.phase = PhaseStopped
	if err != nil {
		s.phase = PhaseFailed
	}
	s.emit(Event{Type: EventStopped, Err: err})
	logger.LogMetrics(s.logger, "stream", s.metrics())
	reason := "stopped"
	if err != nil {
		reason = err.Error()
	}
	logger.LogComponentStop(s.logger, "stream session", reason)
	return s.stats, err
}

func (s *Session) loop(ctx context.Context, set rules.Set) error {
	registered := !s.register
	registrar, canRegister := s.source.(RuleRegistrar)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if attempt > 0 {
			s.stats.Reconnects++
		}

		if !registered && canRegister {
			if err := registrar.RegisterRules(ctx, set); err != nil {
				if err := s.handleFailure(ctx, fmt.Errorf("rule registration failed: %w", err)); err != nil {
					return err
				}
				continue
			}
			registered = true
			s.logger.InfoWithFields("Rules registered", map[string]interface{}{"rules": set.Len()})
		}

		s.phase = PhaseConnecting
		stream, err := s.source.Open(ctx, set)
		if err != nil {
			if err := s.handleFailure(ctx, err); err != nil {
				return err
			}
			continue
		}

		s.phase = PhaseStreaming
		s.emit(Event{Type: EventConnected})
		s.logger.Info("Streaming")

		err = s.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return nil
		}
		if errors.IsUnrecoverable(err) {
			s.logger.WithError(err).Error("Storage failure, stopping")
			return fmt.Errorf("stream terminated: %w", err)
		}
		if err := s.handleFailure(ctx, err); err != nil {
			return err
		}
	}
}

// consume reads records until the connection fails. Only unrecoverable
// write failures and connection-level errors are returned.
func (s *Session) consume(ctx context.Context, stream upstream.Stream) error {
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := stream.Next()
		if err != nil {
			if errors.Is(err, errors.ErrorTypeDecode) && ctx.Err() == nil {
				s.decodeFailed(err)
				continue
			}
			return err
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := s.decode(line); err != nil {
			s.decodeFailed(err)
			continue
		}
		if err := s.handleRecord(line); err != nil {
			return err
		}
	}
}

func (s *Session) handleRecord(record []byte) error {
	now := s.clock.Now()
	s.backoff.OnSuccess()
	s.stats.ConsecutiveRateLimitEvents = 0

	event, err := s.writer.Append(record, now)
	if event != nil {
		s.rollover(*event, now)
	}
	if err != nil {
		s.stats.DroppedRecords++
		s.logger.WithError(err).ErrorWithFields("Failed to persist record", map[string]interface{}{
			"dropped_records": s.stats.DroppedRecords,
			"partition":       s.stats.Partition,
		})
		s.emit(Event{Type: EventWriteFailure, Err: err})
		if errors.IsUnrecoverable(err) {
			return err
		}
		return nil
	}

	s.stats.TotalRecords++
	s.stats.TodaysRecords++
	s.emit(Event{Type: EventRecord})
	return nil
}

// rollover reports the finished day before counting anything for the new one
func (s *Session) rollover(ev models.RolloverEvent, now time.Time) {
	s.stats.Partition = ev.NewKey
	if ev.Initial() {
		logger.LogRollover(s.logger, ev.PreviousKey, ev.NewKey, s.stats.TodaysRecords, s.stats.TotalRecords)
		s.emit(Event{Type: EventRollover, Rollover: &ev})
		return
	}

	s.notify(notify.DailySummary, notify.Fields{
		notify.FieldTime:          now,
		notify.FieldTotalRecords:  s.stats.TotalRecords,
		notify.FieldTodaysRecords: s.stats.TodaysRecords,
		notify.FieldPartition:     ev.PreviousKey,
		notify.FieldLogFile:       s.logFile,
	})
	logger.LogRollover(s.logger, ev.PreviousKey, ev.NewKey, s.stats.TodaysRecords, s.stats.TotalRecords)

	s.stats.TodaysRecords = 0
	s.emit(Event{Type: EventRollover, Rollover: &ev})
}

func (s *Session) decodeFailed(err error) {
	s.stats.DecodeErrors++
	s.logger.WithError(err).WarnWithFields("Skipping malformed record", map[string]interface{}{
		"decode_errors": s.stats.DecodeErrors,
	})
	s.emit(Event{Type: EventDecodeError, Err: err})
}

// handleFailure applies the backoff decision for a connection-level error. It
// returns nil when the loop should reconnect (or stop because ctx is done)
// and the terminal error otherwise.
func (s *Session) handleFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New(errors.ErrorTypeNetwork, "stream ended")
	}

	now := s.clock.Now()
	kind := errors.Classify(err)
	action := s.backoff.OnErrorWithHint(kind, now, errors.ResetHint(err, now))

	if action.Terminate {
		s.logger.WithError(err).Error("Fatal upstream error, stopping")
		return fmt.Errorf("stream terminated: %w", err)
	}

	if kind == errors.KindRateLimited {
		s.stats.ConsecutiveRateLimitEvents++
		s.stats.TotalRateLimitEvents++
		logger.LogRateLimit(s.logger, s.stats.ConsecutiveRateLimitEvents, action.SleepUntil.Sub(now), action.SleepUntil)
	} else {
		s.logger.WithError(err).WarnWithFields("Connection lost, reconnecting after cooldown", map[string]interface{}{
			"sleep_for": action.SleepUntil.Sub(now).String(),
		})
	}

	if action.Alert {
		s.notify(notify.RateLimitWarning, notify.Fields{
			notify.FieldTime:            now,
			notify.FieldRateLimitCount:  s.stats.ConsecutiveRateLimitEvents,
			notify.FieldTotalRateLimits: s.stats.TotalRateLimitEvents,
			notify.FieldResumeAt:        action.SleepUntil,
			notify.FieldLogFile:         s.logFile,
		})
	}

	s.phase = PhaseCooling
	s.emit(Event{Type: EventBackoff, Err: err})

	if err := backoff.SleepUntil(ctx, s.clock, action.SleepUntil); err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (s *Session) notify(kind notify.Kind, fields notify.Fields) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorWithFields("Notifier panicked", map[string]interface{}{
				"kind":  string(kind),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	s.notifier.Notify(kind, fields)
}

func (s *Session) emit(e Event) {
	e.Time = s.clock.Now()
	e.Phase = s.phase
	e.Stats = s.stats
	e.Backoff = s.backoff.Status(e.Time)
	for _, o := range s.observers {
		o.OnEvent(e)
	}
}

func (s *Session) metrics() map[string]interface{} {
	return map[string]interface{}{
		"total_records":     s.stats.TotalRecords,
		"todays_records":    s.stats.TodaysRecords,
		"decode_errors":     s.stats.DecodeErrors,
		"dropped_records":   s.stats.DroppedRecords,
		"rate_limit_events": s.stats.TotalRateLimitEvents,
		"reconnects":        s.stats.Reconnects,
		"partition":         s.stats.Partition,
	}
}
