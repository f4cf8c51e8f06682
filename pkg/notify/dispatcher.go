package notify

import (
	"context"
	"fmt"
	"time"

	"streamscraper/internal/worker"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/ratelimit"
)

// DefaultSendTimeout bounds a single transport delivery
const DefaultSendTimeout = 30 * time.Second

// Options configures a Dispatcher
type Options struct {
	Transports []Transport
	// Kinds restricts delivery to the listed kinds; nil allows all
	Kinds map[Kind]bool
	// MaxPerHour throttles each kind independently; zero disables throttling
	MaxPerHour int
	// Pool, when set, delivers in the background
	Pool        *worker.Pool
	SendTimeout time.Duration
	Clock       clock.Clock
	Logger      logger.Logger
}

// Dispatcher renders notifications and fans them out to transports
type Dispatcher struct {
	transports  []Transport
	kinds       map[Kind]bool
	limiters    map[Kind]ratelimit.Limiter
	pool        *worker.Pool
	sendTimeout time.Duration
	clock       clock.Clock
	logger      logger.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}

	d := &Dispatcher{
		transports:  opts.Transports,
		kinds:       opts.Kinds,
		limiters:    make(map[Kind]ratelimit.Limiter),
		pool:        opts.Pool,
		sendTimeout: opts.SendTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger.WithField("component", "notify"),
	}
	if opts.MaxPerHour > 0 {
		for kind := range templates {
			d.limiters[kind] = ratelimit.NewSlidingWindowWithClock(opts.MaxPerHour, time.Hour, opts.Clock)
		}
	}
	return d
}

// Notify renders and delivers a notification. Errors are logged, never returned.
func (d *Dispatcher) Notify(kind Kind, fields Fields) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorWithFields("Notification panicked", map[string]interface{}{
				"kind":  string(kind),
				"panic": fmt.Sprint(r),
			})
		}
	}()

	if d.kinds != nil && !d.kinds[kind] {
		d.logger.DebugWithFields("Notification kind disabled", map[string]interface{}{"kind": string(kind)})
		return
	}
	if len(d.transports) == 0 {
		return
	}
	if limiter, ok := d.limiters[kind]; ok && !limiter.Allow() {
		d.logger.WarnWithFields("Notification throttled", map[string]interface{}{"kind": string(kind)})
		return
	}

	msg, err := Render(kind, fields, d.clock.Now())
	if err != nil {
		d.logger.WithError(err).Error("Failed to render notification")
		return
	}

	if d.pool == nil {
		d.deliver(context.Background(), msg)
		return
	}

	job := worker.Job{
		Name: "notify:" + string(kind),
		Run: func(ctx context.Context) error {
			d.deliver(ctx, msg)
			return nil
		},
	}
	if err := d.pool.TrySubmit(job); err != nil {
		d.logger.WithError(err).Warn("Notification dropped")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, t := range d.transports {
		fields := map[string]interface{}{
			"kind":      string(msg.Kind),
			"transport": t.Name(),
		}

		if err := d.send(ctx, t, msg); err != nil {
			fields["error"] = err.Error()
			d.logger.ErrorWithFields("Notification delivery failed", fields)
			continue
		}
		d.logger.InfoWithFields("Notification sent", fields)
	}
}

func (d *Dispatcher) send(ctx context.Context, t Transport, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return t.Send(ctx, msg)
}

// Transports returns the configured transport names
func (d *Dispatcher) Transports() []string {
	names := make([]string, len(d.transports))
	for i, t := range d.transports {
		names[i] = t.Name()
	}
	return names
}
