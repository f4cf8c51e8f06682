package backoff

import (
	"fmt"
	"time"

	"streamscraper/pkg/errors"
)

// State is the controller's position in its state machine
type State int

const (
	// Healthy means no error since the last success
	Healthy State = iota
	// Throttled means rate limited at least once since the last success,
	// with no cooldown pending
	Throttled
	// Cooling means a cooldown is pending until Status.Until
	Cooling
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Throttled:
		return "throttled"
	case Cooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the controller
type Status struct {
	State    State
	Attempt  int
	Until    time.Time
	LastKind errors.Kind
}

func (s Status) String() string {
	switch s.State {
	case Throttled:
		return fmt.Sprintf("throttled(%d)", s.Attempt)
	case Cooling:
		return fmt.Sprintf("cooling(until %s)", s.Until.Format(time.RFC3339))
	default:
		return s.State.String()
	}
}

// Action tells the session what to do after an error
type Action struct {
	// Alert asks for an operator notification
	Alert bool
	// SleepUntil is the earliest reconnect time; zero when terminating
	SleepUntil time.Time
	// Terminate ends the session without reconnecting
	Terminate bool
	// Attempt is the rate-limit attempt count after this error
	Attempt int
	Kind    errors.Kind
}

// Policy holds the cooldown configuration
type Policy struct {
	// RateLimit computes the base cooldown per consecutive rate-limit attempt
	RateLimit Strategy
	// Transient computes the cooldown per consecutive transient error
	Transient Strategy
	// SafetyBuffer is added to every rate-limit cooldown
	SafetyBuffer time.Duration
	// MaxDelay caps every cooldown relative to the error time
	MaxDelay time.Duration
	// HonorResetHint lets a vendor-signaled reset time replace the base delay
	HonorResetHint bool
}

// DefaultPolicy waits 300s (+15s) on rate limits and 30s on transient errors
func DefaultPolicy() Policy {
	return Policy{
		RateLimit:      &ConstantBackoff{Delay: 300 * time.Second},
		Transient:      &ConstantBackoff{Delay: 30 * time.Second},
		SafetyBuffer:   15 * time.Second,
		MaxDelay:       30 * time.Minute,
		HonorResetHint: true,
	}
}

// Controller is the backoff state machine for one stream session. It is
// owned by the session's read loop and is not safe for concurrent use.
type Controller struct {
	policy Policy

	attempt          int
	transientAttempt int
	until            time.Time
	lastKind         errors.Kind
	errored          bool
}

// NewController creates a controller in the Healthy state
func NewController(policy Policy) *Controller {
	defaults := DefaultPolicy()
	if policy.RateLimit == nil {
		policy.RateLimit = defaults.RateLimit
	}
	if policy.Transient == nil {
		policy.Transient = defaults.Transient
	}
	return &Controller{policy: policy}
}

// OnSuccess returns to Healthy and resets every attempt counter
func (c *Controller) OnSuccess() {
	c.attempt = 0
	c.transientAttempt = 0
	c.until = time.Time{}
	c.errored = false
}

// OnError records an error of the given kind observed at now
func (c *Controller) OnError(kind errors.Kind, now time.Time) Action {
	return c.OnErrorWithHint(kind, now, time.Time{})
}

// OnErrorWithHint is OnError with a vendor reset time; the zero time means
// no hint. The hint only affects rate-limit errors.
func (c *Controller) OnErrorWithHint(kind errors.Kind, now, resetAt time.Time) Action {
	c.lastKind = kind
	c.errored = true

	switch kind {
	case errors.KindRateLimited:
		c.attempt++
		base := now.Add(c.policy.RateLimit.NextDelay(c.attempt))
		if c.policy.HonorResetHint && !resetAt.IsZero() {
			base = resetAt
			if base.Before(now) {
				base = now
			}
		}
		until := c.clamp(base.Add(c.policy.SafetyBuffer), now)
		// Within one throttled run the deadline never moves backwards.
		if until.Before(c.until) {
			until = c.until
		}
		c.until = until
		return Action{Alert: true, SleepUntil: until, Attempt: c.attempt, Kind: kind}

	case errors.KindTransient:
		c.transientAttempt++
		until := c.clamp(now.Add(c.policy.Transient.NextDelay(c.transientAttempt)), now)
		if until.Before(c.until) {
			until = c.until
		}
		c.until = until
		return Action{SleepUntil: until, Attempt: c.attempt, Kind: kind}

	default:
		return Action{Terminate: true, Attempt: c.attempt, Kind: errors.KindFatal}
	}
}

func (c *Controller) clamp(until, now time.Time) time.Time {
	if c.policy.MaxDelay > 0 {
		if ceiling := now.Add(c.policy.MaxDelay); until.After(ceiling) {
			return ceiling
		}
	}
	return until
}

// Status reports the state as of now
func (c *Controller) Status(now time.Time) Status {
	s := Status{Attempt: c.attempt, LastKind: c.lastKind, Until: c.until}
	switch {
	case c.errored && now.Before(c.until):
		s.State = Cooling
	case c.attempt > 0:
		s.State = Throttled
	default:
		s.State = Healthy
	}
	return s
}

// State reports the state as of now
func (c *Controller) State(now time.Time) State {
	return c.Status(now).State
}

// Attempts returns the number of rate-limit errors since the last success
func (c *Controller) Attempts() int {
	return c.attempt
}
