package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before the given attempt (1-based)
type Strategy interface {
	// NextDelay returns the delay for attempt; attempt <= 0 yields 0
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt, with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor adds randomness to avoid synchronized retries (0.0 to 1.0)
	JitterFactor float64
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return applyJitter(delay, eb.JitterFactor)
}

// LinearBackoff adds Increment per attempt
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

// NextDelay calculates the next delay with linear backoff
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}
	return applyJitter(delay, lb.JitterFactor)
}

// ConstantBackoff always waits Delay
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

func applyJitter(delay, factor float64) time.Duration {
	if factor > 0 {
		jitter := delay * factor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// NewStrategy builds a named strategy. base is the first delay, max caps
// growth for linear and exponential strategies and multiplier is the
// exponential growth factor (linear strategies grow by base per attempt).
func NewStrategy(name string, base, max time.Duration, multiplier, jitter float64) (Strategy, error) {
	switch name {
	case "", "constant":
		return &ConstantBackoff{Delay: base}, nil
	case "linear":
		return &LinearBackoff{
			BaseDelay:    base,
			MaxDelay:     max,
			Increment:    base,
			JitterFactor: jitter,
		}, nil
	case "exponential":
		if multiplier <= 1 {
			multiplier = 2
		}
		return &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     max,
			Multiplier:   multiplier,
			JitterFactor: jitter,
		}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}
