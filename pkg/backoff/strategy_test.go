package backoff

import (
	"testing"
	"time"

	"streamscraper/pkg/config"
)

func configFixture(strategy string) config.BackoffConfig {
	return config.BackoffConfig{
		RateLimitStrategy: strategy,
		RateLimitDelay:    time.Minute,
		TransientStrategy: "constant",
		TransientDelay:    10 * time.Second,
		SafetyBuffer:      5 * time.Second,
		MaxDelay:          time.Hour,
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{9, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := backoff.NextDelay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		d := backoff.NextDelay(2)
		if d < 140*time.Millisecond || d > 260*time.Millisecond {
			t.Errorf("jittered delay %v outside bounds", d)
		}
		delays[d] = true
	}
	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter")
	}
}

func TestLinearBackoff(t *testing.T) {
	backoff := &LinearBackoff{
		BaseDelay: time.Second,
		MaxDelay:  3 * time.Second,
		Increment: time.Second,
	}

	expected := []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for attempt, want := range expected {
		if got := backoff.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestConstantBackoff(t *testing.T) {
	backoff := &ConstantBackoff{Delay: 30 * time.Second}
	if backoff.NextDelay(0) != 0 {
		t.Error("attempt 0 should not wait")
	}
	for attempt := 1; attempt < 5; attempt++ {
		if backoff.NextDelay(attempt) != 30*time.Second {
			t.Errorf("attempt %d: expected constant delay", attempt)
		}
	}
}

func TestNewStrategy(t *testing.T) {
	for _, name := range []string{"", "constant", "linear", "exponential"} {
		s, err := NewStrategy(name, time.Second, time.Minute, 0, 0)
		if err != nil || s == nil {
			t.Errorf("NewStrategy(%q) failed: %v", name, err)
		}
	}
	if _, err := NewStrategy("quadratic", time.Second, time.Minute, 0, 0); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
