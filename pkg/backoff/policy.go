package backoff

import (
	"fmt"

	"streamscraper/pkg/config"
)

// PolicyFromConfig builds a Policy from the backoff configuration section
func PolicyFromConfig(cfg config.BackoffConfig) (Policy, error) {
	rateLimit, err := NewStrategy(cfg.RateLimitStrategy, cfg.RateLimitDelay, cfg.MaxDelay, cfg.RateLimitMultiplier, cfg.JitterFactor)
	if err != nil {
		return Policy{}, fmt.Errorf("rate limit backoff: %w", err)
	}
	transient, err := NewStrategy(cfg.TransientStrategy, cfg.TransientDelay, cfg.MaxDelay, cfg.TransientMultiplier, cfg.JitterFactor)
	if err != nil {
		return Policy{}, fmt.Errorf("transient backoff: %w", err)
	}

	return Policy{
		RateLimit:      rateLimit,
		Transient:      transient,
		SafetyBuffer:   cfg.SafetyBuffer,
		MaxDelay:       cfg.MaxDelay,
		HonorResetHint: cfg.HonorResetHint,
	}, nil
}
