package retry

import "time"

type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	SweepInterval time.Duration
	MaxItems      int
	ItemTTL       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      5 * time.Minute,
		SweepInterval: 10 * time.Second,
		MaxItems:      1000,
		ItemTTL:       30 * time.Minute,
	}
}

func NormalizePolicy(policy Policy) Policy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Minute
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if policy.SweepInterval <= 0 {
		policy.SweepInterval = 10 * time.Second
	}
	if policy.MaxItems <= 0 {
		policy.MaxItems = 1000
	}
	if policy.ItemTTL <= 0 {
		policy.ItemTTL = 30 * time.Minute
	}
	return policy
}

// Backoff returns the delay before the given attempt:
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	p = NormalizePolicy(p)
	if attempt <= 0 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
