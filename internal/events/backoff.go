package events

import (
	"math/rand"
	"time"
)

// BackoffConfig bounds the durable retry schedule.
type BackoffConfig struct {
	BaseDelay time.Duration // delay after the first failure
	MaxDelay  time.Duration // exponential growth cap
	Jitter    float64       // symmetric jitter fraction, e.g. 0.2 for +/-20%
}

// DefaultBackoff returns the production schedule: 60s base doubling up to 1h,
// +/-20% jitter to spread simultaneously-failing events apart.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 60 * time.Second,
		MaxDelay:  time.Hour,
		Jitter:    0.2,
	}
}

// maxShift keeps the doubling below the overflow threshold for time.Duration.
const maxShift = 30

// NextRetryAt computes when a failed event becomes eligible again:
// now + min(base * 2^(retryCount-1), cap) * (1 + jitter). retryCount is
// 1-based (1 => BaseDelay). Pass a seeded rng for deterministic tests; nil
// falls back to the shared package source.
func NextRetryAt(now time.Time, retryCount int, cfg BackoffConfig, rng *rand.Rand) time.Time {
	if retryCount < 1 {
		retryCount = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 60 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Hour
	}

	shift := retryCount - 1
	var delay time.Duration
	if shift >= maxShift {
		delay = cfg.MaxDelay
	} else {
		delay = cfg.BaseDelay << shift
		if delay > cfg.MaxDelay || delay <= 0 {
			delay = cfg.MaxDelay
		}
	}

	if cfg.Jitter > 0 {
		frac := randFloat(rng)*2 - 1 // uniform in [-1, +1)
		delay += time.Duration(float64(delay) * cfg.Jitter * frac)
	}

	return now.Add(delay).UTC()
}

func randFloat(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	return rand.Float64()
}
