package transport

import (
	"math"
	"math/rand"
	"time"
)

// PollPolicy bounds the polling driver: how often to poll, and how many
// consecutive failures to absorb (with backoff) before declaring the
// transport exhausted.
type PollPolicy struct {
	Interval       time.Duration // normal spacing between status requests
	MaxFailures    int           // consecutive failures tolerated before giving up
	InitialBackoff time.Duration // delay after the first failure
	MaxBackoff     time.Duration // backoff cap
	Multiplier     float64       // exponential backoff multiplier
	Jitter         bool          // add 0-20% random variation to backoff delays
}

// DefaultPollPolicy matches the service's pacing: a status request every
// three seconds, with a handful of backoff retries before exhaustion.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:       3 * time.Second,
		MaxFailures:    4,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     15 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// backoff computes the delay before retry attempt n (1-based).
func (p PollPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}
