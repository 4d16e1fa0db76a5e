package backoff

import (
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// Default provides conservative retry defaults.
func Default() Policy {
	return Policy{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait for the given attempt (1-based).
func (p Policy) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := p.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := p.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if p.Jitter <= 0 {
		return wait
	}
	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
