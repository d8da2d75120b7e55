package retry

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays: Base doubles per attempt,
// capped at Max, with a symmetric jitter fraction applied last.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // e.g. 0.2 for ±20%
}

// DefaultBackoff is the stock policy used across the engine.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   100 * time.Millisecond,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

// Delay returns the wait before the given attempt. Attempts count from
// 1; values below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		// Spread the delay across [1-jitter, 1+jitter].
		f := 1 - b.Jitter + 2*b.Jitter*rand.Float64()
		d = time.Duration(float64(d) * f)
	}
	if d < 0 {
		d = 0
	}
	return d
}
