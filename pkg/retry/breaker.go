package retry

import (
	"sync"
	"time"
)

// BreakerState is the circuit state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures trip the
	// circuit.
	FailureThreshold int
	// FailureWindow bounds how long a failure streak stays live; a gap
	// longer than this resets the count.
	FailureWindow time.Duration
	// OpenTimeout is how long an open circuit rejects calls before
	// admitting trials.
	OpenTimeout time.Duration
	// HalfOpenMax caps concurrent trial calls while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig matches the engine's recovery policy: trip after
// 5 consecutive failures, hold for 60 s, admit 3 trial calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		OpenTimeout:      60 * time.Second,
		HalfOpenMax:      3,
	}
}

// Breaker is a per-key circuit breaker. It fails fast while open,
// admits a bounded number of trial calls when half-open, and closes on
// the first trial success.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state       BreakerState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	trials      int
}

// NewBreaker returns a closed breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// WithClock replaces the clock; tests use this to pin time.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns false and the time until the next trial is admitted.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, 0

	case StateOpen:
		remaining := b.cfg.OpenTimeout - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return false, remaining
		}
		// Timeout elapsed: admit trials.
		b.state = StateHalfOpen
		b.trials = 1
		return true, 0

	default: // StateHalfOpen
		if b.trials < b.cfg.HalfOpenMax {
			b.trials++
			return true, 0
		}
		return false, 0
	}
}

// RecordSuccess clears the failure streak; any half-open success closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.trials = 0
	}
}

// RecordFailure extends the failure streak. Reaching the threshold, or
// any half-open failure, opens the circuit and resets its timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.open(now)
		return
	}

	if b.cfg.FailureWindow > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.FailureWindow {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
		b.open(now)
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = 0
	b.trials = 0
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TimeUntilRetry returns how long callers should wait before the next
// allowed call; zero when calls are admitted now.
func (b *Breaker) TimeUntilRetry() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.OpenTimeout - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
