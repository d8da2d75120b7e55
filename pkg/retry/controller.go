package retry

import (
	"context"
	"sync"
	"time"

	"github.com/emberhollow/taskmill/pkg/errs"
)

// Policy bundles the retry and breaker settings for a controller.
type Policy struct {
	Backoff     Backoff
	MaxAttempts int
	Breaker     BreakerConfig
}

// DefaultPolicy is the stock engine policy.
func DefaultPolicy() Policy {
	return Policy{
		Backoff:     DefaultBackoff(),
		MaxAttempts: 3,
		Breaker:     DefaultBreakerConfig(),
	}
}

// Key builds the breaker key for a (player, operation) pair.
func Key(playerID, operation string) string {
	return playerID + "/" + operation
}

// Controller executes operations under retry-with-backoff and a
// per-key circuit breaker. Keys are (player, operation) pairs so one
// player's failing store cannot trip another's circuit.
type Controller struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	policy   Policy

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewController returns a controller with the given policy.
func NewController(policy Policy) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Controller{
		breakers: make(map[string]*Breaker),
		policy:   policy,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// WithClock replaces the clock on the controller and every breaker it
// creates; tests use this to pin time.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	for _, b := range c.breakers {
		b.WithClock(now)
	}
	return c
}

// Breaker returns the breaker for key, creating it on first use.
func (c *Controller) Breaker(key string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[key]
	if !ok {
		b = NewBreaker(c.policy.Breaker).WithClock(c.now)
		c.breakers[key] = b
	}
	return b
}

// Execute runs fn under the key's breaker with backoff retries. An open
// circuit fails fast with SYS_CIRCUIT_OPEN carrying the time until the
// next trial. Business and validation failures surface immediately and
// do not count against the breaker.
func (c *Controller) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	b := c.Breaker(key)

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		allowed, wait := b.Allow()
		if !allowed {
			return errs.New(errs.SysCircuitOpen,
				"circuit open for %s", key).WithRetryAfter(wait.Milliseconds())
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			b.RecordSuccess()
			return nil
		}
		if errs.CountsForBreaker(lastErr) {
			b.RecordFailure()
		}
		if !errs.Retryable(lastErr) || attempt == c.policy.MaxAttempts {
			return lastErr
		}

		if err := c.sleep(ctx, c.policy.Backoff.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.TimDeadlineExceeded, ctx.Err(), "retry wait interrupted")
	}
}
