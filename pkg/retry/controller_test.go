package retry

import (
	"context"
	"testing"
	"time"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		Backoff:     Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		MaxAttempts: 3,
		Breaker:     DefaultBreakerConfig(),
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 500*time.Millisecond, b.Delay(4), "capped at max")
	assert.Equal(t, 500*time.Millisecond, b.Delay(10))
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2}

	for i := 0; i < 200; i++ {
		d := b.Delay(2) // nominal 200ms
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	c := NewController(fastPolicy())

	calls := 0
	err := c.Execute(context.Background(), Key("p1", "save"), func(context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.NetTimeout, "transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateClosed, c.Breaker(Key("p1", "save")).State())
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	c := NewController(fastPolicy())

	calls := 0
	err := c.Execute(context.Background(), Key("p1", "save"), func(context.Context) error {
		calls++
		return errs.New(errs.NetTimeout, "still down")
	})

	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.NetTimeout))
	assert.Equal(t, 3, calls)
}

// Business failures are surfaced immediately: no retries, no breaker
// accounting.
func TestExecuteDoesNotRetryBusinessErrors(t *testing.T) {
	c := NewController(fastPolicy())
	key := Key("p1", "add")

	calls := 0
	err := c.Execute(context.Background(), key, func(context.Context) error {
		calls++
		return errs.New(errs.BusQueueFull, "queue full")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, c.Breaker(key).State())
}

// Five failing calls open the circuit; the sixth fails fast with
// SYS_CIRCUIT_OPEN carrying a retry hint close to the 60 s timeout.
func TestExecuteCircuitOpens(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	policy := fastPolicy()
	policy.MaxAttempts = 1
	c := NewController(policy).WithClock(clock.now)
	key := Key("p1", "save")

	for i := 0; i < 5; i++ {
		err := c.Execute(context.Background(), key, func(context.Context) error {
			return errs.New(errs.NetTimeout, "store down")
		})
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, c.Breaker(key).State())

	calls := 0
	err := c.Execute(context.Background(), key, func(context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.SysCircuitOpen))
	assert.Zero(t, calls, "open circuit must not invoke fn")
	assert.InDelta(t, 60_000, errs.RetryAfterMs(err), 1_000)

	// After the timeout a trial call is admitted; success closes the
	// circuit again.
	clock.advance(61 * time.Second)
	err = c.Execute(context.Background(), key, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, c.Breaker(key).State())
}

// A player's breaker is scoped to the (player, operation) key; other
// keys are unaffected.
func TestBreakerKeysAreIndependent(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 1
	c := NewController(policy)

	for i := 0; i < 5; i++ {
		_ = c.Execute(context.Background(), Key("p1", "save"), func(context.Context) error {
			return errs.New(errs.NetTimeout, "down")
		})
	}
	require.Equal(t, StateOpen, c.Breaker(Key("p1", "save")).State())

	err := c.Execute(context.Background(), Key("p2", "save"), func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	err = c.Execute(context.Background(), Key("p1", "recover"), func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestExecuteHonorsContext(t *testing.T) {
	policy := fastPolicy()
	policy.Backoff = Backoff{Base: time.Minute, Max: time.Minute}
	c := NewController(policy)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Execute(ctx, Key("p1", "save"), func(context.Context) error {
		return errs.New(errs.NetTimeout, "down")
	})

	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.TimDeadlineExceeded))
}
