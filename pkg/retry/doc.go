/*
Package retry provides exponential backoff and per-key circuit breakers
for operations that talk to storage.

The two mechanisms answer different questions. Backoff answers "this
call failed, when should I try again?" - transient faults usually clear
within a retry or two. Breakers answer "should I even try?" - when a
player's storage path has failed repeatedly, more attempts only add
load, so the circuit opens and calls fail fast until a cooldown passes.
The Controller composes both behind one call.

# Breaker Lifecycle

	closed ── threshold consecutive failures ──▶ open
	   ▲                                          │
	   │ first trial success                      │ OpenTimeout elapses
	   │                                          ▼
	   └────────────────────────────────────── half-open
	              (trial failure reopens)

Defaults: trip after 5 consecutive failures within a 60 s window, hold
open for 60 s, then admit up to 3 concurrent trial calls. A failure gap
longer than the window resets the streak, so sporadic faults spread
over hours never trip the circuit. Allow on an open circuit returns
the time until the next trial, which callers surface to players as a
retry-in hint.

# Keys

Breakers are keyed per (player, operation) pair via Key:

	retry.Key("p-123", "recovery")   // "p-123/recovery"

One player's corrupted record trips only their own circuit; everyone
else proceeds. The controller creates breakers lazily on first use and
shares them across callers of the same key.

# Error Policy

Execute leans on the errs package to decide what a failure means:

  - errs.CountsForBreaker picks which errors trip the circuit -
    infrastructure faults (SYS_INTERNAL, SYS_CORRUPTION, NET_*, TIM_*)
    and unknown errors count; business rejections and validation
    failures never do. A full queue is not a broken store.
  - errs.Retryable gates the retry loop; non-retryable errors surface
    on the first attempt no matter the budget.
  - An open circuit yields SYS_CIRCUIT_OPEN with RetryAfterMs set.

# Usage

	rc := retry.NewController(retry.DefaultPolicy())

	err := rc.Execute(ctx, retry.Key(playerID, "save"), func(ctx context.Context) error {
		return store.ConditionalPut(ctx, item)
	})

Collaborators that manage their own attempt loop (recovery walks a
strategy ladder, persist replays mutations) use the breaker directly:

	br := rc.Breaker(retry.Key(playerID, recovery.OpRecovery))
	if ok, wait := br.Allow(); !ok {
		return errs.New(errs.ResGracefulDegradation, "retry in %s", wait)
	}
	// ... attempt ...
	br.RecordSuccess() // or br.RecordFailure()

Backoff is usable standalone; Delay(attempt) doubles from Base per
attempt, caps at Max, and spreads results across ±Jitter so a burst of
conflicted writers does not retry in lockstep.

# Design Patterns

Clocks are injected. Breakers and the controller take WithClock so
tests drive open/half-open transitions deterministically instead of
sleeping through timeouts.

Waits respect the context. Retry sleeps select against ctx.Done and
return TIM_DEADLINE_EXCEEDED when interrupted, so a caller's deadline
bounds the whole retry budget, not just each attempt.

# See Also

  - pkg/errs - CountsForBreaker and Retryable, the policy Execute obeys
  - pkg/recovery - drives per-player breakers around its strategy ladder
  - pkg/persist - retries conflicted writes with this package's backoff
*/
package retry
