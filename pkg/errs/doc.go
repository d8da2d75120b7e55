/*
Package errs defines Taskmill's coded error surface.

Every error that crosses a package boundary carries a stable Code such
as PER_VERSION_CONFLICT or BUS_QUEUE_FULL. Codes give callers something
machine-readable to branch on, give the retry controller and circuit
breakers their classification rules, and give game clients strings they
can map to player-facing copy - all without parsing message text.

# Architecture

Codes group into families by prefix:

	NET_  network and connectivity faults
	VAL_  validation failures (bad input, bad config)
	PER_  persistence (conflicts, checksums, not-found, migration planning)
	BUS_  business rules (queue full, prereq not met, resume forbidden)
	SYS_  internal faults and corruption, circuit open
	SEC_  authorization and ownership mismatches
	RES_  resource pressure and graceful degradation
	TIM_  deadlines

The family is derived from the code's prefix (Code.Family), so policy
that cares about a whole class - "network and timeout errors count
toward the breaker" - is written once against the family rather than
enumerating codes.

# The Error Type

	type Error struct {
		Code             Code
		Message          string
		RetryRecommended bool
		Warning          bool     // advisory, operation was a no-op
		SuggestedActions []string // short imperative hints for clients
		RetryAfterMs     int64    // advised wait for circuit/degradation
	}

Error implements error, Unwrap for chains and Is for code-based
matching, so it cooperates with the standard errors package:

	err := errs.New(errs.BusQueueFull, "queue holds %d tasks", n)
	wrapped := errs.Wrap(errs.SysInternal, cause, "save failed")

	errors.Is(wrapped, cause)            // true, chain preserved
	errs.IsCode(err, errs.BusQueueFull)  // true

New fills RetryRecommended and SuggestedActions with per-code defaults
(a version conflict suggests a retry; a business rejection suggests
checking requirements) which builders can override:

	errs.New(errs.SysCircuitOpen, "recovery suspended").
		WithRetryAfter(30_000).
		WithActions("Wait before retrying recovery")

AsWarning marks advisory failures - pausing an already-paused queue
fails with Warning set, letting clients show a soft notice instead of
an error dialog.

# Inspection Helpers

Callers never type-assert; they use the package helpers, all of which
walk wrapped chains:

	errs.CodeOf(err)            // Code or "" for foreign errors
	errs.IsCode(err, code)      // match one code
	errs.IsWarning(err)         // advisory?
	errs.Retryable(err)         // retry recommended?
	errs.RetryAfterMs(err)      // advised wait, 0 when absent
	errs.CountsForBreaker(err)  // should this trip a circuit breaker?

CountsForBreaker encodes the one policy decision shared by retry and
recovery: infrastructure faults (SYS_INTERNAL, SYS_CORRUPTION, the NET_
and TIM_ families, unknown foreign errors) count against a player's
breaker; business and validation failures never do, because retrying
them cannot succeed and tripping a breaker on them would lock players
out for their own input.

# Usage

Raising at the point of knowledge:

	if len(q.QueuedTasks) >= q.Config.MaxQueueSize {
		return errs.New(errs.BusQueueFull,
			"queue for %s is at its limit of %d", playerID, q.Config.MaxQueueSize)
	}

Branching at the caller:

	q, err := eng.AddTask(ctx, playerID, task)
	switch {
	case errs.IsCode(err, errs.BusQueueFull):
		showQueueFullDialog()
	case errs.IsWarning(err):
		toast(err)
	case err != nil:
		return err
	}

# Design Patterns

Codes at boundaries, causes inside. Packages wrap underlying errors
(Wrap keeps the chain intact for logs) but the code is what crosses the
boundary; callers branch on codes, never on message text or concrete
types from other packages.

Defaults per code, overrides per site. Retry advice and suggested
actions have one sensible default per code so most call sites are a
single New; the few sites that know better override locally.

No sentinel errors. Matching is by code, so there are no exported var
ErrFoo values to collide or to import-cycle around.

# See Also

  - pkg/retry - consumes Retryable and CountsForBreaker
  - pkg/recovery - breaker policy and RES_/SYS_ results
  - pkg/integrity - VAL_ codes raised by validation rules
*/
package errs
