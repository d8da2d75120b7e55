/*
Package reconcile credits offline progress when a player returns.

An idle game's core promise is that queues keep working while the
player is away. This package keeps it: on load, the gap since the
queue was last written is replayed through the exact advancement
function the live scheduler uses, so a player who was gone three hours
gets precisely the completions, rewards and task transitions that
three hours of live ticking would have produced.

# The Equivalence Property

The whole design hangs on one property: being online for N minutes and
returning after an N-minute offline gap produce identical queue state.
It holds because there is a single state-transition function -
scheduler.Advance - and this package replays it over the gap instead
of implementing its own catch-up math:

	live:     Advance(q, t+5s), Advance(q, t+10s), ... every tick
	offline:  Advance(q, t+3h)  once, on return

Advance computes from absolute times (task StartTimeMs against the
horizon), not from deltas, so one big jump and many small steps land
on the same state. Reward crediting moves the per-task RewardedMinutes
watermark, making the replay idempotent at minute granularity - a
crash between save and notification cannot double-grant.

# The Catch-up

Reconcile runs inside a persist.Update, so the whole catch-up is one
atomic versioned write:

 1. Skip entirely (errNothingToDo, no write, empty report) when
    offline processing is disabled for the queue, the queue is paused,
    or less than a whole minute has elapsed.
 2. Compute the gap from LastUpdatedMs; clamp the credited span to
    MaxOfflineMinutes (24 h). Time beyond the clamp is forfeited, not
    banked - the cap is a balance rule, not a performance one.
 3. Advance the queue to the horizon (now, or the clamped horizon).
 4. When clamped with a task still in flight, shift that task's start
    forward by the forfeited stretch so the next reconcile cannot
    re-credit it.
 5. Save; then publish events for what happened, journal completions
    to the append log, and bump the offline-minutes metric.

The returned Report carries the gap, credited minutes, the clamp flag,
completed and failed tasks, merged rewards, and the saved queue so
callers render the result without a second read.

# Usage

The engine calls Reconcile inside Load for every returning player with
offline processing enabled; hosts can also invoke it directly:

	rec := reconcile.New(persistStore, rewardsRegistry).
		WithJournal(store).
		WithBroker(broker).
		WithStats(statsProvider)

	rep, err := rec.Reconcile(ctx, playerID)
	if err == nil && rep.CreditedMinutes > 0 {
		showWelcomeBack(rep.Completed, rep.Rewards, rep.Clamped)
	}

A zero-value report (no credited minutes) means nothing needed doing -
callers need not distinguish "no gap" from "disabled" from "paused".

# Concurrency

Running inside persist.Update means a reconcile races other writers on
the queue version and replays on conflict against fresh state - so a
player tapping "add task" on their phone at the wall-clock moment
their desktop client reconciles cannot lose either write. Two
simultaneous reconciles for one player collapse: the second replays
over the first's output, finds no whole minute elapsed, and exits with
no write.

# Events and Journal

Notifications fire only after the save commits, from the saved state:
task.completed per finished task (batched catch-ups emit one event per
task, in completion order), task.failed for exhausted tasks,
task.started when the in-flight task changed across the gap.
Completions are journaled to the same append log the live scheduler
writes, so an auditor reading the log cannot tell offline completions
from live ones.

# Design Patterns

Borrowed core, local policy. The state math belongs to the scheduler
package and is imported, not copied; this package owns only the
offline-specific policy (gap math, clamp, forfeit shift, skip rules).
Divergence between live and offline behavior is structurally
impossible rather than carefully maintained.

Report everything, decide nothing. The reconciler never notifies
players or interprets what a clamp should mean to the UI; it returns
facts and lets hosts decide presentation.

# See Also

  - pkg/scheduler - owns Advance, the shared transition function
  - pkg/persist - the atomic update the catch-up runs inside
  - pkg/engine - calls Reconcile on player load
  - pkg/events - where the post-save notifications go
*/
package reconcile
