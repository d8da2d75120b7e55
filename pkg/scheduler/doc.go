/*
Package scheduler advances running task queues on a background loop.

The scheduler is what makes queues "idle-game real": it scans for
running queues on a fixed interval, applies elapsed wall time to each
one - crediting minute rewards, completing finished tasks, starting
successors - and persists the result. The same advancement function is
replayed by the offline reconciler over longer gaps, so a queue
progresses identically whether the player watched it or not.

# Architecture

	┌────────────────────────────────────────────────────────┐
	│                  Scheduler Loop                        │
	│               (every TickInterval, 5s)                 │
	└──────────────────┬─────────────────────────────────────┘
	                   │ QueryByIndex(queues, running=true)
	                   ▼
	┌────────────────────────────────────────────────────────┐
	│   partition player IDs by hash across N workers        │
	└──────┬──────────────┬──────────────┬───────────────────┘
	       ▼              ▼              ▼
	   worker 0       worker 1       worker N-1
	       │              │              │
	       ▼              ▼              ▼
	  ProcessQueue   ProcessQueue   ProcessQueue
	  (load → Advance → conditional save → events)

Each tick queries the running index (bounded by ScanLimit), hashes each
player ID onto a fixed worker, and lets the workers process their
queues concurrently. The hash partition means one player's queue is
never processed by two workers in the same tick, while different
players proceed in parallel.

# Core Components

Scheduler: owns the loop, the worker pool and the per-queue pipeline.

	sched := scheduler.New(store, persistStore, rewardsRegistry, scheduler.Config{
		Workers:      4,
		TickInterval: 5 * time.Second,
		ScanLimit:    256,
	}).
		WithSnapshotter(snapshots).
		WithBroker(broker).
		WithMonitor(mon).
		WithStats(statsProvider)

	sched.Start()
	defer sched.Stop()

Config zero values fall back to DefaultWorkers, DefaultTickInterval and
DefaultScanLimit. WithStats wires the host callback that resolves
player skills for reward formulas; without it every skill reads as
level zero, which keeps the engine runnable before the host integrates
progression.

Advance: the pure state-transition function. Given a queue, a target
time, the reward registry and player stats, it mutates the queue in
memory and reports what happened as a Progress:

	prog := scheduler.Advance(q, nowMs, registry, stats)
	// prog.Completed, prog.Failed, prog.Rewards, prog.Dirty

Advance performs no I/O and reads no clock; everything it does is a
function of its arguments. That is the property the reconciler relies
on when it replays a whole offline gap in one pass.

ProcessQueue: one immediate pass for one player, outside the tick loop.
The engine exposes it so hosts can force progress on demand (a player
opened their queue screen) without waiting for the next tick.

# Processing Pipeline

Per queue and tick:

 1. Load through pkg/persist (validation and repair included).
 2. Skip if not running, paused, or nothing has elapsed (errQueueIdle) -
    idle queues cost a read, never a write.
 3. Advance to now: credit whole minutes, complete tasks whose window
    closed, start successors at the predecessor's exact end instant.
 4. Save conditionally on the loaded version; a conflict means someone
    else wrote (player action, reconcile) and the tick simply retries
    next round.
 5. After a successful save: publish task events, journal completions
    to the append log, snapshot if the queue's snapshot interval has
    elapsed.

Timing is absolute, not incremental: progress is recomputed from
StartTimeMs against now each pass, so a missed tick never loses time
and a duplicated tick never double-counts. Reward crediting advances
the task's RewardedMinutes watermark, making step 3 idempotent at
minute granularity.

# Failure Semantics

A task that cannot credit (reward calculator error) or has exceeded its
duration bounds fails through the same path: its retry counter
increments, and once retries are exhausted the task fails permanently -
recorded in history, counted in totals, next task started. When the
queue's config sets PauseOnError, a permanent failure pauses the queue
instead of rolling on.

Under severe resource degradation (see pkg/monitor) the periodic
snapshot cadence stretches fourfold, shedding the heaviest writes while
the system is already struggling; the engine separately pauses running
queues at the severe level.

# Usage

The engine wires and owns the scheduler; embedding hosts rarely touch
this package directly. Forcing a pass:

	prog, err := eng.ProcessQueue(ctx, playerID)
	if err == nil {
		for _, t := range prog.Completed {
			push(playerID, t.Name+" finished!")
		}
	}

# Design Patterns

Pure core, effectful shell. Advance is deterministic and I/O-free;
scheduler.go owns every read, write, clock and event. Tests exercise
Advance with a table of times and never need a database.

Shared-nothing workers. Workers receive player IDs over per-worker
channels and share no mutable state; coordination happens entirely
through the store's conditional writes.

Conflicts are flow control, not errors. A version conflict on save
means newer state exists; the scheduler drops its stale write and lets
the next tick observe the winner. Counted in
taskmill_save_conflicts_total, logged at debug.

# Performance Characteristics

Per tick: one index query (O(log n + k) for k running queues, capped by
ScanLimit) plus k pipeline passes spread over Workers goroutines. Each
pass is one read, one Advance (microseconds) and at most one
conditional write; fsync latency dominates. With defaults, a thousand
running queues tick comfortably inside the five-second interval on
commodity SSDs.

Queues beyond ScanLimit in one tick are picked up next tick in
last-processed order, so temporary bursts degrade latency smoothly
instead of stampeding the store.

# Troubleshooting

Queues not progressing: confirm the queue is running and not paused
(taskmill queue inspect PLAYER), then check taskmill_tick_duration_seconds
exists and moves - a silent scheduler usually means Start was never
called.

High save-conflict counts: some other writer races the tick for the
same players - typically aggressive host calls to ProcessQueue.
Harmless unless sustained; consolidate writers per player where
possible.

Tasks complete but rewards are empty: the StatsProvider returned an
error or nil stats and the reward formula yielded nothing - check logs
for component=scheduler with the player ID.

# See Also

  - pkg/reconcile - replays Advance across offline gaps
  - pkg/rewards - calculators invoked during crediting
  - pkg/persist - load/save pipeline used each pass
  - pkg/monitor - degradation signal that stretches the tick
*/
package scheduler
