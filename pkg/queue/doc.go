/*
Package queue implements the per-player task queue operations.

The Manager is the front door for everything a player does to their
queue: adding, removing and reordering tasks, pausing, resuming,
clearing, patching configuration, and reading statistics and health.
Every mutation enforces the queue's business rules, records history,
persists atomically and publishes the matching event - one call, one
consistent outcome, regardless of what other callers are doing to the
same queue concurrently.

# Architecture

	       player / host calls
	              │
	              ▼
	┌───────────────────────────────┐
	│            Manager            │
	│  validate → mutate → persist  │
	└──────┬──────────┬─────────────┘
	       │          │
	       ▼          ▼
	  pkg/persist   pkg/events
	  (atomic       (task.added,
	   update)       queue.paused, ...)

Mutations run inside persist.Update's read-modify-write loop: the
mutation closure sees a freshly loaded queue, applies rules against
that queue's own config, and either returns an error (nothing written)
or mutates in memory (persisted with a version bump). A concurrent save
triggers replay against fresh state, so two players' devices racing the
same queue both land, in some order, with no lost update.

# Operations

	m := queue.New(persistStore, validator, mon, broker, defaults)

	q, err := m.Get(ctx, playerID)          // creates on first contact
	q, err = m.AddTask(ctx, playerID, task)
	q, err = m.RemoveTask(ctx, playerID, taskID)
	q, err = m.Reorder(ctx, playerID, ids)
	q, err = m.Clear(ctx, playerID)
	q, err = m.Pause(ctx, playerID, "Going to dinner", true)
	q, err = m.Resume(ctx, playerID, false)
	q, err = m.UpdateConfig(ctx, playerID, patch)

	s, err := m.Statistics(ctx, playerID)
	h, err := m.Health(ctx, playerID)

Every mutator returns the queue as saved, so callers render the new
state without a second read.

# Business Rules

AddTask enforces, in order: task shape (ID, type, duration, activity
payload matching the declared type), ownership (a task stamped with
another player's ID is SEC_PLAYER_MISMATCH), prerequisite and resource
gates, then capacity against the queue's own config - queue size
(BUS_QUEUE_FULL), per-task duration (BUS_TASK_TOO_LONG), total queued
duration (BUS_TOTAL_DURATION_EXCEEDED) and duplicate IDs. With
PriorityHandling enabled the task is inserted by priority behind equal
priorities; otherwise appended. AutoStart promotes the head immediately
when the queue is idle and unpaused.

RemoveTask drops by ID wherever the task sits; removing the in-flight
task discards its partial progress and starts the next queued task.
Unknown IDs are a no-op, not an error.

Reorder moves the named queued tasks to the front in the given order;
unknown IDs are ignored and repeats collapse, so a slightly stale
client view still lands a sensible order. Tasks the request does not
mention keep their relative order behind the named ones, and the
in-flight task is never touched. Naming nothing that exists is a
no-op.

Clear empties the queue and resets its run and pause state; lifetime
totals survive.

Pause captures the reason and whether the player may resume; Resume
refuses while CanResume is false unless forced (operator path), fails
with BUS_NOT_PAUSED when nothing is paused, and shifts no task times -
the pause interval is accounted in TotalPauseTimeMs instead.

UpdateConfig applies a ConfigPatch (nil fields unchanged) and validates
the merged result; an invalid combination rejects the whole patch.
Shrinking MaxQueueSize below the current queue length truncates the
tail.

Under severe degradation (pkg/monitor) AddTask is refused outright with
RES_SYSTEM_OVERLOADED: shedding intake is the cheapest load to drop.

# No-op Detection

Mutations that change nothing - removing an absent task, reordering by
IDs that are all unknown - return errNoChange internally, which skips
the write entirely. Queues do not burn versions, history entries or fsyncs on
no-ops, and clients retrying idempotent calls stay cheap.

# Statistics and Health

Statistics derives completion rate, utilization, efficiency score,
average task duration and estimated clear time from the queue record.
Results are cached in a small LRU keyed by player with a short TTL
(stretched fourfold under severe degradation), and concurrent misses
for one player collapse into a single computation via singleflight.
The cache entry is dropped on every save through the persist OnSave
hook, so statistics never lag a visible mutation.

Health runs the integrity validator plus operational heuristics -
running but unprocessed past its sync interval, nearly full, paused
for over a day, current task out of retries - and returns a verdict
with issues and recommendations, suitable for direct display in an
admin tool (taskmill queue health PLAYER).

# Design Patterns

Rules live in the mutation closure. Checks run against the queue state
the write will actually commit over, not a copy read earlier, so
TOCTOU races between check and write are structurally impossible.

Events after persistence. A subscriber never observes an event whose
write subsequently failed; task.added means the task is durably queued.

Nil collaborators degrade quietly. Tests build a Manager with nil
monitor and broker; degradation checks and publishing become no-ops
rather than demanding fakes.

# See Also

  - pkg/persist - the atomic update loop mutations run inside
  - pkg/scheduler - advances what this package enqueues
  - pkg/events - the stream every mutation publishes to
  - pkg/types - TaskQueue state helpers the mutations call
*/
package queue
