/*
Package types defines the core data structures used throughout Taskmill.

This package contains all fundamental types that represent Taskmill's domain
model, including tasks, task queues, queue configuration, snapshots, migration
records and player progression data. These types are used by all other
packages for queue management, persistence, recovery and reward calculation.

# Architecture

The types package is the foundation of Taskmill's data model. It defines:

  - Task execution state and lifecycle (current task, queued tasks, progress)
  - Queue state (running, paused, totals, bounded history)
  - Per-queue configuration with defaults, patches and validation
  - Snapshot and migration bookkeeping records
  - Activity payloads (harvesting, crafting, combat)
  - Reward and prerequisite primitives
  - Player skill data used by reward calculators

All types are designed to be:
  - Serializable (JSON, the persisted wire format)
  - Owned by one player (every record keys on PlayerID)
  - Self-describing (schema version travels with the record)
  - Validated (enum helpers, ValidateConfig, per-field rules)

# Core Types

Queue state:
  - TaskQueue: One player's full queue record - the unit of persistence
  - QueueTotals: Lifetime counters, changed only on task completion/failure
  - StateHistoryEntry: One bounded-history event (completed, failed, ...)
  - QueueStatistics: Derived per-queue summary served from the stats cache
  - QueueHealth: Point-in-time verdict with issues and recommendations

Task execution:
  - Task: A single unit of work with duration, progress and rewards
  - TaskType: Harvesting, crafting, combat
  - ActivityData: Per-type payload (exactly one variant set)
  - Prerequisite: Skill-level or item-count gate checked before start
  - ResourceRequirement: Consumables reserved when the task starts

Configuration:
  - QueueConfig: Per-queue limits and feature switches
  - ConfigPatch: Partial update where nil fields mean "leave unchanged"
  - DefaultQueueConfig / EmergencyQueueConfig: Stock configurations

Durability bookkeeping:
  - Snapshot: Compressed point-in-time copy of a queue
  - SnapshotReason: periodic, before-update, manual, recovery
  - MigrationRecord: One migration run with status and affected players
  - MigrationStatus: pending, in-progress, completed, failed, rolled-back

Progression:
  - Reward: Item, experience, currency or unlock granted by a task
  - PlayerStats: Skill levels consulted by reward calculators
  - SkillCategory / SkillID: Two-level skill addressing

# Time Conventions

All timestamps and durations are int64 Unix milliseconds, suffixed Ms:

	CreatedAtMs, LastUpdatedMs, PausedAtMs   // wall-clock instants
	DurationMs, TimeSpentMs, SyncIntervalMs  // durations

Milliseconds keep arithmetic on persisted records trivial (no time.Time
in the wire format) and make offline-gap math exact. Code converts at
the edges with time.UnixMilli and time.Duration multiplication.

Progress is a float64 fraction in [0, 1]; reward crediting uses the
whole-minute watermark Task.RewardedMinutes so replays never double-grant.

# Queue Lifecycle

TaskQueue carries small state-transition helpers shared by every caller
that mutates a queue in memory. They keep the flag invariants in one
place:

	q := types.NewTaskQueue("player-1", types.DefaultQueueConfig(), nowMs)
	q.QueuedTasks = append(q.QueuedTasks, task)

	q.StartNextAt(nowMs)        // promotes the head when idle
	q.PauseAt(nowMs, "Going to dinner", true)
	q.ResumeAt(nowMs)           // closes the pause interval
	q.ClearAt(nowMs)            // drops current + queued, keeps totals

The invariants the helpers maintain:

  - IsRunning and IsPaused are never both true
  - IsRunning implies CurrentTask != nil
  - TotalPauseTimeMs accumulates completed pause intervals only
  - History never exceeds Config.MaxHistorySize (oldest dropped first)

PauseReasonOverload marks queues paused by the system under resource
pressure rather than by the player; the engine lifts those pauses
automatically once the degradation level clears.

# Versioning

Two independent counters travel with every queue:

	Version        // optimistic-concurrency counter, +1 per save
	SchemaVersion  // record layout, changes only through migrations

Version mismatches surface as conflicts in the persistence layer and are
retried there. SchemaVersion gates migration eligibility; the value
written by this build is CurrentSchemaVersion.

# Configuration

QueueConfig is embedded by value in every queue so old records keep the
limits they were written with. Partial updates go through ConfigPatch:

	patch := &types.ConfigPatch{MaxQueueSize: intPtr(10)}
	q.Config = patch.Apply(q.Config)

	if msg := types.ValidateConfig(q.Config); msg != "" {
		// reject the update
	}

ValidateConfig returns a human-readable reason or "" when the config is
sound. EmergencyQueueConfig is the deliberately small configuration used
for in-memory emergency queues under severe degradation.

# Validation Helpers

Enum values carry cheap validators so boundary code can reject bad input
before it reaches persistence:

	types.ValidTaskType("harvesting")    // true
	activity.HasVariant(task.Type)       // payload matches declared type

Task.IsValid is set by the queue manager when a task clears admission;
ValidationErrors accumulates failure causes as the scheduler retries.
types itself never mutates either.

# Design Notes

The package has no dependencies beyond the standard library and imports
nothing from the rest of the module, so every package can use it without
cycles. Behavior that needs storage, clocks or logging lives in the
packages that own those concerns; types carries only data and the small
pure helpers above.

# See Also

  - pkg/queue - queue manager built on these types
  - pkg/persist - atomic persistence of TaskQueue records
  - pkg/integrity - checksum and validation rules over TaskQueue
  - pkg/rewards - calculators consuming Task and PlayerStats
  - pkg/migration - SchemaVersion transitions
*/
package types
