/*
Package migration rewrites stored queues between schema versions.

When the queue record's layout changes, every persisted queue must be
carried from its current SchemaVersion to the new one. This package
holds the pieces: Definition (one version-to-version transform), the
Registry that plans a path through registered definitions, and the
Runner that executes a plan against every stored queue with snapshots,
per-queue isolation and a persisted audit record per step.

# Definitions

A Definition is one edge in the version graph:

	migration.Definition{
		ID:          "widen-history",
		FromVersion: 1,
		ToVersion:   2,
		Forward:     func(q *types.TaskQueue) error { ... },
		Rollback:    func(q *types.TaskQueue) error { ... }, // optional
		Validate:    func(q *types.TaskQueue) bool { ... },  // optional
	}

Forward mutates a queue in memory from the old shape to the new; it
must be deterministic and must not touch SchemaVersion - the runner
stamps that after the transform and validation succeed. Rollback, when
present, is the inverse transform; Validate, when present, vetoes
queues the transform left inconsistent.

Baseline() is the one definition shipped with the engine: schema 0 to
1, backfilling config fields that records written before schema
versioning never carried. Hosts register their own definitions through
the engine's MigrationRegistry().

# Planning

The Registry finds the shortest chain of definitions between two
versions by breadth-first search over the registered edges:

	reg := migration.NewRegistry()
	reg.Register(migration.Baseline())
	reg.Register(widenHistory)

	plan, err := reg.Plan(0, 2)   // → [baseline, widen-history]
	plan, err = reg.Plan(2, 2)    // → empty, nothing to do
	plan, err = reg.Plan(0, 9)    // → PER_PLAN_IMPOSSIBLE

Ties prefer fewer steps; a direct 1→3 definition beats chaining 1→2→3.
An unbridgeable gap fails at planning time, before any queue is
touched.

# Execution

Runner.Run executes a plan step by step; Runner.Execute runs one step:

 1. Persist a MigrationRecord with status in-progress - the run is
    visible and attributable before the first queue changes.
 2. Scan the queue keyspace for records still at FromVersion.
    Undecodable blobs are skipped with a warning; corrupt records are
    recovery's problem, not migration's.
 3. Rewrite each matching queue through persist.Update with a
    before-image snapshot (Options.CreateSnapshot), bounded
    concurrency (errgroup, four workers by default), and a re-check of
    FromVersion inside the update closure so a concurrent run that got
    there first turns this queue into a no-op.
 4. Collect per-queue failures without stopping; the record ends
    completed (all queues converted) or failed (with the failure
    count), and Result.Failed maps each player to their error.

Run stops at the first step whose record says failed, leaving later
steps unexecuted - half the fleet on version N+1 is recoverable, but
applying step N+2 on top of a partial N+1 is not.

Rollback inverts one step by executing its Rollback transform as a
synthetic definition from ToVersion back to FromVersion, then marks the
record rolled-back.

# Audit Trail

Every run is a record in the migrations keyspace, indexed by status:

	recs, err := runner.Records(ctx, types.MigrationCompleted, 20)

Records carry the definition ID, from/to versions, timestamp, status
(pending, in-progress, completed, failed, rolled-back), the sorted list
of affected players and the error summary. The engine exposes them
through MigrationRecords; operators read them after an offline run.

# Online and Offline

The engine runs migrations in-process (engine.Migrate) for hosts that
migrate on deploy. The taskmill-migrate binary runs the same Runner
against a bolt file with the daemon stopped - backup first, then plan,
then execute - for operators who prefer offline schema changes. Both
paths share this package, so semantics never diverge.

# Design Patterns

Per-queue atomicity, not per-run. Each queue converts in its own
versioned write with its own before-image snapshot. A failed run never
leaves a half-transformed queue - only a mix of converted and
unconverted queues, which step 3's version re-check makes safe to
retry.

Names are forever. Definition IDs land in audit records and log lines;
changing one orphans its trail. Pick descriptive kebab-case IDs and
leave them alone.

Transforms stay pure. Forward and Rollback see one queue and return an
error; they never read the store, the clock or other queues. Everything
environmental is the runner's job, which is what makes definitions
trivially unit-testable.

# See Also

  - pkg/persist - the update loop and snapshot option each rewrite uses
  - pkg/snapshot - before-images for every converted queue
  - pkg/types - MigrationRecord, MigrationStatus, SchemaVersion
  - cmd/taskmill-migrate - offline execution against a bolt file
*/
package migration
