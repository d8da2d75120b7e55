/*
Package persist layers queue semantics over the raw storage contract.

Everything the engine knows about saving and loading a TaskQueue lives
here: optimistic-concurrency versioning with bounded retries, checksum
stamping and verification, validation and repair on the load path,
index-attribute maintenance, and the hooks that trigger snapshots and
save notifications. Every other package reads and writes queues through
this Store; none of them touches pkg/storage for queue records
directly.

# Architecture

The write path, per attempt:

	Save(q, opts)
	  ├─ opts.CreateSnapshot?   → snapshotter.Create (failure logged, not fatal)
	  ├─ validation (forced or per-config) → reject on critical findings
	  ├─ stamp: Version+1 intent, fresh Checksum, LastUpdatedMs
	  ├─ derive index attrs (running, paused, last_processed, ...)
	  └─ storage.ConditionalPut(expectVersion = loaded version)
	        └─ PER_VERSION_CONFLICT → refresh version, backoff, retry
	                                   (bounded by opts.MaxRetries)

The load path:

	Load(playerID)
	  ├─ storage.Get → PER_NOT_FOUND passes through untouched
	  ├─ decode JSON blob
	  ├─ validator.Check
	  ├─ repairable findings → Repairer.Repair → write back repaired copy
	  └─ unrepairable → PER_QUEUE_UNREPAIRABLE (recovery's cue)

LoadRaw skips validation and repair entirely - inspection tools and
recovery diagnostics use it to see the record exactly as stored.

# Core Operations

	ps := persist.New(store, validator, repairer)
	ps.SetSnapshotter(snapshots)   // optional, breaks the init cycle

	err := ps.Save(ctx, q, persist.Options{ValidateBeforeSave: true})
	q, err := ps.Load(ctx, playerID)
	q, err := ps.LoadRaw(ctx, playerID)
	q, created, err := ps.GetOrCreate(ctx, playerID, defaults)
	err := ps.Delete(ctx, playerID)

Update is the read-modify-write primitive nearly every queue operation
is built on:

	q, err := ps.Update(ctx, playerID, func(q *types.TaskQueue) error {
		if len(q.QueuedTasks) >= q.Config.MaxQueueSize {
			return errs.New(errs.BusQueueFull, "...")
		}
		q.QueuedTasks = append(q.QueuedTasks, task)
		return nil
	}, persist.Options{ValidatePerConfig: true})

On a version conflict Update reloads a fresh copy and replays the
mutation against it, so a concurrent writer's changes are never
clobbered - the mutation logically happens after theirs. Mutations must
therefore be pure functions of the queue they receive: no side effects
outside the record, because they may run more than once.

# Options

	CreateSnapshot      capture a before-image first (migrations, restores)
	ValidateBeforeSave  force integrity checks, reject critical findings
	ValidatePerConfig   validate only if q.Config.ValidationEnabled
	MaxRetries          conflict-retry bound, default DefaultMaxRetries

Retries use the injected backoff (pkg/retry's jittered exponential by
default); exhaustion returns PER_RETRIES_EXHAUSTED wrapping the last
conflict so callers can distinguish "hot record" from other failures.

# Versioning and Checksums

Version advances by exactly one per successful write, enforced by the
store's conditional put. The checksum is recomputed on every save from
the canonical subset (pkg/integrity), so a stored record always carries
a hash consistent with its own content; load-time mismatch therefore
proves out-of-band mutation rather than a racing writer.

Index attributes written with each save keep the running and paused
secondary indexes in lockstep with the record: is_running, is_paused
("true"/"false" strings), current_task_id (NoCurrentTask sentinel when
idle), queue_size, last_processed and friends. Consumers query those
indexes instead of scanning.

# Hooks

OnSave registers a callback invoked with the player ID after every
successful write. The queue manager uses it to drop that player's
cached statistics; it runs synchronously, so hooks must stay cheap.

OnRepair fires after a load-time repair is persisted, carrying the
actions applied. The engine publishes queue.repaired events from it.

SetSnapshotter breaks the construction cycle between this package and
pkg/snapshot: snapshots persist through this Store, while saves may
trigger snapshots. The engine wires both and connects them once.

# Design Patterns

One write path. Save is the only function that renders a queue to
bytes, stamps metadata and writes. Update, GetOrCreate and the repair
write-back all funnel through it, so invariants (version math,
checksum freshness, attr derivation) hold everywhere by construction.

Replay, don't merge. Conflict resolution re-executes the caller's
mutation on fresh state rather than diffing records. It is slower per
conflict and trivially correct, which is the right trade at per-player
contention levels.

Repair on read. Records are fixed when observed broken, not by a
background fleet-wide pass; a player's record heals the first time it
is touched and stays untouched otherwise.

# Performance Characteristics

A clean save is one conditional put (one bolt write transaction). A
load is one read plus validation, microseconds against the read path's
MVCC pages. Conflict retries add a read, a backoff sleep and another
put each; DefaultMaxRetries of 3 bounds the worst case. GetOrCreate on
an existing record costs the same as Load; creation adds exactly one
conditional put racing with expectVersion 0, so concurrent first
writers resolve with one winner and one clean retry.

# See Also

  - pkg/storage - the conditional-put contract underneath
  - pkg/integrity - the validation and repair run on these paths
  - pkg/snapshot - the Snapshotter wired via SetSnapshotter
  - pkg/retry - backoff used between conflict retries
*/
package persist
