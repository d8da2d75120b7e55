/*
Package recovery brings broken queues back with an ordered strategy
ladder, a per-player circuit breaker, and degradation-aware shortcuts.

Most corruption never reaches this package: the persist layer's
read-time validate-and-repair handles the common cases. Recovery is
for what's left - records that fail checksum verification, fail to
decode, or carry findings the repairer refuses to touch. Its promise
is that Recover either returns a playable queue or a fast error; a
player is never stuck behind an unrecoverable record.

# The Strategy Ladder

Strategies run in fixed order from most to least faithful. Each gets
its own sub-timeout (5 s default) so one hung store call cannot eat
the whole recovery budget, and the first success wins:

	snapshot_restore   newest valid snapshot wins; loses at most the
	                   time since it was taken
	state_repair       the persist layer's own load-validate-repair
	                   pass, for records that degraded since snapshot
	backup_restore     host-provided backup blob (BackupProvider);
	                   rejected unless it names the right player
	fallback_creation  delete the record, start over with an empty
	                   queue at default configuration

Every attempt is recorded in Result.Attempts with its error, so hosts
can show support staff exactly what was tried. If every rung fails the
call returns SYS_INTERNAL and the breaker records a failure.

Candidates from any rung pass through one acceptance gate: validate,
repair in place when the findings allow it, reject otherwise. A stale
snapshot with a fixable drift is repaired and used; one with structural
damage is skipped for the next candidate.

# Circuit Breaking

Each player has a breaker keyed "playerID/recovery" on the shared
retry controller. While storage is misbehaving, repeated full-ladder
walks would only add load; after the failure threshold the breaker
opens and Recover fails fast with RES_GRACEFUL_DEGRADATION carrying a
retry-in hint. A half-open probe lets one attempt through after the
cooldown. Breaker staleness is the controller's problem, not this
package's.

# Degradation Shortcuts

The resource monitor reshapes recovery under pressure:

  - minimal: the last-known-good cache is consulted first (the engine
    seeds it on every successful load), and saves run with a single
    retry instead of the usual budget.
  - moderate: a trusted load is tried before the ladder - read the
    raw record and verify only its checksum, skipping full validation.
  - severe: no storage is touched at all. The player receives an
    unpersisted emergency queue, paused with a no-self-resume overload
    reason and constrained limits; Result.Degraded marks it so callers
    know the real record is untouched.

# Usage

	orch := recovery.New(persistStore, snapshots, validator, retries,
		types.DefaultQueueConfig(), recovery.Config{}).
		WithBackups(recovery.NewStoreBackups(store)).
		WithMonitor(mon).
		WithBroker(broker)

	res, err := orch.Recover(ctx, playerID)
	if err != nil {
		// circuit open or every strategy failed
	}
	if res.Degraded {
		// emergency queue; retry recovery later for the real one
	}

Successful recoveries publish a queue.recovered event tagged with the
winning strategy and land in the recoveries_total metric by strategy
and outcome. The salvaged queue is snapshotted with reason recovery
right away, so the next incident has a fresh restore point.

# Design Patterns

Ordered fallbacks, uniform shape. Every rung has the same signature
(player, save options in, queue out), so adding a strategy is one
table entry. The ladder reads top to bottom exactly as it executes.

Fail fast beats fail slow. The breaker and per-strategy timeouts bound
the worst case; a recovery that cannot succeed quickly reports so and
lets the caller decide, rather than holding a player's login hostage.

Last resort is explicit data loss. fallback_creation deletes the
stored record before writing the fresh queue. That is deliberate and
last in line: an empty queue a player can use beats a corrupt one they
cannot. The queue's history records the recovery so support can see it
later.

# Troubleshooting

RES_GRACEFUL_DEGRADATION with a retry hint: the player's breaker is
open from earlier failures. Check storage health; the breaker closes
on its own after the cooldown.

Recoveries landing on fallback_creation: snapshots and backups are
missing or all corrupt. Check snapshots_created_total - if snapshot
cadence stopped, every recovery becomes a reset.

Result.Degraded true: the monitor reports severe degradation. The
emergency queue is not saved; nothing was lost, recover again later.

# See Also

  - pkg/integrity - the validator and repairer behind the gate
  - pkg/snapshot - the restore path the first rung drives
  - pkg/retry - breaker mechanics and controller keys
  - pkg/monitor - degradation levels that pick the shortcuts
  - pkg/persist - trusted loads, saves and the delete behind fallback
*/
package recovery
