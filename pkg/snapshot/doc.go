/*
Package snapshot captures and restores point-in-time copies of queues.

Snapshots are the engine's undo history: compressed copies of a queue
taken on a schedule by the scheduler, before risky writes (migrations,
restores), on operator demand, and during recovery. When a live record
is lost or unrepairable, the recovery pipeline walks these copies
newest-first looking for one that still validates.

# Snapshot Records

Each snapshot is one record in the snapshots keyspace:

	types.Snapshot{
		ID            fresh uuid, the record key
		PlayerID      owner, indexed for per-player listing
		TimestampMs   capture instant, the index sort key
		Reason        periodic | before-update | manual | recovery
		Version       queue version captured
		SchemaVersion layout of the captured queue
		Checksum      canonical checksum of the captured queue
		TTLSeconds    30 days; the TTL sweep collects expired ones
		Data          snappy-compressed JSON of the queue
	}

Before serialization the queue copy is slimmed: history keeps its last
five entries and earned rewards their last hundred, because restore
needs recent context rather than a full audit trail - the append log
and live record own those. Compression is snappy: cheap enough to run
on every capture, and queue JSON compresses well.

# Operations

	ss := snapshot.New(store, persistStore)

	snap, err := ss.Create(ctx, q, types.SnapshotReasonManual)
	snaps, err := ss.List(ctx, playerID, 20)     // newest first
	snap, err = ss.Get(ctx, snapshotID)
	q, err := ss.Restore(ctx, snapshotID, playerID)

	q, err = snapshot.Decode(snap)               // unpack without storage

Create writes the record with expectVersion 0 (snapshot IDs are fresh
uuids, so collisions mean a bug) and then prunes the player past their
configured MaxSnapshots, oldest first. Prune failures only log - an
extra snapshot is never worth failing the capture that just succeeded.

Restore verifies ownership (SEC_PLAYER_MISMATCH otherwise), decodes,
resets the bounded collections, stamps a restored history entry and
saves through the persist store, seeded with the version the snapshot
captured and realigned on conflict - so a restore is an ordinary
versioned write that concurrent writers race like any other, not a
privileged overwrite.

Decode exists for recovery: it unpacks a candidate in memory so it can
be validated before anything is committed.

# Scheduling

The package takes snapshots; it never decides when. Cadence lives with
the callers:

  - pkg/scheduler captures after a save when the queue's
    SnapshotIntervalMs has elapsed since the last one.
  - pkg/persist captures a before-image when Options.CreateSnapshot is
    set (migrations and load-time repairs ask for this).
  - The engine's CreateSnapshot facade and the admin CLI capture with
    reason manual.
  - pkg/recovery captures what it salvaged with reason recovery.

New satisfies persist.Snapshotter, and the engine wires it back via
SetSnapshotter - the persist package stays unaware of this package's
existence, keeping the dependency graph acyclic.

# Retention

Two mechanisms bound storage. Per-player count: MaxSnapshots from the
queue's config (default 10), enforced by prune on every capture. Time:
every snapshot carries TTLSeconds (30 days); the engine's periodic TTL
sweep deletes expired records wholesale. Count handles busy players,
TTL handles departed ones.

# Design Patterns

Immutable records. A snapshot is never updated in place; capture
writes a new record, prune deletes old ones. Restore reads, never
writes, the snapshots keyspace.

Validation deferred to use. Create trusts the queue it is handed (its
callers just saved or validated it); Restore and recovery validate the
decoded copy before persisting, because storage-age faults are the
very thing snapshots exist to survive.

Ownership checked at restore, not list. Listings are already scoped by
the player index; the explicit PlayerID check on restore is the guard
against a confused or malicious caller holding a leaked snapshot ID.

# See Also

  - pkg/recovery - walks snapshots as its first restoration strategy
  - pkg/persist - Snapshotter consumer and restore write path
  - pkg/scheduler - interval-driven capture after saves
  - pkg/storage - TTL sweep that retires expired snapshots
*/
package snapshot
