/*
Package storage provides the embedded persistence layer for Taskmill.

It defines the Store contract the rest of the engine is written against -
a key/value store with conditional writes, secondary-index queries, TTL
expiry and an append-only log - and implements it on bbolt, a pure-Go
B+tree database that lives in a single file inside the data directory.

Higher layers never see bbolt. They speak keyspaces, items, versions and
indexes, so the engine's concurrency and query semantics are fixed here
once and the backing store could change without touching callers.

# Architecture

One bolt file, many buckets:

	taskmill.db
	├── rec_queues             player_id -> envelope{blob, version, attrs}
	├── rec_snapshots          snapshot_id -> envelope
	├── rec_migrations         migration_id -> envelope
	├── rec_backups            player_id -> envelope
	├── idx_queues_running     partition/sort/key -> record key
	├── idx_queues_paused      partition/sort/key -> record key
	├── idx_snapshots_player   partition/sort/key -> record key
	├── idx_migrations_status  partition/sort/key -> record key
	├── ttl                    deadline-ordered expiry entries
	└── log_completions        seq -> payload

Record buckets hold an envelope per key: the caller's opaque blob, the
optimistic-concurrency version, and the string attributes the indexes
are derived from. Index buckets hold composite keys only; the record is
always read back from its record bucket, so an index can never serve a
stale blob.

# Core Concepts

Keyspaces group records of one kind and carry their own index set:

	storage.KeyspaceQueues      // one record per player
	storage.KeyspaceSnapshots   // many per player, TTL-bound
	storage.KeyspaceMigrations  // one per migration run
	storage.KeyspaceBackups     // last-known-good copies for recovery

Items are what callers read and write:

	item, err := store.Get(ctx, storage.KeyspaceQueues, playerID)
	// item.Blob     - opaque JSON written by the caller
	// item.Version  - conditional-write counter
	// item.Attrs    - indexed attributes as written

Versions implement optimistic concurrency. Every successful write
advances the version by one; writers must present the version they
read:

	err := store.ConditionalPut(ctx, ks, key, blob, attrs, item.Version)
	// errs.PerVersionConflict when someone saved in between

expectVersion 0 means "the key must not exist", which is how first
writes stay race-free without a separate create call.

# Secondary Indexes

Indexes are declared statically (indexSpecs) as keyspace + name +
partition attribute + sort attribute. The queue keyspace keeps two:

	IndexQueueRunning  partition=is_running  sort=last_processed
	IndexQueuePaused   partition=is_paused   sort=last_processed

ConditionalPut replaces a record's index entries in the same bolt
transaction as the record write, so indexes are always consistent with
the committed record - there is no async indexer to lag behind.

Queries address one partition and page through it in sort order:

	items, err := store.QueryByIndex(ctx,
		storage.KeyspaceQueues, storage.IndexQueueRunning, "true",
		storage.Query{Limit: 256})

The scheduler's scan loop and the engine's load shedding run on these
two; snapshot listing and pruning page IndexSnapshotPlayer the same
way. Nothing in the hot path scans a whole keyspace.

Attribute values are plain strings. Timestamps must be written through
SortableMillis, which zero-pads to twenty digits so lexicographic order
equals numeric order. Booleans are written as "true"/"false".

# TTL Expiry

Records written with AttrTTLSeconds in their attrs get an absolute
deadline stamped at write time, plus an entry in a deadline-ordered ttl
bucket. Reads treat a record past its deadline as missing right away;
SweepExpired walks the ttl bucket up to now, deletes the expired
records with their index entries and returns the count removed. The
engine runs it on a timer. Visibility is immediate, reclamation is
lazy - the sweep reads only entries that are actually due.

# Append Log

Append adds an opaque payload to a named log and returns the assigned
sequence; ReadLog pages records back from any sequence:

	seq, err := store.Append(ctx, storage.LogCompletions, payload)
	recs, err := store.ReadLog(ctx, storage.LogCompletions, 0, 100)

The reconciler journals offline-progress decisions here so a player's
credit history can be audited after the fact. Sequences are per-log,
dense and never reused.

# Usage

Opening the store:

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

NewBoltStore creates the data directory's taskmill.db on first use and
prepares every bucket, so first-run needs no migration step. The file
lock is taken with a one-second timeout; a second process opening the
same file fails fast instead of hanging, which is what lets the admin
CLI produce a clean error while the daemon runs.

Writing with conflict handling:

	for {
		item, err := store.Get(ctx, ks, key)
		...
		err = store.ConditionalPut(ctx, ks, key, newBlob, attrs, item.Version)
		if errs.IsCode(err, errs.PerVersionConflict) {
			continue // reread and reapply
		}
		return err
	}

pkg/persist wraps this retry loop with validation and checksums; most
callers should go through it rather than use the store directly.

# Design Patterns

Contract first. The Store interface is defined next to its constants so
tests and alternative backends read one file for the full semantics.
BoltStore is returned as the concrete type; only consumers that need
substitution hold the interface.

Envelope encoding. Version and attrs ride inside the stored value, not
in separate buckets, so a record and its metadata commit atomically and
a partially-written record cannot exist.

Strings everywhere in indexes. Uniform string attributes keep the index
key layout trivial (partition/sort/key with zero-byte separators) at
the cost of the SortableMillis convention, enforced at the few write
sites.

# Performance Characteristics

bbolt serializes writers per file; Taskmill's writes are single-record
transactions, so throughput tracks fsync latency (roughly one to five
milliseconds on SSDs). Reads run concurrently with a writer via MVCC
and never block.

QueryByIndex is a range cursor over the partition prefix plus one point
read per hit: O(log n + k). Scan is a full keyspace walk and is kept
out of the request path - the migration runner, the migrate CLI's
dry-run and the metrics collector's periodic sample are its users.

The whole database is one file; backup is a file copy while holding no
locks (bolt's page format is crash-consistent), which is exactly what
the migration tool's --backup path does.

# Troubleshooting

"timeout" from NewBoltStore: another process holds the file lock -
usually a running taskmill daemon. Stop it or point --data-dir at a
copy.

PER_VERSION_CONFLICT in logs: normal under concurrent writers; the
persistence layer retries. Sustained conflicts on one player indicate
a hot queue being written from multiple paths.

Database file growing without bound: bolt never shrinks its file. Check
that the TTL sweep is running (the engine logs "swept expired records"
with a count) and that snapshots carry sensible TTLs; reclaim space by
compacting offline with bbolt's compact command.

# See Also

  - pkg/persist - validation, checksums and retries over this store
  - pkg/snapshot - snapshot records and TTL conventions
  - pkg/migration - offline schema rewrites via Scan
  - https://github.com/etcd-io/bbolt - backing database
*/
package storage
