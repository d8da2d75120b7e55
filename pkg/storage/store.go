package storage

import (
	"context"
	"fmt"
)

// Keyspaces group records of one kind. Each keyspace gets its own record
// bucket plus the index buckets registered for it.
const (
	KeyspaceQueues     = "queues"
	KeyspaceSnapshots  = "snapshots"
	KeyspaceMigrations = "migrations"
	KeyspaceBackups    = "backups"
)

// Index names per keyspace.
const (
	IndexQueueRunning    = "running"
	IndexQueuePaused     = "paused"
	IndexSnapshotPlayer  = "player"
	IndexMigrationStatus = "status"
)

// Well-known indexed-attribute keys. Attribute values are strings; sort
// attributes must already be in lexicographically sortable form.
const (
	AttrPlayerID        = "player_id"
	AttrIsRunning       = "is_running"
	AttrIsPaused        = "is_paused"
	AttrCurrentTaskID   = "current_task_id"
	AttrQueueSize       = "queue_size"
	AttrTasksCompleted  = "total_tasks_completed"
	AttrLastProcessed   = "last_processed"
	AttrChecksum        = "checksum"
	AttrLastUpdatedMs   = "last_updated_ms"
	AttrLastValidatedMs = "last_validated_ms"
	AttrTimestampMs     = "timestamp_ms"
	AttrReason          = "reason"
	AttrStatus          = "status"
	AttrTTLSeconds      = "ttl_seconds"
)

// NoCurrentTask is the sentinel stored in AttrCurrentTaskID when a queue
// has no task in flight.
const NoCurrentTask = "none"

// Log names for the append-only journal.
const (
	LogCompletions = "completions"
)

// Item is one stored record with its concurrency version and indexed
// attributes.
type Item struct {
	Key     string
	Blob    []byte
	Version int64
	Attrs   map[string]string
}

// LogRecord is one append-log entry.
type LogRecord struct {
	Seq     uint64
	Payload []byte
}

// Query bounds an index scan. Zero value means the whole partition in
// ascending sort order.
type Query struct {
	SortFrom   string // inclusive lower bound on the sort attribute
	SortTo     string // inclusive upper bound on the sort attribute
	Limit      int    // 0 = unlimited
	Descending bool
}

// Store is the persistence contract the engine is written against: a
// key/value store with conditional writes, secondary-index queries, TTL
// expiry and an append-only log.
type Store interface {
	// Get returns the record at key or PER_NOT_FOUND.
	Get(ctx context.Context, keyspace, key string) (*Item, error)

	// ConditionalPut writes blob iff the stored version equals
	// expectVersion (0 means the key must not exist); on success the
	// stored version becomes expectVersion+1 and index entries derived
	// from attrs are replaced atomically. Mismatch fails with
	// PER_VERSION_CONFLICT.
	ConditionalPut(ctx context.Context, keyspace, key string, blob []byte, attrs map[string]string, expectVersion int64) error

	// Delete removes a record and its index entries; missing keys are
	// not an error.
	Delete(ctx context.Context, keyspace, key string) error

	// QueryByIndex returns records whose indexed attribute equals
	// partition, ordered by the index sort attribute.
	QueryByIndex(ctx context.Context, keyspace, index, partition string, q Query) ([]*Item, error)

	// Scan visits every record in a keyspace. Returning an error from fn
	// stops the scan.
	Scan(ctx context.Context, keyspace string, fn func(*Item) error) error

	// Append adds a record to a named log and returns its sequence.
	Append(ctx context.Context, logName string, payload []byte) (uint64, error)

	// ReadLog returns up to limit records starting at fromSeq.
	ReadLog(ctx context.Context, logName string, fromSeq uint64, limit int) ([]LogRecord, error)

	Close() error
}

// SortableMillis renders a millisecond timestamp so lexicographic order
// matches numeric order; index sort attributes use this form.
func SortableMillis(ms int64) string {
	return fmt.Sprintf("%020d", ms)
}
