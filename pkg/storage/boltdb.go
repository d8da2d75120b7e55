package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/emberhollow/taskmill/pkg/errs"
	bolt "go.etcd.io/bbolt"
)

// indexSpec declares one secondary index: records in a keyspace are
// findable by the value of partitionAttr, ordered by sortAttr (primary
// key when sortAttr is empty).
type indexSpec struct {
	keyspace      string
	name          string
	partitionAttr string
	sortAttr      string
}

var indexSpecs = []indexSpec{
	{KeyspaceQueues, IndexQueueRunning, AttrIsRunning, AttrLastProcessed},
	{KeyspaceQueues, IndexQueuePaused, AttrIsPaused, AttrLastProcessed},
	{KeyspaceSnapshots, IndexSnapshotPlayer, AttrPlayerID, AttrTimestampMs},
	{KeyspaceMigrations, IndexMigrationStatus, AttrStatus, AttrTimestampMs},
}

var keyspaces = []string{KeyspaceQueues, KeyspaceSnapshots, KeyspaceMigrations, KeyspaceBackups}

// sep separates the segments of an index entry key. Keys and indexed
// attribute values must not contain it.
const sep = byte(0x00)

var bucketTTL = []byte("ttl")

// envelope is the stored form of a record.
type envelope struct {
	Version   int64
	Attrs     map[string]string
	ExpiresAt int64 // unix millis; 0 = no expiry
	Blob      json.RawMessage
}

// BoltStore implements Store on a single BoltDB file.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database under dataDir and
// prepares all buckets.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "taskmill.db")

	// The flock timeout keeps a second process (the CLI against a live
	// engine) from blocking forever.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ks := range keyspaces {
			if _, err := tx.CreateBucketIfNotExists(recordBucket(ks)); err != nil {
				return fmt.Errorf("failed to create bucket for %s: %w", ks, err)
			}
		}
		for _, spec := range indexSpecs {
			if _, err := tx.CreateBucketIfNotExists(indexBucket(spec)); err != nil {
				return fmt.Errorf("failed to create index bucket %s/%s: %w", spec.keyspace, spec.name, err)
			}
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTTL); err != nil {
			return fmt.Errorf("failed to create ttl bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func recordBucket(keyspace string) []byte {
	return []byte("rec_" + keyspace)
}

func indexBucket(spec indexSpec) []byte {
	return []byte("idx_" + spec.keyspace + "_" + spec.name)
}

func logBucket(name string) []byte {
	return []byte("log_" + name)
}

func specsFor(keyspace string) []indexSpec {
	var out []indexSpec
	for _, spec := range indexSpecs {
		if spec.keyspace == keyspace {
			out = append(out, spec)
		}
	}
	return out
}

// indexEntryKey is partition <sep> sort <sep> primary key. The sort
// segment defaults to the primary key so every entry stays unique.
func indexEntryKey(spec indexSpec, attrs map[string]string, key string) ([]byte, bool) {
	part, ok := attrs[spec.partitionAttr]
	if !ok || part == "" {
		return nil, false
	}
	sort := key
	if spec.sortAttr != "" {
		if v, ok := attrs[spec.sortAttr]; ok && v != "" {
			sort = v
		}
	}
	buf := make([]byte, 0, len(part)+len(sort)+len(key)+2)
	buf = append(buf, part...)
	buf = append(buf, sep)
	buf = append(buf, sort...)
	buf = append(buf, sep)
	buf = append(buf, key...)
	return buf, true
}

func ttlEntryKey(expiresAt int64, keyspace, key string) []byte {
	prefix := SortableMillis(expiresAt)
	buf := make([]byte, 0, len(prefix)+len(keyspace)+len(key)+2)
	buf = append(buf, prefix...)
	buf = append(buf, sep)
	buf = append(buf, keyspace...)
	buf = append(buf, sep)
	buf = append(buf, key...)
	return buf
}

// Get returns the record at key or PER_NOT_FOUND. Expired records are
// treated as missing; the sweeper removes them later.
func (s *BoltStore) Get(ctx context.Context, keyspace, key string) (*Item, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var item *Item
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordBucket(keyspace))
		if b == nil {
			return fmt.Errorf("unknown keyspace: %s", keyspace)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return errs.New(errs.PerNotFound, "%s/%s not found", keyspace, key)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("failed to decode record %s/%s: %w", keyspace, key, err)
		}
		if env.ExpiresAt > 0 && s.now().UnixMilli() >= env.ExpiresAt {
			return errs.New(errs.PerNotFound, "%s/%s expired", keyspace, key)
		}
		item = &Item{Key: key, Blob: env.Blob, Version: env.Version, Attrs: env.Attrs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ConditionalPut writes the record guarded by expectVersion and updates
// index and TTL entries in the same transaction.
func (s *BoltStore) ConditionalPut(ctx context.Context, keyspace, key string, blob []byte, attrs map[string]string, expectVersion int64) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket(recordBucket(keyspace))
		if rb == nil {
			return fmt.Errorf("unknown keyspace: %s", keyspace)
		}

		var old *envelope
		if data := rb.Get([]byte(key)); data != nil {
			old = &envelope{}
			if err := json.Unmarshal(data, old); err != nil {
				return fmt.Errorf("failed to decode record %s/%s: %w", keyspace, key, err)
			}
		}
		current := int64(0)
		if old != nil {
			current = old.Version
		}
		if current != expectVersion {
			return errs.New(errs.PerVersionConflict,
				"%s/%s is at version %d, expected %d", keyspace, key, current, expectVersion)
		}

		env := envelope{
			Version: expectVersion + 1,
			Attrs:   attrs,
			Blob:    json.RawMessage(blob),
		}
		if ttl := parseTTLSeconds(attrs); ttl > 0 {
			env.ExpiresAt = s.now().UnixMilli() + ttl*1000
		}

		// Replace index entries derived from the old attributes.
		for _, spec := range specsFor(keyspace) {
			ib := tx.Bucket(indexBucket(spec))
			if old != nil {
				if k, ok := indexEntryKey(spec, old.Attrs, key); ok {
					if err := ib.Delete(k); err != nil {
						return err
					}
				}
			}
			if k, ok := indexEntryKey(spec, attrs, key); ok {
				if err := ib.Put(k, []byte(key)); err != nil {
					return err
				}
			}
		}

		tb := tx.Bucket(bucketTTL)
		if old != nil && old.ExpiresAt > 0 {
			if err := tb.Delete(ttlEntryKey(old.ExpiresAt, keyspace, key)); err != nil {
				return err
			}
		}
		if env.ExpiresAt > 0 {
			if err := tb.Put(ttlEntryKey(env.ExpiresAt, keyspace, key), nil); err != nil {
				return err
			}
		}

		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to encode record %s/%s: %w", keyspace, key, err)
		}
		return rb.Put([]byte(key), data)
	})
}

// Delete removes a record and its derived entries; missing keys are a
// no-op.
func (s *BoltStore) Delete(ctx context.Context, keyspace, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket(recordBucket(keyspace))
		if rb == nil {
			return fmt.Errorf("unknown keyspace: %s", keyspace)
		}
		data := rb.Get([]byte(key))
		if data == nil {
			return nil
		}
		var old envelope
		if err := json.Unmarshal(data, &old); err != nil {
			return fmt.Errorf("failed to decode record %s/%s: %w", keyspace, key, err)
		}
		for _, spec := range specsFor(keyspace) {
			if k, ok := indexEntryKey(spec, old.Attrs, key); ok {
				if err := tx.Bucket(indexBucket(spec)).Delete(k); err != nil {
					return err
				}
			}
		}
		if old.ExpiresAt > 0 {
			if err := tx.Bucket(bucketTTL).Delete(ttlEntryKey(old.ExpiresAt, keyspace, key)); err != nil {
				return err
			}
		}
		return rb.Delete([]byte(key))
	})
}

// QueryByIndex scans one partition of a secondary index.
func (s *BoltStore) QueryByIndex(ctx context.Context, keyspace, index, partition string, q Query) ([]*Item, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var spec *indexSpec
	for i := range indexSpecs {
		if indexSpecs[i].keyspace == keyspace && indexSpecs[i].name == index {
			spec = &indexSpecs[i]
			break
		}
	}
	if spec == nil {
		return nil, fmt.Errorf("unknown index %s/%s", keyspace, index)
	}

	nowMs := s.now().UnixMilli()
	var items []*Item
	err := s.db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket(indexBucket(*spec))
		rb := tx.Bucket(recordBucket(keyspace))
		prefix := append([]byte(partition), sep)

		visit := func(k []byte) (stop bool, err error) {
			sortVal, primary, ok := splitIndexKey(k, prefix)
			if !ok {
				return true, nil
			}
			if q.SortFrom != "" && sortVal < q.SortFrom {
				return q.Descending, nil
			}
			if q.SortTo != "" && sortVal > q.SortTo {
				return !q.Descending, nil
			}
			data := rb.Get([]byte(primary))
			if data == nil {
				return false, nil // index entry with no record; skip
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return false, fmt.Errorf("failed to decode record %s/%s: %w", keyspace, primary, err)
			}
			if env.ExpiresAt > 0 && nowMs >= env.ExpiresAt {
				return false, nil
			}
			items = append(items, &Item{Key: primary, Blob: env.Blob, Version: env.Version, Attrs: env.Attrs})
			return q.Limit > 0 && len(items) >= q.Limit, nil
		}

		c := ib.Cursor()
		if !q.Descending {
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				stop, err := visit(k)
				if err != nil || stop {
					return err
				}
			}
			return nil
		}

		// Descending: position after the last key of the partition and
		// walk backwards.
		var k []byte
		if succ := prefixSuccessor(prefix); succ != nil {
			if k, _ = c.Seek(succ); k == nil {
				k, _ = c.Last()
			} else {
				k, _ = c.Prev()
			}
		} else {
			k, _ = c.Last()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
			stop, err := visit(k)
			if err != nil || stop {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Scan visits every live record in a keyspace.
func (s *BoltStore) Scan(ctx context.Context, keyspace string, fn func(*Item) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	nowMs := s.now().UnixMilli()
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordBucket(keyspace))
		if b == nil {
			return fmt.Errorf("unknown keyspace: %s", keyspace)
		}
		return b.ForEach(func(k, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("failed to decode record %s/%s: %w", keyspace, k, err)
			}
			if env.ExpiresAt > 0 && nowMs >= env.ExpiresAt {
				return nil
			}
			return fn(&Item{Key: string(k), Blob: env.Blob, Version: env.Version, Attrs: env.Attrs})
		})
	})
}

// Append adds a record to a named log and returns its sequence number.
func (s *BoltStore) Append(ctx context.Context, logName string, payload []byte) (uint64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(logBucket(logName))
		if err != nil {
			return fmt.Errorf("failed to create log bucket %s: %w", logName, err)
		}
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// ReadLog returns up to limit records starting at fromSeq.
func (s *BoltStore) ReadLog(ctx context.Context, logName string, fromSeq uint64, limit int) ([]LogRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var records []LogRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket(logName))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(seqKey(fromSeq)); k != nil; k, v = c.Next() {
			payload := make([]byte, len(v))
			copy(payload, v)
			records = append(records, LogRecord{Seq: binary.BigEndian.Uint64(k), Payload: payload})
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SweepExpired removes records whose TTL has elapsed. Returns the number
// of records removed.
func (s *BoltStore) SweepExpired(ctx context.Context) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	cutoff := []byte(SortableMillis(s.now().UnixMilli()))
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTTL)
		c := tb.Cursor()
		var expired [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			// TTL keys start with a fixed-width millisecond timestamp.
			if bytes.Compare(k[:len(cutoff)], cutoff) > 0 {
				break
			}
			expired = append(expired, append([]byte(nil), k...))
		}
		for _, k := range expired {
			keyspace, key, ok := splitTTLKey(k)
			if !ok {
				_ = tb.Delete(k)
				continue
			}
			rb := tx.Bucket(recordBucket(keyspace))
			if data := rb.Get([]byte(key)); data != nil {
				var old envelope
				if err := json.Unmarshal(data, &old); err == nil {
					for _, spec := range specsFor(keyspace) {
						if ik, ok := indexEntryKey(spec, old.Attrs, key); ok {
							if err := tx.Bucket(indexBucket(spec)).Delete(ik); err != nil {
								return err
							}
						}
					}
				}
				if err := rb.Delete([]byte(key)); err != nil {
					return err
				}
				removed++
			}
			if err := tb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func parseTTLSeconds(attrs map[string]string) int64 {
	v, ok := attrs[AttrTTLSeconds]
	if !ok {
		return 0
	}
	ttl, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// splitIndexKey peels the sort value and primary key off an index entry.
func splitIndexKey(k, prefix []byte) (sortVal, primary string, ok bool) {
	rest := k[len(prefix):]
	i := bytes.IndexByte(rest, sep)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

func splitTTLKey(k []byte) (keyspace, key string, ok bool) {
	i := bytes.IndexByte(k, sep)
	if i < 0 {
		return "", "", false
	}
	rest := k[i+1:]
	j := bytes.IndexByte(rest, sep)
	if j < 0 {
		return "", "", false
	}
	return string(rest[:j]), string(rest[j+1:]), true
}

// prefixSuccessor returns the smallest key greater than every key with
// the given prefix, or nil when no such key exists.
func prefixSuccessor(prefix []byte) []byte {
	succ := append([]byte(nil), prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] < 0xFF {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}

// ctxErr maps context expiry onto the engine's timeout code before any
// store I/O begins.
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errs.Wrap(errs.TimDeadlineExceeded, ctx.Err(), "deadline exceeded before store operation")
		}
		return ctx.Err()
	default:
		return nil
	}
}
