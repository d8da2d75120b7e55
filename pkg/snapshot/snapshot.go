package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

const (
	// TTLSeconds is how long a snapshot stays restorable.
	TTLSeconds int64 = 30 * 24 * 3600

	// Bounded collections are compressed down to these tails before the
	// queue is serialized.
	historyKept = 5
	rewardsKept = 100

	defaultMaxSnapshots = 10
)

// Store writes, lists and restores point-in-time queue snapshots.
// Snapshots are snappy-compressed JSON keyed by snapshot id, findable
// per player in timestamp order.
type Store struct {
	store   storage.Store
	persist *persist.Store
	now     func() time.Time
	logger  zerolog.Logger
}

// New returns a snapshot store. It satisfies persist.Snapshotter, so
// wiring it back into the persist store enables before-update
// snapshots.
func New(st storage.Store, ps *persist.Store) *Store {
	return &Store{
		store:   st,
		persist: ps,
		now:     time.Now,
		logger:  log.WithComponent("snapshot"),
	}
}

// WithClock replaces the clock; tests use this to pin time.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create captures q as a new snapshot and prunes the player's snapshot
// set down to its configured bound. The queue itself is not modified.
func (s *Store) Create(ctx context.Context, q *types.TaskQueue, reason types.SnapshotReason) (*types.Snapshot, error) {
	nowMs := s.now().UnixMilli()

	// Shallow copy with the bounded collections trimmed; the blob is
	// written immediately so sharing task pointers is safe.
	cp := *q
	if len(cp.History) > historyKept {
		cp.History = cp.History[len(cp.History)-historyKept:]
	}
	if len(cp.Totals.RewardsEarned) > rewardsKept {
		cp.Totals.RewardsEarned = cp.Totals.RewardsEarned[len(cp.Totals.RewardsEarned)-rewardsKept:]
	}

	blob, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue %s for snapshot: %w", q.PlayerID, err)
	}

	snap := &types.Snapshot{
		ID:            uuid.New().String(),
		PlayerID:      q.PlayerID,
		TimestampMs:   nowMs,
		Reason:        reason,
		Version:       q.Version,
		SchemaVersion: q.SchemaVersion,
		Checksum:      q.Checksum,
		TTLSeconds:    TTLSeconds,
		Data:          snappy.Encode(nil, blob),
	}

	record, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot %s: %w", snap.ID, err)
	}

	attrs := map[string]string{
		storage.AttrPlayerID:    snap.PlayerID,
		storage.AttrTimestampMs: storage.SortableMillis(snap.TimestampMs),
		storage.AttrReason:      string(reason),
		storage.AttrTTLSeconds:  strconv.FormatInt(TTLSeconds, 10),
	}
	if err := s.store.ConditionalPut(ctx, storage.KeyspaceSnapshots, snap.ID, record, attrs, 0); err != nil {
		return nil, fmt.Errorf("failed to write snapshot %s: %w", snap.ID, err)
	}

	metrics.SnapshotsCreatedTotal.WithLabelValues(string(reason)).Inc()
	s.logger.Debug().
		Str("player_id", q.PlayerID).
		Str("snapshot_id", snap.ID).
		Str("reason", string(reason)).
		Msg("snapshot created")

	if err := s.prune(ctx, q.PlayerID, maxSnapshots(q.Config)); err != nil {
		s.logger.Warn().Err(err).Str("player_id", q.PlayerID).Msg("snapshot prune failed")
	}
	return snap, nil
}

// List returns the player's snapshots newest-first, up to limit
// (0 = all).
func (s *Store) List(ctx context.Context, playerID string, limit int) ([]*types.Snapshot, error) {
	items, err := s.store.QueryByIndex(ctx, storage.KeyspaceSnapshots, storage.IndexSnapshotPlayer, playerID,
		storage.Query{Limit: limit, Descending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", playerID, err)
	}
	out := make([]*types.Snapshot, 0, len(items))
	for _, item := range items {
		snap, err := decodeSnapshot(item)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Get returns one snapshot by id.
func (s *Store) Get(ctx context.Context, snapshotID string) (*types.Snapshot, error) {
	item, err := s.store.Get(ctx, storage.KeyspaceSnapshots, snapshotID)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(item)
}

// Restore rebuilds the player's queue from a snapshot and persists it
// over the live record. The trimmed audit collections come back empty;
// the restore itself becomes the first history entry. The snapshot's
// captured version seeds the save, which realigns on conflict.
func (s *Store) Restore(ctx context.Context, snapshotID, playerID string) (*types.TaskQueue, error) {
	snap, err := s.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.PlayerID != playerID {
		return nil, errs.New(errs.SecPlayerMismatch,
			"snapshot %s belongs to another player", snapshotID)
	}

	q, err := Decode(snap)
	if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	q.History = []types.StateHistoryEntry{}
	q.Totals.RewardsEarned = []types.Reward{}
	q.LastUpdatedMs = nowMs
	q.Version = snap.Version
	q.RecordHistory(types.StateHistoryEntry{
		Kind:        types.HistoryRestored,
		Detail:      snapshotID,
		TimestampMs: nowMs,
	})

	if err := s.persist.Save(ctx, q, persist.Options{}); err != nil {
		return nil, fmt.Errorf("failed to persist restored queue %s: %w", playerID, err)
	}

	s.logger.Info().
		Str("player_id", playerID).
		Str("snapshot_id", snapshotID).
		Int64("captured_version", snap.Version).
		Msg("queue restored from snapshot")
	return q, nil
}

// Decode unpacks the queue captured inside a snapshot without touching
// storage. Recovery uses it to inspect candidates before committing.
func Decode(snap *types.Snapshot) (*types.TaskQueue, error) {
	blob, err := snappy.Decode(nil, snap.Data)
	if err != nil {
		return nil, errs.Wrap(errs.SysCorruption, err, "failed to decompress snapshot %s", snap.ID)
	}
	var q types.TaskQueue
	if err := json.Unmarshal(blob, &q); err != nil {
		return nil, errs.Wrap(errs.SysCorruption, err, "failed to decode snapshot %s", snap.ID)
	}
	return &q, nil
}

// prune deletes the player's oldest snapshots beyond max.
func (s *Store) prune(ctx context.Context, playerID string, max int) error {
	items, err := s.store.QueryByIndex(ctx, storage.KeyspaceSnapshots, storage.IndexSnapshotPlayer, playerID,
		storage.Query{})
	if err != nil {
		return err
	}
	if len(items) <= max {
		return nil
	}
	for _, item := range items[:len(items)-max] {
		if err := s.store.Delete(ctx, storage.KeyspaceSnapshots, item.Key); err != nil {
			return err
		}
		metrics.SnapshotsPrunedTotal.Inc()
		s.logger.Debug().
			Str("player_id", playerID).
			Str("snapshot_id", item.Key).
			Msg("pruned old snapshot")
	}
	return nil
}

func maxSnapshots(cfg types.QueueConfig) int {
	if cfg.MaxSnapshots <= 0 {
		return defaultMaxSnapshots
	}
	return cfg.MaxSnapshots
}

func decodeSnapshot(item *storage.Item) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(item.Blob, &snap); err != nil {
		return nil, errs.Wrap(errs.SysCorruption, err, "failed to decode snapshot record %s", item.Key)
	}
	return &snap, nil
}
