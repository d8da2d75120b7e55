package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/retry"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

// DefaultMaxRetries bounds the conflict-retry loop when Options leaves
// MaxRetries unset.
const DefaultMaxRetries = 3

// Snapshotter captures a point-in-time copy of a queue before a risky
// write. The snapshot package implements it; persist only sees the
// interface so the dependency graph stays one-directional.
type Snapshotter interface {
	Create(ctx context.Context, q *types.TaskQueue, reason types.SnapshotReason) (*types.Snapshot, error)
}

// Options tune one save or update.
type Options struct {
	// CreateSnapshot captures a before-update snapshot first, when a
	// snapshotter is wired. Snapshot failures are logged, not fatal.
	CreateSnapshot bool
	// ValidateBeforeSave runs the integrity checks and rejects the write
	// when a critical finding turns up.
	ValidateBeforeSave bool
	// ValidatePerConfig validates only when the queue's own config asks
	// for it. ValidateBeforeSave forces validation regardless.
	ValidatePerConfig bool
	// MaxRetries bounds version-conflict retries; 0 means
	// DefaultMaxRetries.
	MaxRetries int
}

func (o Options) retries() int {
	if o.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return o.MaxRetries
}

// Store layers optimistic-concurrency queue persistence over the raw
// storage contract: every write bumps the version, restamps the
// checksum and maintains the denormalized index attributes in one
// conditional put.
type Store struct {
	store     storage.Store
	validator *integrity.Validator
	repairer  *integrity.Repairer
	backoff   retry.Backoff

	mu        sync.RWMutex
	snapshots Snapshotter
	onSave    []func(playerID string)
	onRepair  []func(playerID string, actions []integrity.RepairAction)

	now    func() time.Time
	logger zerolog.Logger
}

// New returns a persist store over the given storage backend.
func New(st storage.Store, v *integrity.Validator, rp *integrity.Repairer) *Store {
	return &Store{
		store:     st,
		validator: v,
		repairer:  rp,
		backoff:   retry.DefaultBackoff(),
		now:       time.Now,
		logger:    log.WithComponent("persist"),
	}
}

// WithBackoff replaces the conflict backoff policy.
func (s *Store) WithBackoff(b retry.Backoff) *Store {
	s.backoff = b
	return s
}

// WithClock replaces the clock; tests use this to pin time.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetSnapshotter wires the snapshot store. Call during assembly, before
// traffic starts.
func (s *Store) SetSnapshotter(sn Snapshotter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = sn
}

// OnSave registers a hook fired after every successful save; the queue
// manager uses it to drop stale statistics-cache entries.
func (s *Store) OnSave(fn func(playerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSave = append(s.onSave, fn)
}

// OnRepair registers a hook fired after a load-time repair is persisted;
// the engine uses it to publish repair events.
func (s *Store) OnRepair(fn func(playerID string, actions []integrity.RepairAction)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRepair = append(s.onRepair, fn)
}

// Save writes q guarded by its version. On a version conflict the
// stored version is refreshed and the same contents are retried with
// exponential backoff, up to the retry bound, then
// PER_RETRIES_EXHAUSTED. Callers that need read-modify-write semantics
// use Update instead.
func (s *Store) Save(ctx context.Context, q *types.TaskQueue, opts Options) error {
	retries := opts.retries()
	for attempt := 1; ; attempt++ {
		err := s.saveOnce(ctx, q, opts)
		if err == nil {
			return nil
		}
		if !errs.IsCode(err, errs.PerVersionConflict) {
			return err
		}
		metrics.SaveConflictsTotal.Inc()
		if attempt >= retries {
			return errs.Wrap(errs.PerRetriesExhausted, err,
				"queue %s lost %d version races", q.PlayerID, attempt)
		}

		s.logger.Debug().
			Str("player_id", q.PlayerID).
			Int("attempt", attempt).
			Msg("version conflict, refreshing and retrying")

		if err := s.refreshVersion(ctx, q); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return err
		}
	}
}

// Update is the atomic read-modify-write primitive: load, apply mutate,
// save. A version conflict replays the mutation against a fresh copy so
// no concurrent write is ever clobbered. Errors returned by mutate
// abort the update untouched.
func (s *Store) Update(ctx context.Context, playerID string, mutate func(*types.TaskQueue) error, opts Options) (*types.TaskQueue, error) {
	retries := opts.retries()
	for attempt := 1; ; attempt++ {
		q, err := s.Load(ctx, playerID)
		if err != nil {
			return nil, err
		}
		if err := mutate(q); err != nil {
			return nil, err
		}

		err = s.saveOnce(ctx, q, opts)
		if err == nil {
			return q, nil
		}
		if !errs.IsCode(err, errs.PerVersionConflict) {
			return nil, err
		}
		metrics.SaveConflictsTotal.Inc()
		if attempt >= retries {
			return nil, errs.Wrap(errs.PerRetriesExhausted, err,
				"update for %s lost %d version races", playerID, attempt)
		}
		if err := s.sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return nil, err
		}
	}
}

// Load reads a queue and validates it. Repairable corruption is
// repaired in place and persisted (with a before-update snapshot)
// before the queue is returned; critical corruption fails with
// PER_QUEUE_UNREPAIRABLE. Missing queues fail with PER_NOT_FOUND.
func (s *Store) Load(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	q, err := s.LoadRaw(ctx, playerID)
	if err != nil {
		return nil, err
	}

	report := s.validator.Check(q)
	if len(report.Errors) == 0 {
		return q, nil
	}
	for _, f := range report.Errors {
		metrics.ValidationFailuresTotal.WithLabelValues(string(f.Code)).Inc()
	}
	if !report.CanRepair {
		return nil, errs.New(errs.PerQueueUnrepairable,
			"queue %s has unrepairable integrity errors (score %d)", playerID, report.IntegrityScore)
	}

	result, err := s.repairer.Repair(q, report)
	if err != nil {
		return nil, err
	}
	for _, a := range result.Applied {
		metrics.RepairsTotal.WithLabelValues(string(a)).Inc()
	}
	s.logger.Warn().
		Str("player_id", playerID).
		Int("integrity_score", report.IntegrityScore).
		Int("actions", len(result.Applied)).
		Msg("repaired queue on load")

	if err := s.Save(ctx, q, Options{CreateSnapshot: true}); err != nil {
		return nil, fmt.Errorf("failed to persist repaired queue %s: %w", playerID, err)
	}
	for _, fn := range s.repairHooks() {
		fn(playerID, result.Applied)
	}
	return q, nil
}

// LoadRaw reads and decodes a queue without validating it. Recovery
// strategies use it to inspect records that Load would reject.
func (s *Store) LoadRaw(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	item, err := s.store.Get(ctx, storage.KeyspaceQueues, playerID)
	if err != nil {
		return nil, err
	}
	q, err := decodeQueue(item)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// GetOrCreate loads the player's queue, creating an empty one with the
// given config when none exists. The second result reports whether a
// queue was created.
func (s *Store) GetOrCreate(ctx context.Context, playerID string, cfg types.QueueConfig) (*types.TaskQueue, bool, error) {
	q, err := s.Load(ctx, playerID)
	if err == nil {
		return q, false, nil
	}
	if !errs.IsCode(err, errs.PerNotFound) {
		return nil, false, err
	}

	fresh := types.NewTaskQueue(playerID, cfg, s.now().UnixMilli())
	err = s.Save(ctx, fresh, Options{MaxRetries: 1})
	if err == nil {
		s.logger.Info().Str("player_id", playerID).Msg("created queue")
		return fresh, true, nil
	}
	// Lost a creation race; the other writer's queue wins.
	if errs.IsCode(err, errs.PerVersionConflict) || errs.IsCode(err, errs.PerRetriesExhausted) {
		q, lerr := s.Load(ctx, playerID)
		if lerr != nil {
			return nil, false, lerr
		}
		return q, false, nil
	}
	return nil, false, err
}

// Delete removes a queue record outright. Recovery's last-resort
// strategy uses it before recreating a fresh queue.
func (s *Store) Delete(ctx context.Context, playerID string) error {
	return s.store.Delete(ctx, storage.KeyspaceQueues, playerID)
}

// saveOnce performs one guarded write attempt: optional snapshot,
// optional validation, version bump, checksum restamp, conditional put.
// On failure the in-memory version is rolled back so the caller can
// retry or replay.
func (s *Store) saveOnce(ctx context.Context, q *types.TaskQueue, opts Options) error {
	nowMs := s.now().UnixMilli()

	if opts.CreateSnapshot {
		if sn := s.snapshotter(); sn != nil {
			if _, err := sn.Create(ctx, q, types.SnapshotReasonBeforeUpdate); err != nil {
				// The write is still safe without the snapshot; losing
				// the restore point is worth a warning, not an abort.
				s.logger.Warn().
					Err(err).
					Str("player_id", q.PlayerID).
					Msg("before-update snapshot failed")
			}
		}
	}

	// Restamp before validating so the mutation itself never reads as a
	// checksum mismatch; the stored checksum only detects at-rest drift.
	q.Checksum = integrity.Checksum(q)

	if opts.ValidateBeforeSave || (opts.ValidatePerConfig && q.Config.ValidationEnabled) {
		report := s.validator.Check(q)
		if report.HasCritical() {
			return errs.New(errs.ValQueueInvalid,
				"queue %s failed validation before save (score %d)", q.PlayerID, report.IntegrityScore)
		}
		q.LastValidatedMs = nowMs
	}

	prev := q.Version
	q.Version = prev + 1
	q.LastUpdatedMs = nowMs

	blob, err := json.Marshal(q)
	if err != nil {
		q.Version = prev
		return fmt.Errorf("failed to encode queue %s: %w", q.PlayerID, err)
	}

	err = s.store.ConditionalPut(ctx, storage.KeyspaceQueues, q.PlayerID, blob, queueAttrs(q), prev)
	if err != nil {
		q.Version = prev
		return err
	}

	for _, fn := range s.saveHooks() {
		fn(q.PlayerID)
	}
	return nil
}

// refreshVersion aligns the in-memory version with the stored record so
// the next save attempt targets the current tail. A record deleted in
// the meantime resets to zero, turning the retry into a create.
func (s *Store) refreshVersion(ctx context.Context, q *types.TaskQueue) error {
	item, err := s.store.Get(ctx, storage.KeyspaceQueues, q.PlayerID)
	if err != nil {
		if errs.IsCode(err, errs.PerNotFound) {
			q.Version = 0
			return nil
		}
		return err
	}
	q.Version = item.Version
	return nil
}

func (s *Store) snapshotter() Snapshotter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots
}

func (s *Store) saveHooks() []func(string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onSave
}

func (s *Store) repairHooks() []func(string, []integrity.RepairAction) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onRepair
}

func (s *Store) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errs.Wrap(errs.TimDeadlineExceeded, ctx.Err(), "deadline exceeded during retry backoff")
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decodeQueue(item *storage.Item) (*types.TaskQueue, error) {
	var q types.TaskQueue
	if err := json.Unmarshal(item.Blob, &q); err != nil {
		return nil, errs.Wrap(errs.SysCorruption, err, "failed to decode queue %s", item.Key)
	}
	// The envelope version is authoritative.
	q.Version = item.Version
	return &q, nil
}

// queueAttrs denormalizes the fields the secondary indexes and
// dashboards read without decoding the blob.
func queueAttrs(q *types.TaskQueue) map[string]string {
	current := storage.NoCurrentTask
	if q.CurrentTask != nil && q.CurrentTask.ID != "" {
		current = q.CurrentTask.ID
	}
	return map[string]string{
		storage.AttrPlayerID:        q.PlayerID,
		storage.AttrIsRunning:       strconv.FormatBool(q.IsRunning),
		storage.AttrIsPaused:        strconv.FormatBool(q.IsPaused),
		storage.AttrCurrentTaskID:   current,
		storage.AttrQueueSize:       strconv.Itoa(len(q.QueuedTasks)),
		storage.AttrTasksCompleted:  strconv.FormatInt(q.Totals.TasksCompleted, 10),
		storage.AttrLastProcessed:   time.UnixMilli(q.LastUpdatedMs).UTC().Format(time.RFC3339),
		storage.AttrChecksum:        q.Checksum,
		storage.AttrLastUpdatedMs:   storage.SortableMillis(q.LastUpdatedMs),
		storage.AttrLastValidatedMs: storage.SortableMillis(q.LastValidatedMs),
	}
}
