package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

// DefaultConcurrency bounds the migration fan-out when the runner is
// not given an explicit limit.
const DefaultConcurrency = 4

// Definition is one schema migration step. Forward rewrites a queue
// from FromVersion to ToVersion; Rollback undoes it. Validate, when
// set, must accept the rewritten queue before it is saved.
type Definition struct {
	ID          string
	FromVersion int64
	ToVersion   int64
	Forward     func(*types.TaskQueue) error
	Rollback    func(*types.TaskQueue) error
	Validate    func(*types.TaskQueue) bool
}

// Registry holds the known migration steps keyed by their starting
// schema version.
type Registry struct {
	mu   sync.RWMutex
	defs map[int64][]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[int64][]*Definition{}}
}

// Register adds a migration step.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.FromVersion] = append(r.defs[def.FromVersion], def)
	sort.Slice(r.defs[def.FromVersion], func(i, j int) bool {
		a, b := r.defs[def.FromVersion][i], r.defs[def.FromVersion][j]
		if a.ToVersion != b.ToVersion {
			return a.ToVersion < b.ToVersion
		}
		return a.ID < b.ID
	})
}

// Plan returns the shortest chain of steps rewriting queues from one
// schema version to another, or PER_PLAN_IMPOSSIBLE when the registered
// steps cannot bridge the gap.
func (r *Registry) Plan(from, to int64) ([]*Definition, error) {
	if from == to {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Breadth-first over version edges keeps the chain shortest.
	type node struct {
		version int64
		path    []*Definition
	}
	visited := map[int64]bool{from: true}
	queue := []node{{version: from}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, def := range r.defs[cur.version] {
			if visited[def.ToVersion] {
				continue
			}
			path := append(append([]*Definition{}, cur.path...), def)
			if def.ToVersion == to {
				return path, nil
			}
			visited[def.ToVersion] = true
			queue = append(queue, node{version: def.ToVersion, path: path})
		}
	}
	return nil, errs.New(errs.PerPlanImpossible,
		"no migration path from schema %d to %d", from, to)
}

// Result reports one executed migration step.
type Result struct {
	Record *types.MigrationRecord
	// Failed maps player ids to the error that stopped their queue from
	// migrating; the run continues past individual failures.
	Failed map[string]error
}

// Runner executes migration steps against every stored queue.
type Runner struct {
	store       storage.Store
	persist     *persist.Store
	Concurrency int

	now    func() time.Time
	logger zerolog.Logger
}

// NewRunner returns a runner over the given stores.
func NewRunner(st storage.Store, ps *persist.Store) *Runner {
	return &Runner{
		store:   st,
		persist: ps,
		now:     time.Now,
		logger:  log.WithComponent("migration"),
	}
}

// WithClock replaces the clock; tests use this to pin time.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Execute applies one migration step to every queue sitting at the
// step's starting schema version. Each queue gets a before-update
// snapshot, the forward transform, the step's validation, and a save
// without re-validation. Individual queue failures are collected, not
// fatal; the recorded status is failed if any queue could not migrate.
func (r *Runner) Execute(ctx context.Context, def *Definition) (*Result, error) {
	record := &types.MigrationRecord{
		ID:          uuid.New().String(),
		Definition:  def.ID,
		FromVersion: def.FromVersion,
		ToVersion:   def.ToVersion,
		TimestampMs: r.now().UnixMilli(),
		Status:      types.MigrationInProgress,
	}
	recordVersion, err := r.putRecord(ctx, record, 0)
	if err != nil {
		return nil, err
	}

	players, err := r.playersAtVersion(ctx, def.FromVersion)
	if err != nil {
		record.Status = types.MigrationFailed
		record.Error = err.Error()
		_, _ = r.putRecord(ctx, record, recordVersion)
		return nil, err
	}

	r.logger.Info().
		Str("migration_id", def.ID).
		Int64("from", def.FromVersion).
		Int64("to", def.ToVersion).
		Int("queues", len(players)).
		Msg("migration started")

	var mu sync.Mutex
	result := &Result{Record: record, Failed: map[string]error{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for _, playerID := range players {
		playerID := playerID
		g.Go(func() error {
			err := r.migrateQueue(gctx, def, playerID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[playerID] = err
				return nil // keep going; failures are per queue
			}
			record.AffectedPlayers = append(record.AffectedPlayers, playerID)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(record.AffectedPlayers)

	record.Status = types.MigrationCompleted
	if len(result.Failed) > 0 {
		record.Status = types.MigrationFailed
		record.Error = fmt.Sprintf("%d of %d queues failed", len(result.Failed), len(players))
	}
	if _, err := r.putRecord(ctx, record, recordVersion); err != nil {
		return result, err
	}

	r.logger.Info().
		Str("migration_id", def.ID).
		Str("status", string(record.Status)).
		Int("migrated", len(record.AffectedPlayers)).
		Int("failed", len(result.Failed)).
		Msg("migration finished")
	return result, nil
}

// Rollback re-applies the step's rollback transform to every queue that
// reached the step's target schema version.
func (r *Runner) Rollback(ctx context.Context, def *Definition) (*Result, error) {
	if def.Rollback == nil {
		return nil, errs.New(errs.PerPlanImpossible,
			"migration %s has no rollback", def.ID)
	}
	inverse := &Definition{
		ID:          def.ID + "-rollback",
		FromVersion: def.ToVersion,
		ToVersion:   def.FromVersion,
		Forward:     def.Rollback,
		Validate:    def.Validate,
	}
	result, err := r.Execute(ctx, inverse)
	if err != nil {
		return result, err
	}
	if result.Record.Status == types.MigrationCompleted {
		result.Record.Status = types.MigrationRolledBack
		item, gerr := r.store.Get(ctx, storage.KeyspaceMigrations, result.Record.ID)
		if gerr != nil {
			return result, gerr
		}
		if _, perr := r.putRecord(ctx, result.Record, item.Version); perr != nil {
			return result, perr
		}
	}
	return result, nil
}

// Run plans a path between two schema versions and executes each step
// in order, stopping at the first step that records a failure.
func (r *Runner) Run(ctx context.Context, reg *Registry, from, to int64) ([]*Result, error) {
	plan, err := reg.Plan(from, to)
	if err != nil {
		return nil, err
	}
	var results []*Result
	for _, def := range plan {
		res, err := r.Execute(ctx, def)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Record.Status == types.MigrationFailed {
			return results, errs.New(errs.SysInternal,
				"migration %s failed for %d queues", def.ID, len(res.Failed))
		}
	}
	return results, nil
}

// Records lists persisted migration records with the given status,
// newest first.
func (r *Runner) Records(ctx context.Context, status types.MigrationStatus, limit int) ([]*types.MigrationRecord, error) {
	items, err := r.store.QueryByIndex(ctx, storage.KeyspaceMigrations, storage.IndexMigrationStatus,
		string(status), storage.Query{Limit: limit, Descending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list migration records: %w", err)
	}
	out := make([]*types.MigrationRecord, 0, len(items))
	for _, item := range items {
		var rec types.MigrationRecord
		if err := json.Unmarshal(item.Blob, &rec); err != nil {
			return nil, errs.Wrap(errs.SysCorruption, err, "failed to decode migration record %s", item.Key)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (r *Runner) migrateQueue(ctx context.Context, def *Definition, playerID string) error {
	_, err := r.persist.Update(ctx, playerID, func(q *types.TaskQueue) error {
		if q.SchemaVersion != def.FromVersion {
			// Another run got here first; nothing to do.
			return nil
		}
		if err := def.Forward(q); err != nil {
			return fmt.Errorf("forward transform failed: %w", err)
		}
		if def.Validate != nil && !def.Validate(q) {
			return errs.New(errs.ValQueueInvalid,
				"queue %s failed migration validation", playerID)
		}
		q.SchemaVersion = def.ToVersion
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryMigrated,
			Detail:      fmt.Sprintf("schema %d to %d", def.FromVersion, def.ToVersion),
			TimestampMs: r.now().UnixMilli(),
		})
		return nil
	}, persist.Options{CreateSnapshot: true})
	return err
}

// playersAtVersion scans the queue keyspace for records still at the
// given schema version.
func (r *Runner) playersAtVersion(ctx context.Context, schemaVersion int64) ([]string, error) {
	var players []string
	err := r.store.Scan(ctx, storage.KeyspaceQueues, func(item *storage.Item) error {
		var q types.TaskQueue
		if err := json.Unmarshal(item.Blob, &q); err != nil {
			// Corrupt records are recovery's problem, not migration's.
			r.logger.Warn().Str("player_id", item.Key).Msg("skipping undecodable queue")
			return nil
		}
		if q.SchemaVersion == schemaVersion {
			players = append(players, item.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan queues: %w", err)
	}
	sort.Strings(players)
	return players, nil
}

// putRecord writes the migration record, returning the version to use
// for the next update.
func (r *Runner) putRecord(ctx context.Context, rec *types.MigrationRecord, expectVersion int64) (int64, error) {
	blob, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode migration record: %w", err)
	}
	attrs := map[string]string{
		storage.AttrStatus:      string(rec.Status),
		storage.AttrTimestampMs: storage.SortableMillis(rec.TimestampMs),
	}
	if err := r.store.ConditionalPut(ctx, storage.KeyspaceMigrations, rec.ID, blob, attrs, expectVersion); err != nil {
		return 0, fmt.Errorf("failed to write migration record: %w", err)
	}
	return expectVersion + 1, nil
}

func (r *Runner) concurrency() int {
	if r.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return r.Concurrency
}
