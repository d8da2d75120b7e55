package recovery

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/events"
	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/monitor"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/retry"
	"github.com/emberhollow/taskmill/pkg/snapshot"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

const (
	DefaultStrategyTimeout    = 5 * time.Second
	DefaultSnapshotCandidates = 5
	DefaultCacheSize          = 1024

	// OpRecovery is the operation key recovery runs under on the retry
	// controller's breakers.
	OpRecovery = "recovery"
)

// Strategy identifies how a queue was (or was not) brought back.
type Strategy string

const (
	StrategyCached          Strategy = "cached"
	StrategyTrustedLoad     Strategy = "trusted_load"
	StrategySnapshotRestore Strategy = "snapshot_restore"
	StrategyStateRepair     Strategy = "state_repair"
	StrategyBackupRestore   Strategy = "backup_restore"
	StrategyFallback        Strategy = "fallback_creation"
	StrategyEmergency       Strategy = "emergency"
)

// BackupProvider hands recovery an opaque host-managed backup blob (a
// JSON-encoded queue). Implementations return PER_NOT_FOUND when no
// backup exists.
type BackupProvider interface {
	Fetch(ctx context.Context, playerID string) ([]byte, error)
}

// StoreBackups reads backup blobs from the backups keyspace, keyed by
// player id. Hosts write them out of band.
type StoreBackups struct {
	store storage.Store
}

// NewStoreBackups returns a BackupProvider over the shared store.
func NewStoreBackups(st storage.Store) *StoreBackups {
	return &StoreBackups{store: st}
}

func (b *StoreBackups) Fetch(ctx context.Context, playerID string) ([]byte, error) {
	item, err := b.store.Get(ctx, storage.KeyspaceBackups, playerID)
	if err != nil {
		return nil, err
	}
	return item.Blob, nil
}

// Attempt records one strategy's outcome within a recovery run.
type Attempt struct {
	Strategy Strategy
	Err      error
}

// Result is a completed recovery.
type Result struct {
	PlayerID string
	// Strategy that produced the queue.
	Strategy Strategy
	Queue    *types.TaskQueue
	// Attempts lists every strategy tried, in order.
	Attempts []Attempt
	// Degraded marks an emergency queue handed out under overload; it
	// is not persisted and the real record is untouched.
	Degraded bool
}

// Config tunes the orchestrator.
type Config struct {
	// StrategyTimeout is the sub-deadline each strategy gets.
	StrategyTimeout time.Duration
	// SnapshotCandidates bounds how many recent snapshots are tried.
	SnapshotCandidates int
	// CacheSize bounds the last-known-good queue cache.
	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = DefaultStrategyTimeout
	}
	if c.SnapshotCandidates <= 0 {
		c.SnapshotCandidates = DefaultSnapshotCandidates
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// Orchestrator walks the ordered recovery strategies for a broken
// queue: snapshot restore, in-place repair, host backup, and finally a
// fresh fallback queue. A per-player circuit breaker fails recovery
// fast while storage is misbehaving, and the resource monitor substitutes
// cheaper answers under degradation.
type Orchestrator struct {
	persist   *persist.Store
	snapshots *snapshot.Store
	validator *integrity.Validator
	repairer  *integrity.Repairer
	retries   *retry.Controller
	backups   BackupProvider
	monitor   *monitor.Monitor
	broker    *events.Broker
	defaults  types.QueueConfig
	cache     *lru.Cache
	cfg       Config

	now    func() time.Time
	logger zerolog.Logger
}

// New returns an orchestrator. The retry controller supplies the
// per-player breakers; the defaults config seeds fallback queues.
func New(ps *persist.Store, ss *snapshot.Store, v *integrity.Validator, rc *retry.Controller, defaults types.QueueConfig, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	cache, _ := lru.New(cfg.CacheSize)
	return &Orchestrator{
		persist:   ps,
		snapshots: ss,
		validator: v,
		repairer:  integrity.NewRepairer(v),
		retries:   rc,
		defaults:  defaults,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
		logger:    log.WithComponent("recovery"),
	}
}

// WithBackups wires a host backup provider.
func (o *Orchestrator) WithBackups(bp BackupProvider) *Orchestrator {
	o.backups = bp
	return o
}

// WithMonitor wires the resource monitor for degradation handling.
func (o *Orchestrator) WithMonitor(m *monitor.Monitor) *Orchestrator {
	o.monitor = m
	return o
}

// WithBroker wires the event broker.
func (o *Orchestrator) WithBroker(b *events.Broker) *Orchestrator {
	o.broker = b
	return o
}

// WithClock replaces the clock; tests use this to pin time.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.repairer.WithClock(now)
	return o
}

// CacheQueue seeds the last-known-good cache. The engine calls it after
// successful loads so minimal-degradation recovery has something to
// hand back.
func (o *Orchestrator) CacheQueue(q *types.TaskQueue) {
	if q != nil {
		o.cache.Add(q.PlayerID, q)
	}
}

// Recover brings back one player's queue. Strategies run in order with
// their own timeouts; the first success wins. Under severe degradation
// an unpersisted emergency queue is returned instead; with the breaker
// open the call fails fast with RES_GRACEFUL_DEGRADATION.
func (o *Orchestrator) Recover(ctx context.Context, playerID string) (*Result, error) {
	level := o.level()
	if level == monitor.LevelSevere {
		return o.emergency(playerID), nil
	}

	br := o.retries.Breaker(retry.Key(playerID, OpRecovery))
	if ok, wait := br.Allow(); !ok {
		metrics.RecoveryRejectionsTotal.Inc()
		return nil, errs.New(errs.ResGracefulDegradation,
			"recovery for %s is circuit-broken, retry in %s", playerID, wait.Round(time.Second))
	}

	res := &Result{PlayerID: playerID}

	// Under pressure, cheaper answers first.
	if level == monitor.LevelMinimal {
		if cached, ok := o.cache.Get(playerID); ok {
			br.RecordSuccess()
			metrics.RecoveriesTotal.WithLabelValues(string(StrategyCached), "success").Inc()
			res.Strategy = StrategyCached
			res.Queue = cached.(*types.TaskQueue)
			return res, nil
		}
	}
	if level == monitor.LevelModerate {
		q, err := o.trustedLoad(ctx, playerID)
		res.Attempts = append(res.Attempts, Attempt{Strategy: StrategyTrustedLoad, Err: err})
		if err == nil {
			metrics.RecoveriesTotal.WithLabelValues(string(StrategyTrustedLoad), "success").Inc()
			return o.succeed(br, res, StrategyTrustedLoad, q), nil
		}
		metrics.RecoveriesTotal.WithLabelValues(string(StrategyTrustedLoad), "failure").Inc()
	}

	opts := o.saveOpts(level)
	steps := []struct {
		name Strategy
		fn   func(context.Context, string, persist.Options) (*types.TaskQueue, error)
	}{
		{StrategySnapshotRestore, o.restoreFromSnapshots},
		{StrategyStateRepair, o.repairInPlace},
		{StrategyBackupRestore, o.restoreFromBackup},
		{StrategyFallback, o.createFallback},
	}
	for _, step := range steps {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.StrategyTimeout)
		q, err := step.fn(sctx, playerID, opts)
		cancel()

		res.Attempts = append(res.Attempts, Attempt{Strategy: step.name, Err: err})
		if err != nil {
			metrics.RecoveriesTotal.WithLabelValues(string(step.name), "failure").Inc()
			o.logger.Warn().
				Err(err).
				Str("player_id", playerID).
				Str("strategy", string(step.name)).
				Msg("recovery strategy failed")
			continue
		}
		metrics.RecoveriesTotal.WithLabelValues(string(step.name), "success").Inc()

		// The salvaged state gets its own restore point straight away.
		if _, serr := o.snapshots.Create(ctx, q, types.SnapshotReasonRecovery); serr != nil {
			o.logger.Warn().Err(serr).Str("player_id", playerID).Msg("post-recovery snapshot failed")
		}

		o.publish(events.NewEvent(events.EventQueueRecovered, playerID, "queue recovered").
			WithMeta("strategy", string(step.name)))
		o.logger.Info().
			Str("player_id", playerID).
			Str("strategy", string(step.name)).
			Int("attempts", len(res.Attempts)).
			Msg("queue recovered")
		return o.succeed(br, res, step.name, q), nil
	}

	br.RecordFailure()
	return nil, errs.New(errs.SysInternal, "all recovery strategies failed for %s", playerID)
}

func (o *Orchestrator) succeed(br *retry.Breaker, res *Result, s Strategy, q *types.TaskQueue) *Result {
	br.RecordSuccess()
	o.cache.Add(q.PlayerID, q)
	res.Strategy = s
	res.Queue = q
	return res
}

// trustedLoad skips full validation and trusts the stored checksum.
func (o *Orchestrator) trustedLoad(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	q, err := o.persist.LoadRaw(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !integrity.VerifyChecksum(q) {
		return nil, errs.New(errs.PerChecksumMismatch, "stored checksum for %s does not match", playerID)
	}
	return q, nil
}

// restoreFromSnapshots tries the newest snapshots first, committing the
// first one whose captured queue is valid or repairable.
func (o *Orchestrator) restoreFromSnapshots(ctx context.Context, playerID string, opts persist.Options) (*types.TaskQueue, error) {
	snaps, err := o.snapshots.List(ctx, playerID, o.cfg.SnapshotCandidates)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, errs.New(errs.PerNotFound, "no snapshots for %s", playerID)
	}

	var lastErr error
	for _, snap := range snaps {
		candidate, err := snapshot.Decode(snap)
		if err != nil {
			lastErr = err
			continue
		}
		if err := o.acceptable(candidate); err != nil {
			lastErr = errs.Wrap(errs.SysCorruption, err, "snapshot %s rejected", snap.ID)
			continue
		}
		q, err := o.snapshots.Restore(ctx, snap.ID, playerID)
		if err != nil {
			lastErr = err
			continue
		}
		return q, nil
	}
	return nil, lastErr
}

// repairInPlace is the persist layer's own load-validate-repair path.
func (o *Orchestrator) repairInPlace(ctx context.Context, playerID string, _ persist.Options) (*types.TaskQueue, error) {
	return o.persist.Load(ctx, playerID)
}

// restoreFromBackup rebuilds the queue from a host-provided blob.
func (o *Orchestrator) restoreFromBackup(ctx context.Context, playerID string, opts persist.Options) (*types.TaskQueue, error) {
	if o.backups == nil {
		return nil, errs.New(errs.PerNotFound, "no backup provider configured")
	}
	blob, err := o.backups.Fetch(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var q types.TaskQueue
	if err := json.Unmarshal(blob, &q); err != nil {
		return nil, errs.Wrap(errs.SysCorruption, err, "backup for %s is not a queue", playerID)
	}
	if q.PlayerID != playerID {
		return nil, errs.New(errs.SecPlayerMismatch,
			"backup belongs to player %s, not %s", q.PlayerID, playerID)
	}
	if err := o.acceptable(&q); err != nil {
		return nil, err
	}

	nowMs := o.now().UnixMilli()
	q.LastUpdatedMs = nowMs
	q.RecordHistory(types.StateHistoryEntry{
		Kind:        types.HistoryRecovered,
		Detail:      "restored from host backup",
		TimestampMs: nowMs,
	})

	// Align with whatever version is live so the conditional put lands;
	// a missing record means this save creates it.
	if cur, err := o.persist.LoadRaw(ctx, playerID); err == nil {
		q.Version = cur.Version
	} else {
		q.Version = 0
	}
	if err := o.persist.Save(ctx, &q, opts); err != nil {
		return nil, err
	}
	return &q, nil
}

// createFallback is the last resort: drop whatever is stored and start
// the player over with an empty queue at default configuration.
func (o *Orchestrator) createFallback(ctx context.Context, playerID string, opts persist.Options) (*types.TaskQueue, error) {
	if err := o.persist.Delete(ctx, playerID); err != nil {
		return nil, err
	}

	nowMs := o.now().UnixMilli()
	q := types.NewTaskQueue(playerID, o.defaults, nowMs)
	q.RecordHistory(types.StateHistoryEntry{
		Kind:        types.HistoryRecovered,
		Detail:      "fallback queue created",
		TimestampMs: nowMs,
	})
	if err := o.persist.Save(ctx, q, opts); err != nil {
		return nil, err
	}
	return q, nil
}

// acceptable reports whether a candidate queue is valid, repairing it
// in place when the findings allow it.
func (o *Orchestrator) acceptable(q *types.TaskQueue) error {
	report := o.validator.Check(q)
	if len(report.Errors) == 0 {
		return nil
	}
	if !report.CanRepair {
		return errs.New(errs.PerQueueUnrepairable,
			"queue %s has unrepairable findings (score %d)", q.PlayerID, report.IntegrityScore)
	}
	if _, err := o.repairer.Repair(q, report); err != nil {
		return err
	}
	return nil
}

// emergency hands out a constrained, paused queue without touching the
// stored record, so gameplay can continue while the real queue waits
// for a calmer moment.
func (o *Orchestrator) emergency(playerID string) *Result {
	nowMs := o.now().UnixMilli()
	q := types.NewTaskQueue(playerID, types.EmergencyQueueConfig(), nowMs)
	q.PauseAt(nowMs, types.PauseReasonOverload, false)

	metrics.RecoveriesTotal.WithLabelValues(string(StrategyEmergency), "success").Inc()
	o.logger.Warn().
		Str("player_id", playerID).
		Msg("severe degradation, handing out emergency queue")
	return &Result{
		PlayerID: playerID,
		Strategy: StrategyEmergency,
		Queue:    q,
		Degraded: true,
	}
}

// saveOpts reduces write retries under minimal degradation.
func (o *Orchestrator) saveOpts(level monitor.Level) persist.Options {
	if level == monitor.LevelMinimal {
		return persist.Options{MaxRetries: 1}
	}
	return persist.Options{}
}

func (o *Orchestrator) level() monitor.Level {
	if o.monitor == nil {
		return monitor.LevelNone
	}
	return o.monitor.Level()
}

func (o *Orchestrator) publish(e *events.Event) {
	if o.broker != nil {
		o.broker.Publish(e)
	}
}
