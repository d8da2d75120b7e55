package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/events"
	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/migration"
	"github.com/emberhollow/taskmill/pkg/monitor"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/queue"
	"github.com/emberhollow/taskmill/pkg/reconcile"
	"github.com/emberhollow/taskmill/pkg/recovery"
	"github.com/emberhollow/taskmill/pkg/retry"
	"github.com/emberhollow/taskmill/pkg/rewards"
	"github.com/emberhollow/taskmill/pkg/scheduler"
	"github.com/emberhollow/taskmill/pkg/snapshot"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

// Engine owns the full component graph: storage, integrity, persistence,
// snapshots, migrations, the queue manager, the scheduler, offline
// reconciliation and the recovery pipeline. Everything is injected at
// construction; nothing reaches back up the graph.
type Engine struct {
	cfg      Config
	defaults types.QueueConfig

	store      *storage.BoltStore
	validator  *integrity.Validator
	persist    *persist.Store
	snapshots  *snapshot.Store
	migrations *migration.Runner
	migRules   *migration.Registry
	queues     *queue.Manager
	scheduler  *scheduler.Scheduler
	reconciler *reconcile.Reconciler
	recovery   *recovery.Orchestrator
	rewards    *rewards.Registry
	retries    *retry.Controller
	broker     *events.Broker
	monitor    *monitor.Monitor
	collector  *metrics.Collector
	httpSrv    *http.Server

	now    func() time.Time
	logger zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New assembles a stopped engine from cfg. Call Start to begin ticking,
// and Stop to release the data directory.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.SysInternal, err, "create data directory %s", cfg.DataDir)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	defaults := cfg.QueueDefaults()
	validator := integrity.NewValidator()
	repairer := integrity.NewRepairer(validator)
	ps := persist.New(store, validator, repairer)
	ss := snapshot.New(store, ps)
	ps.SetSnapshotter(ss)

	broker := events.NewBroker()
	mon := monitor.New(monitor.Config{
		MemoryBudgetBytes: uint64(cfg.Monitor.MemoryBudgetMiB) << 20,
		GoroutineBudget:   cfg.Monitor.GoroutineBudget,
		Interval:          cfg.sampleInterval(),
	})
	reg := rewards.NewRegistry()
	rc := retry.NewController(retry.DefaultPolicy())

	e := &Engine{
		cfg:       cfg,
		defaults:  defaults,
		store:     store,
		validator: validator,
		persist:   ps,
		snapshots: ss,
		migRules:  migration.NewRegistry(),
		rewards:   reg,
		retries:   rc,
		broker:    broker,
		monitor:   mon,
		now:       time.Now,
		logger:    log.WithComponent("engine"),
		stopCh:    make(chan struct{}),
	}

	e.migRules.Register(migration.Baseline())
	e.migrations = migration.NewRunner(store, ps)
	ps.OnRepair(func(playerID string, actions []integrity.RepairAction) {
		broker.Publish(events.NewEvent(events.EventQueueRepaired, playerID,
			fmt.Sprintf("%d repairs applied", len(actions))))
	})
	e.queues = queue.New(ps, validator, mon, broker, defaults)
	e.scheduler = scheduler.New(store, ps, reg, scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		TickInterval: cfg.tickInterval(),
		ScanLimit:    cfg.Scheduler.ScanLimit,
	}).
		WithSnapshotter(ss).
		WithBroker(broker).
		WithMonitor(mon)
	e.reconciler = reconcile.New(ps, reg).
		WithJournal(store).
		WithBroker(broker)
	e.recovery = recovery.New(ps, ss, validator, rc, defaults, recovery.Config{
		StrategyTimeout:    cfg.strategyTimeout(),
		SnapshotCandidates: cfg.Recovery.SnapshotCandidates,
		CacheSize:          cfg.Recovery.CacheSize,
	}).
		WithBackups(recovery.NewStoreBackups(store)).
		WithMonitor(mon).
		WithBroker(broker)
	e.collector = metrics.NewCollector(store).WithInterval(cfg.collectInterval())

	return e, nil
}

// WithStats wires the player-stats provider into the scheduler and
// reconciler. Call before Start.
func (e *Engine) WithStats(sp scheduler.StatsProvider) *Engine {
	e.scheduler.WithStats(sp)
	e.reconciler.WithStats(sp)
	return e
}

// WithClock replaces the clock everywhere; tests use this to pin time.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.persist.WithClock(now)
	e.snapshots.WithClock(now)
	e.migrations.WithClock(now)
	e.queues.WithClock(now)
	e.scheduler.WithClock(now)
	e.reconciler.WithClock(now)
	e.recovery.WithClock(now)
	e.retries.WithClock(now)
	return e
}

// Start brings up the background machinery: event fan-out, resource
// sampling, the scheduler loop, the metrics collector, the expired-record
// sweep and the observability listener.
func (e *Engine) Start() {
	e.broker.Start()
	e.monitor.Start()
	e.scheduler.Start()
	e.collector.Start()

	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("scheduler", true, "")
	metrics.DegradationLevel.Set(float64(e.monitor.Level()))

	levelCh := e.monitor.Subscribe()
	e.wg.Add(1)
	go e.watchDegradation(levelCh)
	e.wg.Add(1)
	go e.sweepLoop()

	if e.cfg.Metrics.Addr != "" {
		e.serveMetrics()
	}

	e.logger.Info().
		Str("data_dir", e.cfg.DataDir).
		Int("workers", e.cfg.Scheduler.Workers).
		Str("metrics_addr", e.cfg.Metrics.Addr).
		Msg("engine started")
}

// Stop shuts everything down in reverse order and closes the store.
func (e *Engine) Stop() error {
	var firstErr error
	e.stopOnce.Do(func() {
		close(e.stopCh)

		if e.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.httpSrv.Shutdown(ctx); err != nil {
				firstErr = err
			}
			cancel()
		}

		e.scheduler.Stop()
		e.collector.Stop()
		e.monitor.Stop()
		e.broker.Stop()
		e.wg.Wait()

		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.logger.Info().Msg("engine stopped")
	})
	return firstErr
}

// LoadResult is what a host gets back when a player session opens.
type LoadResult struct {
	Queue   *types.TaskQueue
	Created bool
	// Offline is the reconciliation report; nil when reconciliation was
	// skipped or failed.
	Offline *reconcile.Report
	// Recovered is set when the stored record was unloadable and the
	// recovery pipeline produced the queue instead.
	Recovered *recovery.Result
	// Degraded marks an unpersisted emergency queue.
	Degraded bool
}

// Load is the session-open path: fetch or create the player's queue,
// route load failures through recovery, then credit any offline gap.
func (e *Engine) Load(ctx context.Context, playerID string) (*LoadResult, error) {
	res := &LoadResult{}

	q, created, err := e.persist.GetOrCreate(ctx, playerID, e.defaults)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("player_id", playerID).
			Msg("load failed, entering recovery")
		rec, rerr := e.recovery.Recover(ctx, playerID)
		if rerr != nil {
			return nil, rerr
		}
		res.Recovered = rec
		res.Degraded = rec.Degraded
		if rec.Degraded {
			res.Queue = rec.Queue
			return res, nil
		}
		q = rec.Queue
	}
	res.Queue = q
	res.Created = created

	if !created && q.Config.OfflineProcessingEnabled {
		rep, rerr := e.reconciler.Reconcile(ctx, playerID)
		switch {
		case rerr != nil:
			e.logger.Warn().
				Err(rerr).
				Str("player_id", playerID).
				Msg("offline reconciliation failed")
		case rep.Queue != nil:
			res.Offline = rep
			res.Queue = rep.Queue
		default:
			res.Offline = rep
		}
	}

	e.recovery.CacheQueue(res.Queue)
	return res, nil
}

// Queue ops delegate to the queue manager.

func (e *Engine) Queue(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	return e.queues.Get(ctx, playerID)
}

// Peek reads a queue without creating, validating or repairing it.
// Inspection tools use it so a mistyped player ID stays an error.
func (e *Engine) Peek(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	return e.persist.LoadRaw(ctx, playerID)
}

func (e *Engine) AddTask(ctx context.Context, playerID string, task *types.Task) (*types.TaskQueue, error) {
	return e.queues.AddTask(ctx, playerID, task)
}

func (e *Engine) RemoveTask(ctx context.Context, playerID, taskID string) (*types.TaskQueue, error) {
	return e.queues.RemoveTask(ctx, playerID, taskID)
}

func (e *Engine) Reorder(ctx context.Context, playerID string, ids []string) (*types.TaskQueue, error) {
	return e.queues.Reorder(ctx, playerID, ids)
}

func (e *Engine) ClearQueue(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	return e.queues.Clear(ctx, playerID)
}

func (e *Engine) Pause(ctx context.Context, playerID, reason string, allowResume bool) (*types.TaskQueue, error) {
	return e.queues.Pause(ctx, playerID, reason, allowResume)
}

func (e *Engine) Resume(ctx context.Context, playerID string, force bool) (*types.TaskQueue, error) {
	return e.queues.Resume(ctx, playerID, force)
}

func (e *Engine) UpdateConfig(ctx context.Context, playerID string, patch *types.ConfigPatch) (*types.TaskQueue, error) {
	return e.queues.UpdateConfig(ctx, playerID, patch)
}

func (e *Engine) Statistics(ctx context.Context, playerID string) (*types.QueueStatistics, error) {
	return e.queues.Statistics(ctx, playerID)
}

func (e *Engine) QueueHealth(ctx context.Context, playerID string) (*types.QueueHealth, error) {
	return e.queues.Health(ctx, playerID)
}

// ProcessQueue runs one immediate processing pass outside the tick loop.
func (e *Engine) ProcessQueue(ctx context.Context, playerID string) (*scheduler.Progress, error) {
	return e.scheduler.ProcessQueue(ctx, playerID)
}

// Reconcile credits offline progress for one player on demand.
func (e *Engine) Reconcile(ctx context.Context, playerID string) (*reconcile.Report, error) {
	return e.reconciler.Reconcile(ctx, playerID)
}

// Recover runs the recovery pipeline for one player.
func (e *Engine) Recover(ctx context.Context, playerID string) (*recovery.Result, error) {
	return e.recovery.Recover(ctx, playerID)
}

// Snapshots lists a player's snapshots, newest first.
func (e *Engine) Snapshots(ctx context.Context, playerID string, limit int) ([]*types.Snapshot, error) {
	return e.snapshots.List(ctx, playerID, limit)
}

// CreateSnapshot captures the live queue on demand.
func (e *Engine) CreateSnapshot(ctx context.Context, playerID string) (*types.Snapshot, error) {
	q, err := e.persist.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshots.Create(ctx, q, types.SnapshotReasonManual)
	if err != nil {
		return nil, err
	}
	e.broker.Publish(events.NewEvent(events.EventSnapshotCreated, playerID, string(types.SnapshotReasonManual)).
		WithMeta("snapshot_id", snap.ID))
	return snap, nil
}

// RestoreSnapshot rolls a player's queue back to a stored snapshot.
func (e *Engine) RestoreSnapshot(ctx context.Context, snapshotID, playerID string) (*types.TaskQueue, error) {
	q, err := e.snapshots.Restore(ctx, snapshotID, playerID)
	if err != nil {
		return nil, err
	}
	e.broker.Publish(events.NewEvent(events.EventSnapshotRestored, playerID, "").
		WithMeta("snapshot_id", snapshotID))
	return q, nil
}

// MigrationRegistry exposes the schema-migration rule set so hosts can
// register definitions before calling Migrate.
func (e *Engine) MigrationRegistry() *migration.Registry {
	return e.migRules
}

// Migrate walks every registered migration between two schema versions.
func (e *Engine) Migrate(ctx context.Context, from, to int64) ([]*migration.Result, error) {
	results, err := e.migrations.Run(ctx, e.migRules, from, to)
	for _, res := range results {
		if res.Record == nil || res.Record.Status != types.MigrationCompleted {
			continue
		}
		e.broker.Publish(events.NewEvent(events.EventMigrationCompleted, "",
			fmt.Sprintf("schema v%d to v%d", res.Record.FromVersion, res.Record.ToVersion)).
			WithMeta("migration_id", res.Record.ID).
			WithMeta("queues", strconv.Itoa(len(res.Record.AffectedPlayers))))
	}
	return results, err
}

// MigrationRecords lists stored migration outcomes by status.
func (e *Engine) MigrationRecords(ctx context.Context, status types.MigrationStatus, limit int) ([]*types.MigrationRecord, error) {
	return e.migrations.Records(ctx, status, limit)
}

// Broker exposes the event stream for host subscriptions.
func (e *Engine) Broker() *events.Broker {
	return e.broker
}

// Rewards exposes the calculator registry so hosts can register custom
// task types before Start.
func (e *Engine) Rewards() *rewards.Registry {
	return e.rewards
}

// Monitor exposes the resource monitor, mainly for operator overrides.
func (e *Engine) Monitor() *monitor.Monitor {
	return e.monitor
}

// watchDegradation mirrors the monitor level into the gauge, sheds load
// when it turns severe and lifts system pauses once it clears.
func (e *Engine) watchDegradation(ch <-chan monitor.Level) {
	defer e.wg.Done()
	last := e.monitor.Level()
	for {
		select {
		case <-e.stopCh:
			return
		case level := <-ch:
			metrics.DegradationLevel.Set(float64(level))
			switch {
			case level == monitor.LevelSevere && last != monitor.LevelSevere:
				e.shedLoad()
			case level == monitor.LevelNone && last != monitor.LevelNone:
				e.resumeSystemPaused()
			}
			last = level
		}
	}
}

// shedLoad pauses every running queue so the tick loop goes quiet while
// the process is starved. The pauses carry the overload reason and deny
// player resumption; resumeSystemPaused lifts them later.
func (e *Engine) shedLoad() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	items, err := e.store.QueryByIndex(ctx, storage.KeyspaceQueues,
		storage.IndexQueueRunning, "true", storage.Query{})
	if err != nil {
		e.logger.Error().Err(err).Msg("load shedding scan failed")
		return
	}

	paused := 0
	for _, item := range items {
		if _, err := e.queues.Pause(ctx, item.Key, types.PauseReasonOverload, false); err != nil {
			e.logger.Warn().
				Err(err).
				Str("player_id", item.Key).
				Msg("load shedding pause failed")
			continue
		}
		paused++
	}
	e.logger.Warn().
		Int("paused", paused).
		Int("running", len(items)).
		Msg("severe degradation, paused running queues")
}

// resumeSystemPaused lifts overload pauses once resources recover.
// Player-initiated pauses and queues that opted out are left alone.
func (e *Engine) resumeSystemPaused() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	items, err := e.store.QueryByIndex(ctx, storage.KeyspaceQueues,
		storage.IndexQueuePaused, "true", storage.Query{})
	if err != nil {
		e.logger.Error().Err(err).Msg("auto-resume scan failed")
		return
	}

	resumed := 0
	for _, item := range items {
		q, err := e.persist.LoadRaw(ctx, item.Key)
		if err != nil {
			continue
		}
		if q.PauseReason != types.PauseReasonOverload || !q.Config.ResumeOnResourceAvailable {
			continue
		}
		if _, err := e.queues.Resume(ctx, item.Key, true); err != nil {
			e.logger.Warn().
				Err(err).
				Str("player_id", item.Key).
				Msg("auto-resume failed")
			continue
		}
		resumed++
	}
	if resumed > 0 {
		e.logger.Info().Int("resumed", resumed).Msg("degradation cleared, resumed queues")
	}
}

// sweepLoop drops expired records (snapshots past their TTL) on a slow
// cadence and keeps the storage health component honest.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := e.store.SweepExpired(ctx)
			cancel()
			if err != nil {
				metrics.UpdateComponent("storage", false, err.Error())
				e.logger.Error().Err(err).Msg("expired-record sweep failed")
				continue
			}
			metrics.UpdateComponent("storage", true, "")
			if n > 0 {
				metrics.SnapshotsPrunedTotal.Add(float64(n))
				e.logger.Info().Int("removed", n).Msg("swept expired records")
			}
		}
	}
}

// serveMetrics starts the observability listener: /metrics, /health,
// /ready and /live.
func (e *Engine) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	e.httpSrv = &http.Server{
		Addr:         e.cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Str("addr", e.cfg.Metrics.Addr).Msg("metrics listener failed")
		}
	}()
}
