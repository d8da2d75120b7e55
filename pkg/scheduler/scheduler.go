package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/events"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/monitor"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/rewards"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

const (
	DefaultWorkers      = 4
	DefaultTickInterval = 5 * time.Second
	DefaultScanLimit    = 256
)

// errQueueIdle aborts an update whose queue has nothing worth writing
// this tick.
var errQueueIdle = errors.New("queue idle")

// StatsProvider resolves the player attributes reward formulas depend
// on. A nil provider means every skill reads as level zero.
type StatsProvider func(ctx context.Context, playerID string) (*types.PlayerStats, error)

// Config tunes the scheduler loop.
type Config struct {
	// Workers is the number of processing goroutines; queues are
	// partitioned across them by player id.
	Workers int
	// TickInterval is the cadence of the running-queue scan.
	TickInterval time.Duration
	// ScanLimit bounds how many queues one scan pass picks up.
	ScanLimit int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = DefaultScanLimit
	}
	return c
}

// CompletionRecord is the journal entry appended for every finished
// task.
type CompletionRecord struct {
	PlayerID    string
	TaskID      string
	TaskType    types.TaskType
	DurationMs  int64
	CompletedMs int64
	Rewards     []types.Reward
}

// Scheduler is the continuously-running engine shared across players.
// Each tick it lists running queues from the secondary index and hands
// every queue to the worker owning its player-id hash slot; within one
// player the conditional-write version check keeps mutators serialized.
type Scheduler struct {
	store     storage.Store
	persist   *persist.Store
	rewards   *rewards.Registry
	stats     StatsProvider
	snapshots persist.Snapshotter
	broker    *events.Broker
	monitor   *monitor.Monitor
	cfg       Config

	now    func() time.Time
	logger zerolog.Logger

	workerChs []chan string
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New returns a stopped scheduler; call Start to begin ticking.
func New(st storage.Store, ps *persist.Store, reg *rewards.Registry, cfg Config) *Scheduler {
	return &Scheduler{
		store:   st,
		persist: ps,
		rewards: reg,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		logger:  log.WithComponent("scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// WithStats wires the player-stats provider.
func (s *Scheduler) WithStats(sp StatsProvider) *Scheduler {
	s.stats = sp
	return s
}

// WithSnapshotter wires the periodic-snapshot sink.
func (s *Scheduler) WithSnapshotter(sn persist.Snapshotter) *Scheduler {
	s.snapshots = sn
	return s
}

// WithBroker wires the event broker.
func (s *Scheduler) WithBroker(b *events.Broker) *Scheduler {
	s.broker = b
	return s
}

// WithMonitor wires the resource monitor for backpressure.
func (s *Scheduler) WithMonitor(m *monitor.Monitor) *Scheduler {
	s.monitor = m
	return s
}

// WithClock replaces the clock; tests use this to pin time.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start launches the workers and the scan loop.
func (s *Scheduler) Start() {
	s.workerChs = make([]chan string, s.cfg.Workers)
	for i := range s.workerChs {
		ch := make(chan string, s.cfg.ScanLimit)
		s.workerChs[i] = ch
		s.wg.Add(1)
		go s.worker(i, ch)
	}
	s.wg.Add(1)
	go s.run()
}

// Stop halts the loop and waits for in-flight work to drain. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// tick runs one scan pass: every running queue is dispatched to the
// worker owning its hash slot. Saturated workers skip queues; the next
// pass picks them up again.
func (s *Scheduler) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

	items, err := s.store.QueryByIndex(ctx, storage.KeyspaceQueues, storage.IndexQueueRunning, "true",
		storage.Query{Limit: s.cfg.ScanLimit})
	if err != nil {
		s.logger.Warn().Err(err).Msg("running-queue scan failed")
		return
	}
	for _, item := range items {
		w := workerFor(item.Key, len(s.workerChs))
		select {
		case s.workerChs[w] <- item.Key:
		default:
		}
	}
}

func (s *Scheduler) worker(i int, ch chan string) {
	defer s.wg.Done()
	for {
		select {
		case playerID := <-ch:
			if _, err := s.ProcessQueue(context.Background(), playerID); err != nil {
				s.logger.Warn().
					Err(err).
					Str("player_id", playerID).
					Int("worker", i).
					Msg("queue processing failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// tickOutcome carries mutate results out of the update closure. It is
// assigned, never appended, so conflict replays start clean.
type tickOutcome struct {
	prog          *Progress
	prevCurrentID string
	snapshotDue   bool
}

// ProcessQueue advances one player's queue to the current instant and
// persists the result. Writes are skipped while the queue is within its
// sync interval, and when nothing material changed and the force-save
// cadence has not elapsed.
func (s *Scheduler) ProcessQueue(ctx context.Context, playerID string) (*Progress, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProcessDuration)

	stats, err := s.playerStats(ctx, playerID)
	if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	var out tickOutcome
	q, err := s.persist.Update(ctx, playerID, func(q *types.TaskQueue) error {
		out = tickOutcome{}
		if nowMs-q.LastSyncedMs < q.Config.SyncIntervalMs {
			return errQueueIdle
		}
		if q.CurrentTask != nil {
			out.prevCurrentID = q.CurrentTask.ID
		}

		prog := Advance(q, nowMs, s.rewards, stats)
		if !prog.Dirty && nowMs-q.LastUpdatedMs < q.Config.PersistenceIntervalMs {
			return errQueueIdle
		}
		q.LastSyncedMs = nowMs

		if interval := s.snapshotInterval(q); interval > 0 && nowMs-q.LastSnapshotMs >= interval {
			q.LastSnapshotMs = nowMs
			out.snapshotDue = true
		}
		out.prog = prog
		return nil
	}, persist.Options{ValidatePerConfig: true})
	if errors.Is(err, errQueueIdle) {
		return &Progress{}, nil
	}
	if err != nil {
		return nil, err
	}

	s.afterSave(ctx, q, out)
	return out.prog, nil
}

// afterSave journals completions and publishes events once the write is
// durable, so conflict replays can never double-report.
func (s *Scheduler) afterSave(ctx context.Context, q *types.TaskQueue, out tickOutcome) {
	for _, task := range out.prog.Completed {
		s.journal(ctx, q.PlayerID, task)
		metrics.TasksCompletedTotal.WithLabelValues(string(task.Type)).Inc()
		for _, r := range task.Rewards {
			metrics.RewardsGrantedTotal.WithLabelValues(string(r.Kind)).Add(float64(r.Quantity))
		}
		s.publish(events.NewEvent(events.EventTaskCompleted, q.PlayerID, task.Name).
			WithMeta("task_id", task.ID))
	}
	for _, task := range out.prog.Failed {
		metrics.TasksFailedTotal.WithLabelValues(string(task.Type)).Inc()
		s.publish(events.NewEvent(events.EventTaskFailed, q.PlayerID, task.Name).
			WithMeta("task_id", task.ID))
	}
	if ct := q.CurrentTask; ct != nil && ct.ID != out.prevCurrentID {
		s.publish(events.NewEvent(events.EventTaskStarted, q.PlayerID, ct.Name).
			WithMeta("task_id", ct.ID))
	}
	if q.IsPaused && out.prevCurrentID != "" && q.CurrentTask == nil {
		s.publish(events.NewEvent(events.EventQueuePaused, q.PlayerID, q.PauseReason))
	}

	if out.snapshotDue && s.snapshots != nil {
		if _, err := s.snapshots.Create(ctx, q, types.SnapshotReasonPeriodic); err != nil {
			s.logger.Warn().Err(err).Str("player_id", q.PlayerID).Msg("periodic snapshot failed")
		}
	}
}

func (s *Scheduler) journal(ctx context.Context, playerID string, task *types.Task) {
	rec := CompletionRecord{
		PlayerID:    playerID,
		TaskID:      task.ID,
		TaskType:    task.Type,
		DurationMs:  task.DurationMs,
		CompletedMs: task.EstimatedCompletionMs,
		Rewards:     task.Rewards,
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if _, err := s.store.Append(ctx, storage.LogCompletions, blob); err != nil {
		s.logger.Warn().Err(err).Str("player_id", playerID).Msg("completion journal append failed")
	}
}

func (s *Scheduler) playerStats(ctx context.Context, playerID string) (*types.PlayerStats, error) {
	if s.stats == nil {
		return nil, nil
	}
	stats, err := s.stats(ctx, playerID)
	if err != nil {
		return nil, errs.Wrap(errs.SysInternal, err, "failed to resolve stats for %s", playerID)
	}
	return stats, nil
}

// snapshotInterval stretches the periodic-snapshot cadence under severe
// load so the write-heavy snapshot store sheds work first.
func (s *Scheduler) snapshotInterval(q *types.TaskQueue) int64 {
	interval := q.Config.SnapshotIntervalMs
	if s.monitor != nil && s.monitor.Level() == monitor.LevelSevere {
		interval *= 4
	}
	return interval
}

func (s *Scheduler) publish(e *events.Event) {
	if s.broker != nil {
		s.broker.Publish(e)
	}
}

func workerFor(playerID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return int(h.Sum32() % uint32(workers))
}
