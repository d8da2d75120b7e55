package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/events"
	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/monitor"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/types"
)

const (
	statsCacheSize = 1024
	statsTTL       = 60 * time.Second
	// statsTTLDegraded stretches the cache under severe load so stat
	// reads stop hitting storage.
	statsTTLDegraded = 240 * time.Second
)

// errNoChange marks a mutation that turned out to be a no-op; the
// update is skipped instead of burning a version.
var errNoChange = errors.New("no change")

// Manager exposes the per-player queue operations. Every mutator runs
// through the persist store's atomic update, so concurrent callers race
// on the version and the loser replays.
type Manager struct {
	persist   *persist.Store
	validator *integrity.Validator
	monitor   *monitor.Monitor
	broker    *events.Broker
	defaults  types.QueueConfig

	stats *lru.Cache
	group singleflight.Group

	now    func() time.Time
	logger zerolog.Logger
}

type statsEntry struct {
	stats     *types.QueueStatistics
	expiresAt int64
}

// New returns a queue manager. The monitor and broker may be nil in
// tests; degradation checks and event publishing become no-ops.
func New(ps *persist.Store, v *integrity.Validator, mon *monitor.Monitor, broker *events.Broker, defaults types.QueueConfig) *Manager {
	cache, _ := lru.New(statsCacheSize)
	m := &Manager{
		persist:   ps,
		validator: v,
		monitor:   mon,
		broker:    broker,
		defaults:  defaults,
		stats:     cache,
		now:       time.Now,
		logger:    log.WithComponent("queue"),
	}
	ps.OnSave(func(playerID string) {
		m.stats.Remove(playerID)
	})
	return m
}

// WithClock replaces the clock; tests use this to pin time.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Get returns the player's queue, creating an empty one on first
// contact.
func (m *Manager) Get(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	q, _, err := m.persist.GetOrCreate(ctx, playerID, m.defaults)
	return q, err
}

// AddTask validates and enqueues a task, starting it immediately when
// the queue is idle and configured to auto-start. Additions are refused
// outright while the system is severely degraded.
func (m *Manager) AddTask(ctx context.Context, playerID string, task *types.Task) (*types.TaskQueue, error) {
	if m.level() == monitor.LevelSevere {
		return nil, errs.New(errs.ResSystemOverloaded,
			"task additions are suspended while the system sheds load")
	}
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if task.PlayerID != "" && task.PlayerID != playerID {
		return nil, errs.New(errs.SecPlayerMismatch,
			"task %s belongs to another player", task.ID)
	}
	if err := checkGates(task); err != nil {
		return nil, err
	}

	var started bool
	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		started = false
		cfg := q.Config

		if len(q.QueuedTasks) >= cfg.MaxQueueSize {
			return errs.New(errs.BusQueueFull,
				"queue holds %d of %d tasks", len(q.QueuedTasks), cfg.MaxQueueSize)
		}
		if task.DurationMs > cfg.MaxTaskDurationMs {
			return errs.New(errs.BusTaskTooLong,
				"task runs %dms, limit is %dms", task.DurationMs, cfg.MaxTaskDurationMs)
		}
		if total := q.TotalQueuedDurationMs() + task.DurationMs; total > cfg.MaxTotalQueueDurationMs {
			return errs.New(errs.BusTotalDurationExceeded,
				"queued work would total %dms, limit is %dms", total, cfg.MaxTotalQueueDurationMs)
		}
		if q.FindQueued(task.ID) != nil || (q.CurrentTask != nil && q.CurrentTask.ID == task.ID) {
			return errs.New(errs.ValTaskInvalid, "task %s is already queued", task.ID)
		}

		nowMs := m.now().UnixMilli()
		task.PlayerID = playerID
		task.IsValid = true
		insertTask(q, task, cfg.PriorityHandling)
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryTaskAdded,
			TaskID:      task.ID,
			TimestampMs: nowMs,
		})

		if cfg.AutoStart && q.CurrentTask == nil && !q.IsPaused {
			q.StartNextAt(nowMs)
			started = q.CurrentTask != nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(events.NewEvent(events.EventTaskAdded, playerID, task.Name).WithMeta("task_id", task.ID))
	if started {
		m.publish(events.NewEvent(events.EventTaskStarted, playerID, q.CurrentTask.Name).
			WithMeta("task_id", q.CurrentTask.ID))
	}
	return q, nil
}

// RemoveTask drops a task by id. Removing the in-flight task discards
// its partial progress and advances to the next queued task; unknown
// ids are a no-op.
func (m *Manager) RemoveTask(ctx context.Context, playerID, taskID string) (*types.TaskQueue, error) {
	var started bool
	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		started = false
		nowMs := m.now().UnixMilli()

		if q.CurrentTask != nil && q.CurrentTask.ID == taskID {
			q.CurrentTask = nil
			q.IsRunning = false
			if !q.IsPaused {
				q.StartNextAt(nowMs)
				started = q.CurrentTask != nil
			}
			q.RecordHistory(types.StateHistoryEntry{
				Kind:        types.HistoryTaskRemoved,
				TaskID:      taskID,
				Detail:      "was running",
				TimestampMs: nowMs,
			})
			return nil
		}
		if !q.RemoveQueued(taskID) {
			return errNoChange
		}
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryTaskRemoved,
			TaskID:      taskID,
			TimestampMs: nowMs,
		})
		return nil
	})
	if errors.Is(err, errNoChange) {
		return m.persist.Load(ctx, playerID)
	}
	if err != nil {
		return nil, err
	}

	m.publish(events.NewEvent(events.EventTaskRemoved, playerID, "").WithMeta("task_id", taskID))
	if started {
		m.publish(events.NewEvent(events.EventTaskStarted, playerID, q.CurrentTask.Name).
			WithMeta("task_id", q.CurrentTask.ID))
	}
	return q, nil
}

// Reorder rearranges the waiting tasks to match the desired id prefix.
// Ids not present in the queue are ignored; tasks the prefix does not
// mention keep their relative order at the tail. The in-flight task is
// untouched.
func (m *Manager) Reorder(ctx context.Context, playerID string, ids []string) (*types.TaskQueue, error) {
	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		taken := make(map[string]bool, len(ids))
		head := make([]*types.Task, 0, len(q.QueuedTasks))
		for _, id := range ids {
			if taken[id] {
				continue
			}
			if t := q.FindQueued(id); t != nil {
				head = append(head, t)
				taken[id] = true
			}
		}
		if len(taken) == 0 {
			return errNoChange
		}
		for _, t := range q.QueuedTasks {
			if !taken[t.ID] {
				head = append(head, t)
			}
		}
		q.QueuedTasks = head
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryReordered,
			Detail:      fmt.Sprintf("%d tasks", len(ids)),
			TimestampMs: m.now().UnixMilli(),
		})
		return nil
	})
	if errors.Is(err, errNoChange) {
		return m.persist.Load(ctx, playerID)
	}
	return q, err
}

// Clear empties the queue and resets its run and pause state. Lifetime
// totals survive.
func (m *Manager) Clear(ctx context.Context, playerID string) (*types.TaskQueue, error) {
	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		nowMs := m.now().UnixMilli()
		q.ClearAt(nowMs)
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryCleared,
			TimestampMs: nowMs,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(events.NewEvent(events.EventQueueCleared, playerID, ""))
	return q, nil
}

// Pause stops queue processing. Pausing an already-paused queue is
// advisory: the call reports BUS_ALREADY_PAUSED as a warning and leaves
// the queue untouched.
func (m *Manager) Pause(ctx context.Context, playerID, reason string, allowResume bool) (*types.TaskQueue, error) {
	if reason == "" {
		return nil, errs.New(errs.ValMissingField, "pause reason is required")
	}

	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		nowMs := m.now().UnixMilli()
		if !q.PauseAt(nowMs, reason, allowResume) {
			return errs.New(errs.BusAlreadyPaused, "queue is already paused").AsWarning()
		}
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryPaused,
			Detail:      reason,
			TimestampMs: nowMs,
		})
		return nil
	})
	if err != nil {
		if errs.IsWarning(err) {
			m.logger.Warn().Str("player_id", playerID).Msg("pause requested on paused queue")
		}
		return nil, err
	}

	m.publish(events.NewEvent(events.EventQueuePaused, playerID, reason))
	return q, nil
}

// Resume lifts a pause. A pause taken with allowResume=false refuses
// normal resumption; force overrides it.
func (m *Manager) Resume(ctx context.Context, playerID string, force bool) (*types.TaskQueue, error) {
	var started bool
	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		started = false
		if !q.IsPaused {
			return errs.New(errs.BusNotPaused, "queue is not paused")
		}
		if !q.CanResume && !force {
			return errs.New(errs.BusResumeForbidden, "queue was paused without resume permission")
		}

		nowMs := m.now().UnixMilli()
		q.ResumeAt(nowMs)
		if q.CurrentTask == nil && q.Config.AutoStart {
			q.StartNextAt(nowMs)
			started = q.CurrentTask != nil
		}
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryResumed,
			TimestampMs: nowMs,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(events.NewEvent(events.EventQueueResumed, playerID, ""))
	if started {
		m.publish(events.NewEvent(events.EventTaskStarted, playerID, q.CurrentTask.Name).
			WithMeta("task_id", q.CurrentTask.ID))
	}
	return q, nil
}

// UpdateConfig overlays a partial config onto the queue. Shrinking the
// queue bound below the current length truncates the tail.
func (m *Manager) UpdateConfig(ctx context.Context, playerID string, patch *types.ConfigPatch) (*types.TaskQueue, error) {
	q, err := m.update(ctx, playerID, func(q *types.TaskQueue) error {
		next := patch.Apply(q.Config)
		if msg := types.ValidateConfig(next); msg != "" {
			return errs.New(errs.ValConfigInvalid, "%s", msg)
		}

		nowMs := m.now().UnixMilli()
		dropped := 0
		if len(q.QueuedTasks) > next.MaxQueueSize {
			dropped = len(q.QueuedTasks) - next.MaxQueueSize
			q.QueuedTasks = q.QueuedTasks[:next.MaxQueueSize]
		}
		q.Config = next
		q.RecordHistory(types.StateHistoryEntry{
			Kind:        types.HistoryConfigUpdated,
			Detail:      fmt.Sprintf("%d tasks truncated", dropped),
			TimestampMs: nowMs,
		})
		return nil
	})
	return q, err
}

// Statistics returns the derived per-queue summary. Results are cached
// for a minute per player (longer under severe load) and recomputed at
// most once concurrently; successful saves invalidate the entry.
func (m *Manager) Statistics(ctx context.Context, playerID string) (*types.QueueStatistics, error) {
	nowMs := m.now().UnixMilli()
	if v, ok := m.stats.Get(playerID); ok {
		if entry := v.(*statsEntry); nowMs < entry.expiresAt {
			return entry.stats, nil
		}
	}

	v, err, _ := m.group.Do(playerID, func() (interface{}, error) {
		q, err := m.persist.Load(ctx, playerID)
		if err != nil {
			return nil, err
		}
		nowMs := m.now().UnixMilli()
		stats := computeStatistics(q, nowMs)

		ttl := statsTTL
		if m.level() == monitor.LevelSevere {
			ttl = statsTTLDegraded
		}
		m.stats.Add(playerID, &statsEntry{stats: stats, expiresAt: nowMs + ttl.Milliseconds()})
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.QueueStatistics), nil
}

// Health summarizes queue condition: validator findings, staleness and
// saturation signals, with recommendations for anything off.
func (m *Manager) Health(ctx context.Context, playerID string) (*types.QueueHealth, error) {
	q, err := m.persist.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}

	nowMs := m.now().UnixMilli()
	h := &types.QueueHealth{
		PlayerID:    playerID,
		Overall:     types.HealthHealthy,
		CheckedAtMs: nowMs,
	}

	report := m.validator.Check(q)
	for _, f := range report.Errors {
		h.Issues = append(h.Issues, f.Message)
	}
	for _, f := range report.Warnings {
		h.Issues = append(h.Issues, f.Message)
	}
	if len(report.Errors) > 0 {
		h.Overall = types.HealthCritical
		h.Recommendations = append(h.Recommendations, "Run recovery for this queue")
	}

	warn := func(issue, rec string) {
		h.Issues = append(h.Issues, issue)
		h.Recommendations = append(h.Recommendations, rec)
		if h.Overall == types.HealthHealthy {
			h.Overall = types.HealthWarning
		}
	}

	if q.IsRunning && nowMs-q.LastUpdatedMs > 3*q.Config.SyncIntervalMs {
		warn("queue is running but has not been processed recently", "Check scheduler health")
	}
	if q.Config.MaxQueueSize > 0 && len(q.QueuedTasks)*10 >= q.Config.MaxQueueSize*9 {
		warn("queue is nearly full", "Complete or remove queued tasks")
	}
	if q.IsPaused && q.PausedAtMs > 0 && nowMs-q.PausedAtMs > 24*3600_000 {
		warn("queue has been paused for over a day", "Resume or clear the queue")
	}
	if ct := q.CurrentTask; ct != nil && ct.MaxRetries > 0 && ct.RetryCount >= ct.MaxRetries {
		warn("current task has exhausted its retries", "Remove the stuck task")
	}

	if len(report.Warnings) > 0 && h.Overall == types.HealthHealthy {
		h.Overall = types.HealthWarning
	}
	return h, nil
}

// update wraps persist.Update, creating the queue on first contact.
func (m *Manager) update(ctx context.Context, playerID string, mutate func(*types.TaskQueue) error) (*types.TaskQueue, error) {
	opts := persist.Options{ValidatePerConfig: true}
	q, err := m.persist.Update(ctx, playerID, mutate, opts)
	if err != nil && errs.IsCode(err, errs.PerNotFound) {
		if _, _, cerr := m.persist.GetOrCreate(ctx, playerID, m.defaults); cerr != nil {
			return nil, cerr
		}
		return m.persist.Update(ctx, playerID, mutate, opts)
	}
	return q, err
}

func (m *Manager) level() monitor.Level {
	if m.monitor == nil {
		return monitor.LevelNone
	}
	return m.monitor.Level()
}

func (m *Manager) publish(e *events.Event) {
	if m.broker != nil {
		m.broker.Publish(e)
	}
}

// insertTask places a task at the tail, or, with priority handling,
// before the first waiting task of strictly lower priority so equal
// priorities stay first-in-first-out. The in-flight task is never
// preempted.
func insertTask(q *types.TaskQueue, task *types.Task, priorityHandling bool) {
	if !priorityHandling {
		q.QueuedTasks = append(q.QueuedTasks, task)
		return
	}
	at := len(q.QueuedTasks)
	for i, t := range q.QueuedTasks {
		if t.Priority < task.Priority {
			at = i
			break
		}
	}
	q.QueuedTasks = append(q.QueuedTasks, nil)
	copy(q.QueuedTasks[at+1:], q.QueuedTasks[at:])
	q.QueuedTasks[at] = task
}

// validateTask enforces task shape before any storage work happens.
func validateTask(task *types.Task) error {
	switch {
	case task == nil:
		return errs.New(errs.ValMissingField, "task is required")
	case task.ID == "":
		return errs.New(errs.ValMissingField, "task id is required")
	case task.Name == "":
		return errs.New(errs.ValMissingField, "task name is required")
	case !types.ValidTaskType(task.Type):
		return errs.New(errs.ValBadEnum, "unknown task type %q", task.Type)
	case task.DurationMs <= 0:
		return errs.New(errs.ValDuration, "task duration must be positive, got %d", task.DurationMs)
	case task.Progress < 0 || task.Progress > 1:
		return errs.New(errs.ValProgressRange, "task progress %v is outside [0, 1]", task.Progress)
	case !task.Activity.HasVariant(task.Type):
		return errs.New(errs.ValTaskInvalid, "task %s has no %s activity data", task.ID, task.Type)
	case len(task.ValidationErrors) > 0:
		return errs.New(errs.ValTaskInvalid, "task %s was rejected upstream: %v", task.ID, task.ValidationErrors)
	}
	return nil
}

// checkGates enforces the domain-evaluated prerequisite and resource
// flags.
func checkGates(task *types.Task) error {
	for _, p := range task.Prerequisites {
		if !p.Met {
			return errs.New(errs.BusPrereqNotMet,
				"prerequisite %s/%s not met", p.Kind, p.ID)
		}
	}
	for _, r := range task.Requirements {
		if !r.Sufficient {
			return errs.New(errs.BusInsufficientResources,
				"need %d of %s, have %d", r.Required, r.ResourceID, r.Available)
		}
	}
	return nil
}

// computeStatistics derives the summary the stats cache serves.
func computeStatistics(q *types.TaskQueue, nowMs int64) *types.QueueStatistics {
	stats := &types.QueueStatistics{
		PlayerID:       q.PlayerID,
		TasksCompleted: q.Totals.TasksCompleted,
		TasksFailed:    q.Totals.TasksFailed,
		TimeSpentMs:    q.Totals.TimeSpentMs,
		QueuedCount:    len(q.QueuedTasks),
		ComputedAtMs:   nowMs,
	}

	if q.Totals.TasksCompleted > 0 {
		stats.AverageTaskDurationMs = q.Totals.TimeSpentMs / q.Totals.TasksCompleted
	}

	var remaining int64
	if q.CurrentTask != nil {
		remaining += q.CurrentTask.RemainingMs(nowMs)
	}
	stats.EstimatedClearMs = remaining + q.TotalQueuedDurationMs()

	var retries int64
	for _, t := range q.QueuedTasks {
		retries += int64(t.RetryCount)
	}
	if q.CurrentTask != nil {
		retries += int64(q.CurrentTask.RetryCount)
	}

	denom := float64(q.Totals.TasksCompleted + int64(len(q.QueuedTasks)))
	if denom > 0 {
		stats.CompletionRate = float64(q.Totals.TasksCompleted) / denom
		stats.ErrorRate = float64(retries) / denom
	}

	if uptime := q.UptimeMs(nowMs); uptime > 0 {
		util := float64(q.Totals.TimeSpentMs) / float64(uptime)
		if util > 1 {
			util = 1
		}
		stats.Utilization = util
	}
	stats.EfficiencyScore = 0.6*stats.Utilization + 0.4*stats.CompletionRate
	return stats
}
