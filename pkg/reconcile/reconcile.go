package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/events"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/rewards"
	"github.com/emberhollow/taskmill/pkg/scheduler"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

// MaxOfflineMinutes caps how much elapsed time one catch-up credits.
// Anything beyond it is forfeited, not banked.
const MaxOfflineMinutes = 1440

// errNothingToDo aborts an update that would not change the queue.
var errNothingToDo = errors.New("nothing to reconcile")

// Report summarizes one offline catch-up.
type Report struct {
	PlayerID string
	// GapMs is the raw wall-clock gap since the queue was last written.
	GapMs int64
	// CreditedMinutes is the whole-minute span actually applied, after
	// the 24 h clamp.
	CreditedMinutes int64
	// Clamped reports that the gap exceeded MaxOfflineMinutes.
	Clamped   bool
	Completed []*types.Task
	Failed    []*types.Task
	Rewards   []types.Reward
	// Queue is the saved post-reconciliation state; nil when nothing was
	// written.
	Queue *types.TaskQueue
}

// Reconciler replays elapsed offline time through the same advancement
// step the live scheduler uses, so a returning player ends up with
// exactly the state continuous ticking would have produced.
type Reconciler struct {
	persist *persist.Store
	rewards *rewards.Registry
	stats   scheduler.StatsProvider
	journal storage.Store
	broker  *events.Broker

	now    func() time.Time
	logger zerolog.Logger
}

// New returns a reconciler over the given persist layer.
func New(ps *persist.Store, reg *rewards.Registry) *Reconciler {
	return &Reconciler{
		persist: ps,
		rewards: reg,
		now:     time.Now,
		logger:  log.WithComponent("reconcile"),
	}
}

// WithStats wires the player-stats provider.
func (r *Reconciler) WithStats(sp scheduler.StatsProvider) *Reconciler {
	r.stats = sp
	return r
}

// WithJournal wires the completions journal, so offline completions are
// recorded the same way live ones are.
func (r *Reconciler) WithJournal(st storage.Store) *Reconciler {
	r.journal = st
	return r
}

// WithBroker wires the event broker.
func (r *Reconciler) WithBroker(b *events.Broker) *Reconciler {
	r.broker = b
	return r
}

// WithClock replaces the clock; tests use this to pin time.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile catches one player's queue up to the present. Gaps under a
// minute are ignored; gaps over 24 hours are clamped, and the stretch
// beyond the clamp is treated like a pause so it can never be credited
// later. Queues that are paused, idle or unchanged are left unwritten.
func (r *Reconciler) Reconcile(ctx context.Context, playerID string) (*Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

	stats, err := r.playerStats(ctx, playerID)
	if err != nil {
		return nil, err
	}

	nowMs := r.now().UnixMilli()
	var out *Report
	var prog *scheduler.Progress
	var prevCurrentID string

	q, err := r.persist.Update(ctx, playerID, func(q *types.TaskQueue) error {
		out = &Report{PlayerID: playerID}
		prog = nil
		prevCurrentID = ""

		if !q.Config.OfflineProcessingEnabled || q.IsPaused {
			return errNothingToDo
		}
		gap := nowMs - q.LastUpdatedMs
		minutes := gap / 60_000
		if minutes < 1 {
			return errNothingToDo
		}
		out.GapMs = gap
		out.CreditedMinutes = minutes

		horizon := nowMs
		if minutes > MaxOfflineMinutes {
			out.CreditedMinutes = MaxOfflineMinutes
			out.Clamped = true
			horizon = q.LastUpdatedMs + MaxOfflineMinutes*60_000
		}
		if q.CurrentTask != nil {
			prevCurrentID = q.CurrentTask.ID
		}

		prog = scheduler.Advance(q, horizon, r.rewards, stats)

		shifted := false
		if out.Clamped && q.CurrentTask != nil && !q.IsPaused {
			// Forfeit the stretch beyond the clamp: shift the in-flight
			// start forward so the next pass cannot re-credit it.
			ct := q.CurrentTask
			ct.StartTimeMs += nowMs - horizon
			ct.EstimatedCompletionMs = ct.StartTimeMs + ct.DurationMs
			shifted = true
		}
		if !prog.Dirty && !shifted {
			return errNothingToDo
		}

		q.LastSyncedMs = nowMs
		out.Completed = prog.Completed
		out.Failed = prog.Failed
		out.Rewards = prog.Rewards
		return nil
	}, persist.Options{ValidatePerConfig: true})
	if errors.Is(err, errNothingToDo) {
		return &Report{PlayerID: playerID}, nil
	}
	if err != nil {
		return nil, err
	}
	out.Queue = q

	r.afterSave(ctx, q, out, prevCurrentID)
	metrics.OfflineMinutesCredited.Add(float64(out.CreditedMinutes))

	r.logger.Info().
		Str("player_id", playerID).
		Int64("credited_minutes", out.CreditedMinutes).
		Bool("clamped", out.Clamped).
		Int("completed", len(out.Completed)).
		Msg("offline progress reconciled")
	return out, nil
}

func (r *Reconciler) afterSave(ctx context.Context, q *types.TaskQueue, out *Report, prevCurrentID string) {
	for _, task := range out.Completed {
		r.journalCompletion(ctx, q.PlayerID, task)
		metrics.TasksCompletedTotal.WithLabelValues(string(task.Type)).Inc()
		for _, rw := range task.Rewards {
			metrics.RewardsGrantedTotal.WithLabelValues(string(rw.Kind)).Add(float64(rw.Quantity))
		}
		r.publish(events.NewEvent(events.EventTaskCompleted, q.PlayerID, task.Name).
			WithMeta("task_id", task.ID).
			WithMeta("offline", "true"))
	}
	for _, task := range out.Failed {
		metrics.TasksFailedTotal.WithLabelValues(string(task.Type)).Inc()
		r.publish(events.NewEvent(events.EventTaskFailed, q.PlayerID, task.Name).
			WithMeta("task_id", task.ID).
			WithMeta("offline", "true"))
	}
	if ct := q.CurrentTask; ct != nil && ct.ID != prevCurrentID {
		r.publish(events.NewEvent(events.EventTaskStarted, q.PlayerID, ct.Name).
			WithMeta("task_id", ct.ID))
	}
	if q.IsPaused && prevCurrentID != "" && q.CurrentTask == nil {
		r.publish(events.NewEvent(events.EventQueuePaused, q.PlayerID, q.PauseReason))
	}
}

func (r *Reconciler) journalCompletion(ctx context.Context, playerID string, task *types.Task) {
	if r.journal == nil {
		return
	}
	rec := scheduler.CompletionRecord{
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
	if _, err := r.journal.Append(ctx, storage.LogCompletions, blob); err != nil {
		r.logger.Warn().Err(err).Str("player_id", playerID).Msg("completion journal append failed")
	}
}

func (r *Reconciler) playerStats(ctx context.Context, playerID string) (*types.PlayerStats, error) {
	if r.stats == nil {
		return nil, nil
	}
	stats, err := r.stats(ctx, playerID)
	if err != nil {
		return nil, errs.Wrap(errs.SysInternal, err, "failed to resolve stats for %s", playerID)
	}
	return stats, nil
}

func (r *Reconciler) publish(e *events.Event) {
	if r.broker != nil {
		r.broker.Publish(e)
	}
}
