package scheduler

import (
	"github.com/emberhollow/taskmill/pkg/rewards"
	"github.com/emberhollow/taskmill/pkg/types"
)

// Progress summarizes one advancement pass over a queue.
type Progress struct {
	// Completed holds the tasks that finished during the pass, in
	// completion order.
	Completed []*types.Task
	// Failed holds the tasks that failed permanently during the pass.
	Failed []*types.Task
	// Rewards are the rewards credited during the pass, merged by kind
	// and item.
	Rewards []types.Reward
	// Dirty reports whether the pass changed state that must be
	// persisted. Plain progress-fraction movement does not set it; that
	// is recomputed from absolute times on the next pass.
	Dirty bool
}

// Advance applies elapsed wall time through nowMs to the queue: credits
// whole-minute activity rewards, completes tasks whose window has
// closed, and starts successors at the instant their predecessor
// finished. The offline reconciler replays this same function over a
// gap, which is what keeps live ticking and offline catch-up
// observationally equivalent.
func Advance(q *types.TaskQueue, nowMs int64, reg *rewards.Registry, stats *types.PlayerStats) *Progress {
	prog := &Progress{}
	if q.IsPaused {
		return prog
	}
	if q.CurrentTask != nil && !q.IsRunning {
		q.IsRunning = true
		prog.Dirty = true
	}

	for q.CurrentTask != nil {
		ct := q.CurrentTask
		if ct.StartTimeMs == 0 {
			ct.StartTimeMs = nowMs
			ct.EstimatedCompletionMs = nowMs + ct.DurationMs
			prog.Dirty = true
		}
		if ct.StartTimeMs > nowMs {
			break
		}

		endMs := ct.StartTimeMs + ct.DurationMs
		horizon := nowMs
		if endMs < horizon {
			horizon = endMs
		}

		if err := credit(q, ct, horizon, reg, stats, prog); err != nil {
			if !fail(q, ct, nowMs, err, prog) {
				break
			}
			continue
		}

		ct.Progress = float64(horizon-ct.StartTimeMs) / float64(ct.DurationMs)
		if endMs > nowMs {
			break
		}
		complete(q, ct, endMs, prog)
	}
	return prog
}

// credit grants the rewards for whole minutes crossed since the task's
// watermark. Calculators are cumulative in elapsed minutes, so the
// grant is the difference between the cumulative totals at the new and
// old watermarks; summed over any tick spacing it telescopes to the
// same totals a single pass over the whole span would produce.
func credit(q *types.TaskQueue, ct *types.Task, horizonMs int64, reg *rewards.Registry, stats *types.PlayerStats, prog *Progress) error {
	minutes := (horizonMs - ct.StartTimeMs) / 60_000
	if minutes <= ct.RewardedMinutes {
		return nil
	}
	cur, err := reg.Calculate(ct.Type, &ct.Activity, minutes, stats)
	if err != nil {
		return err
	}
	prev, err := reg.Calculate(ct.Type, &ct.Activity, ct.RewardedMinutes, stats)
	if err != nil {
		return err
	}

	ct.RewardedMinutes = minutes
	earned := rewards.Diff(cur, prev)
	if len(earned) == 0 {
		return nil
	}
	ct.Rewards = rewards.Merge(ct.Rewards, earned)
	q.Totals.RewardsEarned = rewards.Merge(q.Totals.RewardsEarned, earned)
	prog.Rewards = rewards.Merge(prog.Rewards, earned)
	prog.Dirty = true
	return nil
}

// fail counts a task failure. While retries remain the task stays in
// flight for the next pass; once exhausted it is dropped, the failure
// recorded, and the queue either pauses (pause_on_error) or moves on.
// Reports whether the pass may keep advancing.
func fail(q *types.TaskQueue, ct *types.Task, nowMs int64, cause error, prog *Progress) bool {
	ct.RetryCount++
	prog.Dirty = true

	max := ct.MaxRetries
	if max <= 0 {
		max = q.Config.MaxRetries
	}
	if q.Config.RetryEnabled && ct.RetryCount <= max {
		return false
	}

	ct.ValidationErrors = append(ct.ValidationErrors, cause.Error())
	q.Totals.TasksFailed++
	q.RecordHistory(types.StateHistoryEntry{
		Kind:        types.HistoryTaskFailed,
		TaskID:      ct.ID,
		Detail:      cause.Error(),
		TimestampMs: nowMs,
	})
	prog.Failed = append(prog.Failed, ct)

	if q.Config.PauseOnError {
		q.CurrentTask = nil
		q.PauseAt(nowMs, "Task failed: "+ct.ID, true)
		return false
	}
	q.StartNextAt(nowMs)
	return true
}

func complete(q *types.TaskQueue, ct *types.Task, endMs int64, prog *Progress) {
	ct.Progress = 1
	ct.Completed = true
	ct.EstimatedCompletionMs = endMs
	q.Totals.TasksCompleted++
	q.Totals.TimeSpentMs += ct.DurationMs
	q.RecordHistory(types.StateHistoryEntry{
		Kind:        types.HistoryTaskCompleted,
		TaskID:      ct.ID,
		TimestampMs: endMs,
	})
	prog.Completed = append(prog.Completed, ct)
	prog.Dirty = true

	// The successor starts at the completion instant, not at nowMs, so
	// no active time is lost between tasks inside one pass.
	q.StartNextAt(endMs)
}
