package integrity

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/types"
)

// RepairAction names one bounded mutation applied during repair
type RepairAction string

const (
	ActionUpdateChecksum    RepairAction = "update_checksum"
	ActionFixTimestamps     RepairAction = "fix_timestamps"
	ActionRemoveInvalidTask RepairAction = "remove_invalid_task"
	ActionRecalculateStats  RepairAction = "recalculate_stats"
	ActionResetState        RepairAction = "reset_state"
	ActionTrimHistory       RepairAction = "trim_history"
)

// RepairResult records what a repair pass did to a queue.
type RepairResult struct {
	Applied        []RepairAction
	RemovedTaskIDs []string
	RepairedAtMs   int64
}

// Changed reports whether the repair touched anything.
func (r *RepairResult) Changed() bool {
	return len(r.Applied) > 0
}

// Repairer applies bounded repair actions to queues whose validation
// report is repairable. Critical findings are never repaired.
type Repairer struct {
	validator *Validator
	now       func() time.Time
}

// NewRepairer returns a repairer that re-validates through v.
func NewRepairer(v *Validator) *Repairer {
	return &Repairer{validator: v, now: time.Now}
}

// WithClock replaces the clock; tests use this to pin time.
func (rp *Repairer) WithClock(now func() time.Time) *Repairer {
	rp.now = now
	return rp
}

// Repair mutates q in place to clear every repairable finding in the
// report and returns what it did. The caller persists the result; the
// persisted save advances the version. Fails with PER_QUEUE_UNREPAIRABLE
// when the report carries a critical finding.
func (rp *Repairer) Repair(q *types.TaskQueue, report *Report) (*RepairResult, error) {
	if report == nil {
		report = rp.validator.Check(q)
	}
	if report.HasCritical() {
		return nil, errs.New(errs.PerQueueUnrepairable,
			"queue %s has critical integrity errors", q.PlayerID)
	}

	nowMs := rp.now().UnixMilli()
	result := &RepairResult{RepairedAtMs: nowMs}
	logger := log.WithPlayerID(q.PlayerID)

	for _, f := range append(append([]Finding{}, report.Errors...), report.Warnings...) {
		switch f.Code {
		case CheckFutureTimestamp:
			rp.fixTimestamps(q, nowMs)
			result.apply(ActionFixTimestamps)

		case CheckDuplicateTaskIDs:
			removed := rp.removeDuplicates(q)
			result.RemovedTaskIDs = append(result.RemovedTaskIDs, removed...)
			result.apply(ActionRemoveInvalidTask)

		case CheckQueueSizeExceeded:
			removed := rp.truncateQueue(q)
			result.RemovedTaskIDs = append(result.RemovedTaskIDs, removed...)
			result.apply(ActionRemoveInvalidTask)

		case CheckNegativeStats:
			rp.clampStats(q)
			result.apply(ActionRecalculateStats)

		case CheckOrphanedCurrentTask:
			q.CurrentTask = nil
			q.IsRunning = false
			result.apply(ActionResetState)

		case CheckHistorySizeExceeded:
			rp.trimHistory(q)
			result.apply(ActionTrimHistory)

		case CheckChecksumMismatch:
			// Recomputed below once all other actions have run.
		}
	}

	// Every repair ends by restamping the checksum over the repaired
	// state so the record validates clean on the next load.
	q.Checksum = Checksum(q)
	q.LastValidatedMs = nowMs
	result.apply(ActionUpdateChecksum)

	q.RecordHistory(types.StateHistoryEntry{
		Kind:        types.HistoryRepaired,
		Detail:      fmt.Sprintf("%d actions", len(result.Applied)),
		TimestampMs: nowMs,
	})

	logger.Info().
		Int("actions", len(result.Applied)).
		Int("removed_tasks", len(result.RemovedTaskIDs)).
		Msg("repaired queue")

	return result, nil
}

func (rp *Repairer) fixTimestamps(q *types.TaskQueue, nowMs int64) {
	if q.LastUpdatedMs > nowMs {
		q.LastUpdatedMs = nowMs
	}
	if q.CreatedAtMs > nowMs {
		q.CreatedAtMs = nowMs
	}
	if q.LastSyncedMs > nowMs {
		q.LastSyncedMs = nowMs
	}
	if q.LastValidatedMs > nowMs {
		q.LastValidatedMs = nowMs
	}
}

// removeDuplicates keeps the first occurrence of each task id; the
// current task always wins over queued copies.
func (rp *Repairer) removeDuplicates(q *types.TaskQueue) []string {
	seen := mapset.NewSet[string]()
	if q.CurrentTask != nil && q.CurrentTask.ID != "" {
		seen.Add(q.CurrentTask.ID)
	}
	var removed []string
	kept := q.QueuedTasks[:0]
	for _, t := range q.QueuedTasks {
		if seen.Add(t.ID) {
			kept = append(kept, t)
			continue
		}
		removed = append(removed, t.ID)
	}
	q.QueuedTasks = kept
	return removed
}

// truncateQueue drops tasks from the tail until the configured bound
// holds again.
func (rp *Repairer) truncateQueue(q *types.TaskQueue) []string {
	max := q.Config.MaxQueueSize
	if max <= 0 || len(q.QueuedTasks) <= max {
		return nil
	}
	var removed []string
	for _, t := range q.QueuedTasks[max:] {
		removed = append(removed, t.ID)
	}
	q.QueuedTasks = q.QueuedTasks[:max]
	return removed
}

func (rp *Repairer) clampStats(q *types.TaskQueue) {
	if q.Totals.TasksCompleted < 0 {
		q.Totals.TasksCompleted = 0
	}
	if q.Totals.TasksFailed < 0 {
		q.Totals.TasksFailed = 0
	}
	if q.Totals.TimeSpentMs < 0 {
		q.Totals.TimeSpentMs = 0
	}
	if q.TotalPauseTimeMs < 0 {
		q.TotalPauseTimeMs = 0
	}
}

// trimHistory keeps the newest entries up to the configured bound.
func (rp *Repairer) trimHistory(q *types.TaskQueue) {
	max := q.Config.MaxHistorySize
	if max <= 0 || len(q.History) <= max {
		return
	}
	q.History = q.History[len(q.History)-max:]
}

func (r *RepairResult) apply(a RepairAction) {
	for _, existing := range r.Applied {
		if existing == a {
			return
		}
	}
	r.Applied = append(r.Applied, a)
}
