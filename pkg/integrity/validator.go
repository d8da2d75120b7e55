package integrity

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emberhollow/taskmill/pkg/types"
)

// Severity ranks a validation finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// CheckCode identifies one validation check
type CheckCode string

const (
	CheckMissingPlayerID     CheckCode = "MISSING_PLAYER_ID"
	CheckChecksumMismatch    CheckCode = "CHECKSUM_MISMATCH"
	CheckFutureTimestamp     CheckCode = "FUTURE_TIMESTAMP"
	CheckOrphanedCurrentTask CheckCode = "ORPHANED_CURRENT_TASK"
	CheckDuplicateTaskIDs    CheckCode = "DUPLICATE_TASK_IDS"
	CheckQueueSizeExceeded   CheckCode = "QUEUE_SIZE_EXCEEDED"
	CheckHistorySizeExceeded CheckCode = "HISTORY_SIZE_EXCEEDED"
	CheckNegativeStats       CheckCode = "NEGATIVE_STATS"
)

// Finding is one problem found in a queue. TaskIDs names the tasks the
// finding applies to when the check is task-scoped.
type Finding struct {
	Code     CheckCode
	Severity Severity
	Message  string
	TaskIDs  []string
}

// Report is the outcome of validating one queue. Errors hold critical
// and major findings; Warnings hold minor ones.
type Report struct {
	PlayerID       string
	Errors         []Finding
	Warnings       []Finding
	IntegrityScore int
	CanRepair      bool
	CheckedAtMs    int64
}

// Valid reports whether the queue passed every check.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// HasCritical reports whether any finding is critical.
func (r *Report) HasCritical() bool {
	for _, f := range r.Errors {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Has reports whether the report contains a finding with the given code.
func (r *Report) Has(code CheckCode) bool {
	for _, f := range r.Errors {
		if f.Code == code {
			return true
		}
	}
	for _, f := range r.Warnings {
		if f.Code == code {
			return true
		}
	}
	return false
}

// Validator runs the integrity checks against a queue. The zero value
// is not usable; construct with NewValidator.
type Validator struct {
	// ClockSkewToleranceMs is how far into the future a timestamp may
	// sit before it counts as corrupt.
	ClockSkewToleranceMs int64

	now func() time.Time
}

// NewValidator returns a validator using the wall clock.
func NewValidator() *Validator {
	return &Validator{
		ClockSkewToleranceMs: 5_000,
		now:                  time.Now,
	}
}

// WithClock replaces the clock; tests use this to pin time.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Check runs every validation check against q and returns the report.
// The queue is not modified.
func (v *Validator) Check(q *types.TaskQueue) *Report {
	nowMs := v.now().UnixMilli()
	r := &Report{PlayerID: q.PlayerID, CheckedAtMs: nowMs}

	v.checkPlayerID(q, r)
	v.checkChecksum(q, r)
	v.checkTimestamps(q, nowMs, r)
	v.checkCurrentTask(q, r)
	v.checkDuplicateIDs(q, r)
	v.checkQueueSize(q, r)
	v.checkHistorySize(q, r)
	v.checkStats(q, r)

	r.IntegrityScore = score(len(r.Errors), len(r.Warnings))
	r.CanRepair = !r.HasCritical()
	return r
}

func score(errors, warnings int) int {
	s := 100 - 20*errors - 5*warnings
	if s < 0 {
		return 0
	}
	return s
}

func (v *Validator) checkPlayerID(q *types.TaskQueue, r *Report) {
	if q.PlayerID == "" {
		r.add(Finding{
			Code:     CheckMissingPlayerID,
			Severity: SeverityCritical,
			Message:  "queue has no player id",
		})
	}
}

func (v *Validator) checkChecksum(q *types.TaskQueue, r *Report) {
	if q.Checksum == "" {
		// Never saved; nothing to compare against.
		return
	}
	if computed := Checksum(q); computed != q.Checksum {
		r.add(Finding{
			Code:     CheckChecksumMismatch,
			Severity: SeverityMajor,
			Message:  fmt.Sprintf("stored checksum %.8s does not match computed %.8s", q.Checksum, computed),
		})
	}
}

func (v *Validator) checkTimestamps(q *types.TaskQueue, nowMs int64, r *Report) {
	limit := nowMs + v.ClockSkewToleranceMs
	if q.LastUpdatedMs > limit {
		r.add(Finding{
			Code:     CheckFutureTimestamp,
			Severity: SeverityMinor,
			Message:  fmt.Sprintf("last_updated %d is %dms in the future", q.LastUpdatedMs, q.LastUpdatedMs-nowMs),
		})
	} else if q.CreatedAtMs > limit {
		r.add(Finding{
			Code:     CheckFutureTimestamp,
			Severity: SeverityMinor,
			Message:  fmt.Sprintf("created_at %d is %dms in the future", q.CreatedAtMs, q.CreatedAtMs-nowMs),
		})
	}
}

// checkCurrentTask flags queues whose in-flight slot is not
// self-consistent: a running flag with no task, or a current task that
// does not belong to this queue.
func (v *Validator) checkCurrentTask(q *types.TaskQueue, r *Report) {
	if q.CurrentTask == nil {
		if q.IsRunning {
			r.add(Finding{
				Code:     CheckOrphanedCurrentTask,
				Severity: SeverityMajor,
				Message:  "queue is marked running with no current task",
			})
		}
		return
	}
	ct := q.CurrentTask
	switch {
	case ct.ID == "":
		r.add(Finding{
			Code:     CheckOrphanedCurrentTask,
			Severity: SeverityMajor,
			Message:  "current task has no id",
		})
	case ct.PlayerID != "" && ct.PlayerID != q.PlayerID:
		r.add(Finding{
			Code:     CheckOrphanedCurrentTask,
			Severity: SeverityMajor,
			Message:  fmt.Sprintf("current task %s belongs to player %s", ct.ID, ct.PlayerID),
			TaskIDs:  []string{ct.ID},
		})
	case ct.DurationMs <= 0:
		r.add(Finding{
			Code:     CheckOrphanedCurrentTask,
			Severity: SeverityMajor,
			Message:  fmt.Sprintf("current task %s has non-positive duration", ct.ID),
			TaskIDs:  []string{ct.ID},
		})
	}
}

func (v *Validator) checkDuplicateIDs(q *types.TaskQueue, r *Report) {
	seen := mapset.NewSet[string]()
	if q.CurrentTask != nil && q.CurrentTask.ID != "" {
		seen.Add(q.CurrentTask.ID)
	}
	var dups []string
	for _, t := range q.QueuedTasks {
		if !seen.Add(t.ID) {
			dups = append(dups, t.ID)
		}
	}
	if len(dups) > 0 {
		r.add(Finding{
			Code:     CheckDuplicateTaskIDs,
			Severity: SeverityMajor,
			Message:  fmt.Sprintf("%d duplicated task ids", len(dups)),
			TaskIDs:  dups,
		})
	}
}

func (v *Validator) checkQueueSize(q *types.TaskQueue, r *Report) {
	max := q.Config.MaxQueueSize
	if max > 0 && len(q.QueuedTasks) > max {
		r.add(Finding{
			Code:     CheckQueueSizeExceeded,
			Severity: SeverityMinor,
			Message:  fmt.Sprintf("%d queued tasks exceed the limit of %d", len(q.QueuedTasks), max),
		})
	}
}

func (v *Validator) checkHistorySize(q *types.TaskQueue, r *Report) {
	max := q.Config.MaxHistorySize
	if max > 0 && len(q.History) > max {
		r.add(Finding{
			Code:     CheckHistorySizeExceeded,
			Severity: SeverityMinor,
			Message:  fmt.Sprintf("%d history entries exceed the limit of %d", len(q.History), max),
		})
	}
}

func (v *Validator) checkStats(q *types.TaskQueue, r *Report) {
	var bad []string
	if q.Totals.TasksCompleted < 0 {
		bad = append(bad, "tasks_completed")
	}
	if q.Totals.TasksFailed < 0 {
		bad = append(bad, "tasks_failed")
	}
	if q.Totals.TimeSpentMs < 0 {
		bad = append(bad, "time_spent")
	}
	if q.TotalPauseTimeMs < 0 {
		bad = append(bad, "total_pause_time")
	}
	if len(bad) > 0 {
		r.add(Finding{
			Code:     CheckNegativeStats,
			Severity: SeverityMajor,
			Message:  fmt.Sprintf("negative counters: %v", bad),
		})
	}
}

func (r *Report) add(f Finding) {
	if f.Severity == SeverityMinor {
		r.Warnings = append(r.Warnings, f)
		return
	}
	r.Errors = append(r.Errors, f)
}
