package types

// TaskQueue is the per-player queue record. It is persisted as a single
// blob guarded by Version; all mutation flows through conditional writes.
type TaskQueue struct {
	PlayerID string

	CurrentTask *Task
	QueuedTasks []*Task

	IsRunning   bool
	IsPaused    bool
	PauseReason string
	PausedAtMs  int64
	ResumedAtMs int64
	// TotalPauseTimeMs accumulates completed pause intervals only.
	TotalPauseTimeMs int64
	CanResume        bool

	Totals QueueTotals
	Config QueueConfig

	CreatedAtMs     int64
	LastUpdatedMs   int64
	LastSyncedMs    int64
	LastValidatedMs int64
	LastSnapshotMs  int64

	// Version is the optimistic-concurrency counter; it advances by one
	// on every successful save. SchemaVersion identifies the record
	// layout and only changes through migrations.
	Version       int64
	SchemaVersion int64
	Checksum      string

	History []StateHistoryEntry
}

// QueueTotals are lifetime counters for a queue. They change only when a
// task completes or fails, never on partial progress.
type QueueTotals struct {
	TasksCompleted int64
	TasksFailed    int64
	TimeSpentMs    int64
	RewardsEarned  []Reward
}

// HistoryKind labels a state-history entry
type HistoryKind string

const (
	HistoryTaskAdded     HistoryKind = "task_added"
	HistoryTaskRemoved   HistoryKind = "task_removed"
	HistoryTaskCompleted HistoryKind = "task_completed"
	HistoryTaskFailed    HistoryKind = "task_failed"
	HistoryPaused        HistoryKind = "paused"
	HistoryResumed       HistoryKind = "resumed"
	HistoryCleared       HistoryKind = "cleared"
	HistoryReordered     HistoryKind = "reordered"
	HistoryConfigUpdated HistoryKind = "config_updated"
	HistoryRepaired      HistoryKind = "repaired"
	HistoryRecovered     HistoryKind = "recovered"
	HistoryRestored      HistoryKind = "restored"
	HistoryMigrated      HistoryKind = "migrated"
)

// StateHistoryEntry records one significant queue transition.
type StateHistoryEntry struct {
	Kind        HistoryKind
	TaskID      string
	Detail      string
	TimestampMs int64
}

// CurrentSchemaVersion is the record layout written by this build.
const CurrentSchemaVersion int64 = 1

// PauseReasonOverload marks queues paused by the system under resource
// pressure rather than by the player. Pauses carrying it are lifted
// automatically once the degradation level clears.
const PauseReasonOverload = "System overload"

// NewTaskQueue returns an empty queue for a player at the given creation
// time. Version stays 0 until the first successful save.
func NewTaskQueue(playerID string, cfg QueueConfig, nowMs int64) *TaskQueue {
	return &TaskQueue{
		PlayerID:      playerID,
		QueuedTasks:   []*Task{},
		CanResume:     true,
		Config:        cfg,
		CreatedAtMs:   nowMs,
		LastUpdatedMs: nowMs,
		SchemaVersion: CurrentSchemaVersion,
		History:       []StateHistoryEntry{},
	}
}

// QueuedIDs returns the ids of waiting tasks in queue order.
func (q *TaskQueue) QueuedIDs() []string {
	ids := make([]string, 0, len(q.QueuedTasks))
	for _, t := range q.QueuedTasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// FindQueued returns the waiting task with the given id, or nil.
func (q *TaskQueue) FindQueued(id string) *Task {
	for _, t := range q.QueuedTasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// RemoveQueued drops the waiting task with the given id and reports
// whether it was present.
func (q *TaskQueue) RemoveQueued(id string) bool {
	for i, t := range q.QueuedTasks {
		if t.ID == id {
			q.QueuedTasks = append(q.QueuedTasks[:i], q.QueuedTasks[i+1:]...)
			return true
		}
	}
	return false
}

// TotalQueuedDurationMs sums the durations of all waiting tasks.
func (q *TaskQueue) TotalQueuedDurationMs() int64 {
	var total int64
	for _, t := range q.QueuedTasks {
		total += t.DurationMs
	}
	return total
}

// StartNextAt pops the head of the waiting list into CurrentTask and
// starts it at nowMs. Returns false when the queue is empty, in which
// case the queue stops running.
func (q *TaskQueue) StartNextAt(nowMs int64) bool {
	if len(q.QueuedTasks) == 0 {
		q.CurrentTask = nil
		q.IsRunning = false
		return false
	}
	next := q.QueuedTasks[0]
	q.QueuedTasks = q.QueuedTasks[1:]
	next.StartTimeMs = nowMs
	next.Progress = 0
	next.EstimatedCompletionMs = nowMs + next.DurationMs
	q.CurrentTask = next
	q.IsRunning = true
	return true
}

// PauseAt pauses the queue. Pausing an already-paused queue is a no-op
// and reports false. An empty reason is rejected upstream; callers must
// supply one. The running flag drops while paused; ResumeAt restores it
// when a task is in flight.
func (q *TaskQueue) PauseAt(nowMs int64, reason string, canResume bool) bool {
	if q.IsPaused {
		return false
	}
	q.IsPaused = true
	q.IsRunning = false
	q.PauseReason = reason
	q.PausedAtMs = nowMs
	q.CanResume = canResume
	return true
}

// ResumeAt lifts a pause at nowMs, folding the completed pause interval
// into TotalPauseTimeMs and shifting the in-flight task's start so that
// paused time never counts as active time.
func (q *TaskQueue) ResumeAt(nowMs int64) {
	if !q.IsPaused {
		return
	}
	var paused int64
	if q.PausedAtMs > 0 && nowMs > q.PausedAtMs {
		paused = nowMs - q.PausedAtMs
	}
	q.TotalPauseTimeMs += paused
	q.IsPaused = false
	q.PauseReason = ""
	q.PausedAtMs = 0
	q.ResumedAtMs = nowMs
	q.CanResume = true
	if q.CurrentTask != nil {
		if q.CurrentTask.StartTimeMs > 0 {
			q.CurrentTask.StartTimeMs += paused
			q.CurrentTask.EstimatedCompletionMs = q.CurrentTask.StartTimeMs + q.CurrentTask.DurationMs
		}
		q.IsRunning = true
	}
}

// ClearAt empties the queue and resets the run/pause state. Lifetime
// totals are kept.
func (q *TaskQueue) ClearAt(nowMs int64) {
	q.CurrentTask = nil
	q.QueuedTasks = []*Task{}
	q.IsRunning = false
	q.IsPaused = false
	q.PauseReason = ""
	q.PausedAtMs = 0
	q.CanResume = true
}

// RecordHistory appends a state-history entry, trimming the ring to the
// configured bound (oldest first).
func (q *TaskQueue) RecordHistory(e StateHistoryEntry) {
	q.History = append(q.History, e)
	max := q.Config.MaxHistorySize
	if max > 0 && len(q.History) > max {
		q.History = q.History[len(q.History)-max:]
	}
}

// UptimeMs is wall-clock age minus accumulated pause time, floored at
// zero. An open pause interval at nowMs is included.
func (q *TaskQueue) UptimeMs(nowMs int64) int64 {
	up := nowMs - q.CreatedAtMs - q.TotalPauseTimeMs
	if q.IsPaused && q.PausedAtMs > 0 && nowMs > q.PausedAtMs {
		up -= nowMs - q.PausedAtMs
	}
	if up < 0 {
		return 0
	}
	return up
}

// SnapshotReason records why a snapshot was taken
type SnapshotReason string

const (
	SnapshotReasonPeriodic     SnapshotReason = "periodic"
	SnapshotReasonBeforeUpdate SnapshotReason = "before-update"
	SnapshotReasonManual       SnapshotReason = "manual"
	SnapshotReasonRecovery     SnapshotReason = "recovery"
)

// Snapshot is a point-in-time compressed copy of a queue.
type Snapshot struct {
	ID            string
	PlayerID      string
	TimestampMs   int64
	Reason        SnapshotReason
	Version       int64 // queue version captured
	SchemaVersion int64
	Checksum      string // canonical checksum of the captured queue
	TTLSeconds    int64
	Data          []byte // snappy-compressed queue blob
}

// MigrationStatus tracks a migration run's lifecycle
type MigrationStatus string

const (
	MigrationPending    MigrationStatus = "pending"
	MigrationInProgress MigrationStatus = "in-progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
	MigrationRolledBack MigrationStatus = "rolled-back"
)

// MigrationRecord is the persisted audit record of one migration run.
type MigrationRecord struct {
	ID              string
	Definition      string // ID of the definition that ran
	FromVersion     int64
	ToVersion       int64
	TimestampMs     int64
	Status          MigrationStatus
	AffectedPlayers []string
	Error           string
}

// QueueStatistics is the derived per-queue summary served from the stats
// cache.
type QueueStatistics struct {
	PlayerID              string
	TasksCompleted        int64
	TasksFailed           int64
	TimeSpentMs           int64
	QueuedCount           int
	AverageTaskDurationMs int64
	EstimatedClearMs      int64
	CompletionRate        float64
	Utilization           float64
	EfficiencyScore       float64
	ErrorRate             float64
	ComputedAtMs          int64
}

// HealthState is the coarse queue health verdict
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthCritical HealthState = "critical"
)

// QueueHealth is the health summary returned by the queue manager.
type QueueHealth struct {
	PlayerID        string
	Overall         HealthState
	Issues          []string
	Recommendations []string
	CheckedAtMs     int64
}
