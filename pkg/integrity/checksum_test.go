package integrity

import (
	"testing"

	"github.com/emberhollow/taskmill/pkg/types"
	"github.com/stretchr/testify/assert"
)

func sampleQueue() *types.TaskQueue {
	q := types.NewTaskQueue("player-1", types.DefaultQueueConfig(), 1_000)
	q.CurrentTask = &types.Task{ID: "task-b", PlayerID: "player-1", DurationMs: 30_000}
	q.QueuedTasks = []*types.Task{
		{ID: "task-c", PlayerID: "player-1", DurationMs: 10_000},
		{ID: "task-a", PlayerID: "player-1", DurationMs: 10_000},
	}
	q.IsRunning = true
	q.Totals.TasksCompleted = 4
	q.Totals.TimeSpentMs = 120_000
	return q
}

func TestCanonicalSubset(t *testing.T) {
	q := sampleQueue()

	got := CanonicalSubset(q)
	want := "completed=4|current=task-b|paused=false|player=player-1|running=true|tasks=task-a,task-c|time_spent=120000"
	assert.Equal(t, want, got)
}

func TestCanonicalSubsetNullCurrent(t *testing.T) {
	q := types.NewTaskQueue("p", types.DefaultQueueConfig(), 0)

	got := CanonicalSubset(q)
	assert.Equal(t, "completed=0|current=null|paused=false|player=p|running=false|tasks=|time_spent=0", got)
}

// The hash must not depend on queued-task insertion order: the subset
// sorts task ids before hashing.
func TestChecksumOrderIndependent(t *testing.T) {
	q1 := sampleQueue()
	q2 := sampleQueue()
	q2.QueuedTasks[0], q2.QueuedTasks[1] = q2.QueuedTasks[1], q2.QueuedTasks[0]

	assert.Equal(t, Checksum(q1), Checksum(q2))
}

func TestChecksumChangesWithState(t *testing.T) {
	q := sampleQueue()
	base := Checksum(q)

	tests := []struct {
		name   string
		mutate func(*types.TaskQueue)
	}{
		{"completed count", func(q *types.TaskQueue) { q.Totals.TasksCompleted++ }},
		{"current task", func(q *types.TaskQueue) { q.CurrentTask = nil }},
		{"paused flag", func(q *types.TaskQueue) { q.IsPaused = true }},
		{"running flag", func(q *types.TaskQueue) { q.IsRunning = false }},
		{"queued ids", func(q *types.TaskQueue) { q.QueuedTasks = q.QueuedTasks[:1] }},
		{"time spent", func(q *types.TaskQueue) { q.Totals.TimeSpentMs += 1000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := sampleQueue()
			tt.mutate(q)
			assert.NotEqual(t, base, Checksum(q))
		})
	}
}

// Fields outside the canonical subset must not move the hash; version,
// timestamps and history change on every save.
func TestChecksumIgnoresVolatileFields(t *testing.T) {
	q := sampleQueue()
	base := Checksum(q)

	q.Version = 99
	q.LastUpdatedMs = 999_999
	q.LastValidatedMs = 999_999
	q.History = append(q.History, types.StateHistoryEntry{Kind: types.HistoryTaskAdded})
	q.Config.MaxQueueSize = 7

	assert.Equal(t, base, Checksum(q))
}

func TestVerifyChecksum(t *testing.T) {
	q := sampleQueue()
	assert.False(t, VerifyChecksum(q), "no checksum stored yet")

	q.Checksum = Checksum(q)
	assert.True(t, VerifyChecksum(q))

	q.Totals.TasksCompleted++
	assert.False(t, VerifyChecksum(q), "state drifted from stored checksum")
}
