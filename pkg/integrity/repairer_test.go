package integrity

import (
	"testing"
	"time"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepairer(v *Validator) *Repairer {
	return NewRepairer(v).WithClock(func() time.Time {
		return time.UnixMilli(testNowMs)
	})
}

// A stale checksum with no other damage is repaired by restamping the
// hash; the next validation is clean.
func TestRepairChecksumMismatch(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.Totals.TasksCompleted = 3 // drifts from stored checksum
	report := v.Check(q)
	require.True(t, report.Has(CheckChecksumMismatch))
	require.True(t, report.CanRepair)

	result, err := rp.Repair(q, report)
	require.NoError(t, err)
	assert.Contains(t, result.Applied, ActionUpdateChecksum)

	assert.True(t, v.Check(q).Valid(), "queue must validate clean after repair")
	assert.Equal(t, Checksum(q), q.Checksum)
	assert.Equal(t, testNowMs, q.LastValidatedMs)
}

func TestRepairOrphanedCurrentTask(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.IsRunning = true // running with no current task
	report := v.Check(q)
	require.True(t, report.Has(CheckOrphanedCurrentTask))

	result, err := rp.Repair(q, report)
	require.NoError(t, err)

	assert.Contains(t, result.Applied, ActionResetState)
	assert.Nil(t, q.CurrentTask)
	assert.False(t, q.IsRunning)
	assert.True(t, v.Check(q).Valid())
}

func TestRepairDuplicates(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.CurrentTask = &types.Task{ID: "t1", PlayerID: q.PlayerID, DurationMs: 1000}
	q.IsRunning = true
	q.QueuedTasks = []*types.Task{
		{ID: "t1", PlayerID: q.PlayerID, DurationMs: 1000}, // shadows current
		{ID: "t2", PlayerID: q.PlayerID, DurationMs: 1000},
		{ID: "t2", PlayerID: q.PlayerID, DurationMs: 1000},
	}
	report := v.Check(q)
	require.True(t, report.Has(CheckDuplicateTaskIDs))

	result, err := rp.Repair(q, report)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"t1", "t2"}, result.RemovedTaskIDs)
	assert.Equal(t, []string{"t1", "t2"}, append([]string{q.CurrentTask.ID}, q.QueuedIDs()...))
	assert.True(t, v.Check(q).Valid())
}

func TestRepairTruncatesOversizedQueue(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.Config.MaxQueueSize = 2
	q.QueuedTasks = []*types.Task{
		{ID: "a", PlayerID: q.PlayerID, DurationMs: 1000},
		{ID: "b", PlayerID: q.PlayerID, DurationMs: 1000},
		{ID: "c", PlayerID: q.PlayerID, DurationMs: 1000},
	}
	report := v.Check(q)
	require.True(t, report.Has(CheckQueueSizeExceeded))

	result, err := rp.Repair(q, report)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, q.QueuedIDs())
	assert.Equal(t, []string{"c"}, result.RemovedTaskIDs)
}

func TestRepairClampsNegativeStats(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.Totals.TasksCompleted = -3
	q.Totals.TimeSpentMs = -100
	report := v.Check(q)

	_, err := rp.Repair(q, report)
	require.NoError(t, err)

	assert.Zero(t, q.Totals.TasksCompleted)
	assert.Zero(t, q.Totals.TimeSpentMs)
	assert.True(t, v.Check(q).Valid())
}

func TestRepairFixesFutureTimestamps(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.LastUpdatedMs = testNowMs + 3_600_000
	q.Checksum = Checksum(q)
	report := v.Check(q)
	require.True(t, report.Has(CheckFutureTimestamp))

	_, err := rp.Repair(q, report)
	require.NoError(t, err)

	assert.LessOrEqual(t, q.LastUpdatedMs, testNowMs)
	assert.True(t, v.Check(q).Valid())
}

func TestRepairTrimsHistory(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.Config.MaxHistorySize = 3
	for i := 0; i < 8; i++ {
		q.History = append(q.History, types.StateHistoryEntry{
			Kind:        types.HistoryTaskAdded,
			TimestampMs: int64(i),
		})
	}
	q.Checksum = Checksum(q)
	report := v.Check(q)
	require.True(t, report.Has(CheckHistorySizeExceeded))

	result, err := rp.Repair(q, report)
	require.NoError(t, err)

	assert.Contains(t, result.Applied, ActionTrimHistory)
	// Newest entries win; the repair itself appends one more within the
	// bound.
	assert.LessOrEqual(t, len(q.History), 3)
}

func TestRepairRefusesCritical(t *testing.T) {
	v := testValidator()
	rp := testRepairer(v)

	q := validQueue()
	q.PlayerID = ""
	report := v.Check(q)
	require.True(t, report.HasCritical())

	_, err := rp.Repair(q, report)

	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.PerQueueUnrepairable))
}
