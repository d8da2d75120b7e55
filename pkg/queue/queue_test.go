package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/monitor"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/retry"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

type manualClock struct{ ms int64 }

func (c *manualClock) now() time.Time { return time.UnixMilli(c.ms) }

func newTestManager(t *testing.T, defaults types.QueueConfig) (*Manager, *persist.Store, *manualClock) {
	t.Helper()
	raw, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	v := integrity.NewValidator()
	clk := &manualClock{ms: 1_700_000_000_000}
	ps := persist.New(raw, v, integrity.NewRepairer(v)).
		WithBackoff(retry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}).
		WithClock(clk.now)
	m := New(ps, v, nil, nil, defaults).WithClock(clk.now)
	return m, ps, clk
}

func harvestTask(id string, minutes int64) *types.Task {
	return &types.Task{
		ID:         id,
		Type:       types.TaskTypeHarvesting,
		Name:       "Chop " + id,
		DurationMs: minutes * 60_000,
		Activity: types.ActivityData{
			Harvesting: &types.HarvestingActivity{
				ResourceID:     "wood",
				BaseRate:       10,
				YieldPerMinute: 2,
				Skill:          "woodcutting",
			},
		},
	}
}

func intPtr(v int) *int { return &v }

func withTask(mutate func(*types.Task)) *types.Task {
	task := harvestTask("task-m", 5)
	mutate(task)
	return task
}

func TestAddTaskStartsIdleQueue(t *testing.T) {
	m, _, clk := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	q, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)

	require.NotNil(t, q.CurrentTask)
	assert.Equal(t, "task-a", q.CurrentTask.ID)
	assert.Equal(t, "player-1", q.CurrentTask.PlayerID)
	assert.True(t, q.CurrentTask.IsValid)
	assert.True(t, q.IsRunning)
	assert.Zero(t, q.CurrentTask.Progress)
	assert.Equal(t, clk.ms, q.CurrentTask.StartTimeMs)
	assert.Equal(t, clk.ms+300_000, q.CurrentTask.EstimatedCompletionMs)
	assert.Empty(t, q.QueuedTasks)

	// First contact: one write to create the queue, one for the add.
	assert.Equal(t, int64(2), q.Version)
}

func TestAddTaskQueuesBehindCurrent(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	q, err := m.AddTask(ctx, "player-1", harvestTask("task-b", 5))
	require.NoError(t, err)

	assert.Equal(t, "task-a", q.CurrentTask.ID)
	require.Len(t, q.QueuedTasks, 1)
	assert.Equal(t, "task-b", q.QueuedTasks[0].ID)
	assert.Zero(t, q.QueuedTasks[0].StartTimeMs, "waiting tasks must not be started")
}

func TestAddTaskPriorityInsertion(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.PriorityHandling = true
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	add := func(id string, priority int) *types.TaskQueue {
		task := harvestTask(id, 5)
		task.Priority = priority
		q, err := m.AddTask(ctx, "player-1", task)
		require.NoError(t, err)
		return q
	}

	add("task-x", 0) // becomes current
	add("task-a", 2)
	add("task-b", 1)

	q := add("task-c", 3)
	assert.Equal(t, "task-x", q.CurrentTask.ID, "in-flight task is never preempted")
	assert.Equal(t, []string{"task-c", "task-a", "task-b"}, q.QueuedIDs())

	// Equal priorities keep arrival order.
	q = add("task-d", 2)
	assert.Equal(t, []string{"task-c", "task-a", "task-d", "task-b"}, q.QueuedIDs())
}

func TestAddTaskAppendsWithoutPriorityHandling(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-x", 5))
	require.NoError(t, err)

	low := harvestTask("task-low", 5)
	low.Priority = 1
	_, err = m.AddTask(ctx, "player-1", low)
	require.NoError(t, err)

	high := harvestTask("task-high", 5)
	high.Priority = 9
	q, err := m.AddTask(ctx, "player-1", high)
	require.NoError(t, err)

	assert.Equal(t, []string{"task-low", "task-high"}, q.QueuedIDs())
}

func TestAddTaskRejectsMalformedTasks(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	noActivity := harvestTask("no-activity", 5)
	noActivity.Activity = types.ActivityData{}

	flagged := harvestTask("flagged", 5)
	flagged.ValidationErrors = []string{"rejected upstream"}

	cases := []struct {
		name string
		task *types.Task
		code errs.Code
	}{
		{"nil task", nil, errs.ValMissingField},
		{"missing id", &types.Task{Name: "x", Type: types.TaskTypeCombat, DurationMs: 1}, errs.ValMissingField},
		{"missing name", &types.Task{ID: "t", Type: types.TaskTypeCombat, DurationMs: 1}, errs.ValMissingField},
		{"unknown type", &types.Task{ID: "t", Name: "x", Type: "fishing", DurationMs: 1}, errs.ValBadEnum},
		{"zero duration", withTask(func(task *types.Task) { task.DurationMs = 0 }), errs.ValDuration},
		{"negative duration", withTask(func(task *types.Task) { task.DurationMs = -1 }), errs.ValDuration},
		{"progress above one", withTask(func(task *types.Task) { task.Progress = 1.5 }), errs.ValProgressRange},
		{"negative progress", withTask(func(task *types.Task) { task.Progress = -0.5 }), errs.ValProgressRange},
		{"missing activity data", noActivity, errs.ValTaskInvalid},
		{"upstream validation errors", flagged, errs.ValTaskInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.AddTask(ctx, "player-1", tc.task)
			require.Error(t, err)
			assert.True(t, errs.IsCode(err, tc.code), "want %s, got %v", tc.code, err)
		})
	}
}

func TestAddTaskRejectsForeignTask(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())

	task := harvestTask("task-a", 5)
	task.PlayerID = "player-2"
	_, err := m.AddTask(context.Background(), "player-1", task)
	assert.True(t, errs.IsCode(err, errs.SecPlayerMismatch))
}

func TestAddTaskEnforcesGates(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	gated := harvestTask("gated", 5)
	gated.Prerequisites = []types.Prerequisite{
		{Kind: types.PrereqLevel, ID: "woodcutting", Required: 10, Met: false},
	}
	_, err := m.AddTask(ctx, "player-1", gated)
	assert.True(t, errs.IsCode(err, errs.BusPrereqNotMet))

	poor := harvestTask("poor", 5)
	poor.Requirements = []types.ResourceRequirement{
		{ResourceID: "axe", Required: 1, Available: 0, Sufficient: false},
	}
	_, err = m.AddTask(ctx, "player-1", poor)
	assert.True(t, errs.IsCode(err, errs.BusInsufficientResources))
}

func TestAddTaskQueueFull(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.MaxQueueSize = 2
	cfg.AutoStart = false
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-1", 5))
	require.NoError(t, err)
	q, err := m.AddTask(ctx, "player-1", harvestTask("task-2", 5))
	require.NoError(t, err)
	assert.Len(t, q.QueuedTasks, 2, "queue at exactly the bound is accepted")

	_, err = m.AddTask(ctx, "player-1", harvestTask("task-3", 5))
	assert.True(t, errs.IsCode(err, errs.BusQueueFull))
}

func TestAddTaskDurationLimits(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.AutoStart = false
	cfg.MaxTaskDurationMs = 10 * 60_000
	cfg.MaxTotalQueueDurationMs = 10 * 60_000
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("too-long", 11))
	assert.True(t, errs.IsCode(err, errs.BusTaskTooLong))

	_, err = m.AddTask(ctx, "player-1", harvestTask("task-1", 6))
	require.NoError(t, err)
	// 6 + 4 minutes lands exactly on the total bound.
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-2", 4))
	require.NoError(t, err)

	_, err = m.AddTask(ctx, "player-1", harvestTask("task-3", 1))
	assert.True(t, errs.IsCode(err, errs.BusTotalDurationExceeded))
}

func TestAddTaskRejectsDuplicateID(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)

	// task-a is now current; a second copy must be refused.
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	assert.True(t, errs.IsCode(err, errs.ValTaskInvalid))
}

func TestAddTaskShedsUnderSevereLoad(t *testing.T) {
	raw, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	v := integrity.NewValidator()
	ps := persist.New(raw, v, integrity.NewRepairer(v))
	mon := monitor.New(monitor.DefaultConfig())
	m := New(ps, v, mon, nil, types.DefaultQueueConfig())
	ctx := context.Background()

	mon.SetLevel(monitor.LevelSevere)
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	assert.True(t, errs.IsCode(err, errs.ResSystemOverloaded))

	mon.SetLevel(monitor.LevelNone)
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	assert.NoError(t, err)
}

func TestConcurrentAddsBothLand(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, id := range []string{"task-left", "task-right"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.AddTask(ctx, "player-1", harvestTask(id, 5))
			errCh <- err
		}(id)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	q, err := m.Get(ctx, "player-1")
	require.NoError(t, err)

	seen := map[string]bool{}
	if q.CurrentTask != nil {
		seen[q.CurrentTask.ID] = true
	}
	for _, task := range q.QueuedTasks {
		seen[task.ID] = true
	}
	assert.True(t, seen["task-left"], "first writer's task survived")
	assert.True(t, seen["task-right"], "second writer's task survived")
	assert.Equal(t, int64(3), q.Version, "create plus two adds")
}

func TestRemoveQueuedTask(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	for _, id := range []string{"task-a", "task-b", "task-c"} {
		_, err := m.AddTask(ctx, "player-1", harvestTask(id, 5))
		require.NoError(t, err)
	}

	q, err := m.RemoveTask(ctx, "player-1", "task-b")
	require.NoError(t, err)
	assert.Equal(t, "task-a", q.CurrentTask.ID)
	assert.Equal(t, []string{"task-c"}, q.QueuedIDs())

	last := q.History[len(q.History)-1]
	assert.Equal(t, types.HistoryTaskRemoved, last.Kind)
	assert.Equal(t, "task-b", last.TaskID)
}

func TestRemoveCurrentTaskDiscardsProgressAndAdvances(t *testing.T) {
	m, _, clk := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 10))
	require.NoError(t, err)
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-b", 10))
	require.NoError(t, err)

	clk.ms += 4 * 60_000 // task-a is 40% done; none of it counts

	q, err := m.RemoveTask(ctx, "player-1", "task-a")
	require.NoError(t, err)
	require.NotNil(t, q.CurrentTask)
	assert.Equal(t, "task-b", q.CurrentTask.ID)
	assert.Equal(t, clk.ms, q.CurrentTask.StartTimeMs, "successor starts fresh at removal time")
	assert.Zero(t, q.CurrentTask.Progress)
	assert.True(t, q.IsRunning)
	assert.Zero(t, q.Totals.TasksCompleted, "partial progress grants nothing")
	assert.Zero(t, q.Totals.TimeSpentMs)
}

func TestRemoveCurrentTaskWhilePausedParksQueue(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 10))
	require.NoError(t, err)
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-b", 10))
	require.NoError(t, err)
	_, err = m.Pause(ctx, "player-1", "maintenance", true)
	require.NoError(t, err)

	q, err := m.RemoveTask(ctx, "player-1", "task-a")
	require.NoError(t, err)
	assert.Nil(t, q.CurrentTask, "paused queues do not start the next task")
	assert.False(t, q.IsRunning)
	assert.True(t, q.IsPaused)
	assert.Equal(t, []string{"task-b"}, q.QueuedIDs())
}

func TestRemoveUnknownTaskIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	before, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)

	after, err := m.RemoveTask(ctx, "player-1", "ghost")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "no-op must not burn a version")
	assert.Equal(t, "task-a", after.CurrentTask.ID)
}

func TestReorderAppliesPrefix(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.AutoStart = false
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"task-a", "task-b", "task-c", "task-d"} {
		_, err := m.AddTask(ctx, "player-1", harvestTask(id, 5))
		require.NoError(t, err)
	}

	q, err := m.Reorder(ctx, "player-1", []string{"task-c", "ghost", "task-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-c", "task-a", "task-b", "task-d"}, q.QueuedIDs(),
		"unknown ids are skipped, unmentioned tasks keep their order")
}

func TestReorderWithNoKnownIDsIsNoop(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.AutoStart = false
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	var before *types.TaskQueue
	var err error
	for _, id := range []string{"task-a", "task-b"} {
		before, err = m.AddTask(ctx, "player-1", harvestTask(id, 5))
		require.NoError(t, err)
	}

	after, err := m.Reorder(ctx, "player-1", []string{"ghost"})
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, []string{"task-a", "task-b"}, after.QueuedIDs())
}

func TestClearKeepsLifetimeTotals(t *testing.T) {
	m, ps, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-b", 5))
	require.NoError(t, err)
	_, err = ps.Update(ctx, "player-1", func(q *types.TaskQueue) error {
		q.Totals.TasksCompleted = 7
		q.Totals.TimeSpentMs = 350_000
		return nil
	}, persist.Options{})
	require.NoError(t, err)

	q, err := m.Clear(ctx, "player-1")
	require.NoError(t, err)
	assert.Nil(t, q.CurrentTask)
	assert.Empty(t, q.QueuedTasks)
	assert.False(t, q.IsRunning)
	assert.False(t, q.IsPaused)
	assert.Equal(t, int64(7), q.Totals.TasksCompleted)
	assert.Equal(t, int64(350_000), q.Totals.TimeSpentMs)
}

func TestPauseRequiresReason(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	_, err := m.Pause(context.Background(), "player-1", "", true)
	assert.True(t, errs.IsCode(err, errs.ValMissingField))
}

func TestPauseParksRunningQueue(t *testing.T) {
	m, _, clk := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 10))
	require.NoError(t, err)

	q, err := m.Pause(ctx, "player-1", "maintenance", true)
	require.NoError(t, err)
	assert.True(t, q.IsPaused)
	assert.False(t, q.IsRunning)
	assert.Equal(t, "maintenance", q.PauseReason)
	assert.Equal(t, clk.ms, q.PausedAtMs)
	assert.True(t, q.CanResume)
	require.NotNil(t, q.CurrentTask, "in-flight task stays parked")
}

func TestPauseTwiceIsAdvisory(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	first, err := m.Pause(ctx, "player-1", "maintenance", true)
	require.NoError(t, err)

	_, err = m.Pause(ctx, "player-1", "again", true)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.BusAlreadyPaused))
	assert.True(t, errs.IsWarning(err))

	q, err := m.Get(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, q.Version, "advisory pause must not write")
	assert.Equal(t, "maintenance", q.PauseReason)
}

func TestResumeRequiresPause(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	_, err = m.Resume(ctx, "player-1", false)
	assert.True(t, errs.IsCode(err, errs.BusNotPaused))
}

func TestResumeForbiddenWithoutForce(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	_, err = m.Pause(ctx, "player-1", "System overload", false)
	require.NoError(t, err)

	_, err = m.Resume(ctx, "player-1", false)
	assert.True(t, errs.IsCode(err, errs.BusResumeForbidden))

	q, err := m.Resume(ctx, "player-1", true)
	require.NoError(t, err)
	assert.False(t, q.IsPaused)
	assert.True(t, q.IsRunning)
}

func TestResumeShiftsInflightStart(t *testing.T) {
	m, _, clk := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	start := clk.ms
	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 10))
	require.NoError(t, err)

	clk.ms += 2 * 60_000
	_, err = m.Pause(ctx, "player-1", "afk", true)
	require.NoError(t, err)

	clk.ms += 3 * 60_000
	q, err := m.Resume(ctx, "player-1", false)
	require.NoError(t, err)

	assert.Equal(t, int64(3*60_000), q.TotalPauseTimeMs)
	assert.Equal(t, start+3*60_000, q.CurrentTask.StartTimeMs,
		"paused time must not count as active time")
	assert.True(t, q.IsRunning)
}

func TestResumeStartsNextWhenIdle(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.Pause(ctx, "player-1", "hold", true)
	require.NoError(t, err)
	q, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	assert.Nil(t, q.CurrentTask, "paused queues accept tasks without starting them")

	q, err = m.Resume(ctx, "player-1", false)
	require.NoError(t, err)
	require.NotNil(t, q.CurrentTask)
	assert.Equal(t, "task-a", q.CurrentTask.ID)
}

func TestUpdateConfigValidates(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	_, err := m.UpdateConfig(context.Background(), "player-1", &types.ConfigPatch{
		MaxQueueSize: intPtr(-1),
	})
	assert.True(t, errs.IsCode(err, errs.ValConfigInvalid))
}

func TestUpdateConfigTruncatesOverflow(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.AutoStart = false
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.AddTask(ctx, "player-1", harvestTask(fmt.Sprintf("task-%d", i), 5))
		require.NoError(t, err)
	}

	q, err := m.UpdateConfig(ctx, "player-1", &types.ConfigPatch{MaxQueueSize: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, q.Config.MaxQueueSize)
	assert.Equal(t, []string{"task-0", "task-1", "task-2"}, q.QueuedIDs(),
		"tail tasks are dropped when the bound shrinks")

	last := q.History[len(q.History)-1]
	assert.Equal(t, types.HistoryConfigUpdated, last.Kind)
	assert.Equal(t, "2 tasks truncated", last.Detail)
}

func TestStatisticsComputation(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.AutoStart = false
	m, ps, clk := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 1))
	require.NoError(t, err)
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-b", 1))
	require.NoError(t, err)
	_, err = ps.Update(ctx, "player-1", func(q *types.TaskQueue) error {
		q.CreatedAtMs = clk.ms - 1_000_000
		q.Totals.TasksCompleted = 8
		q.Totals.TimeSpentMs = 400_000
		q.QueuedTasks[0].RetryCount = 2
		q.QueuedTasks[1].RetryCount = 1
		return nil
	}, persist.Options{})
	require.NoError(t, err)

	stats, err := m.Statistics(ctx, "player-1")
	require.NoError(t, err)

	assert.Equal(t, int64(8), stats.TasksCompleted)
	assert.Equal(t, 2, stats.QueuedCount)
	assert.Equal(t, int64(50_000), stats.AverageTaskDurationMs)
	assert.Equal(t, int64(120_000), stats.EstimatedClearMs)
	assert.InDelta(t, 0.8, stats.CompletionRate, 1e-9) // 8 of 10
	assert.InDelta(t, 0.4, stats.Utilization, 1e-9)    // 400s of 1000s uptime
	assert.InDelta(t, 0.56, stats.EfficiencyScore, 1e-9)
	assert.InDelta(t, 0.3, stats.ErrorRate, 1e-9) // 3 retries over 10 tasks
}

func TestStatisticsCachedUntilSave(t *testing.T) {
	m, _, clk := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.Get(ctx, "player-1")
	require.NoError(t, err)

	first, err := m.Statistics(ctx, "player-1")
	require.NoError(t, err)
	assert.Zero(t, first.QueuedCount)

	// Within the TTL and with no intervening save the entry is reused.
	clk.ms += 10_000
	again, err := m.Statistics(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAtMs, again.ComputedAtMs)

	// A save drops the cache entry, so the next read is fresh.
	_, err = m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	fresh, err := m.Statistics(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, clk.ms, fresh.ComputedAtMs)
	require.NotNil(t, fresh)
}

func TestHealthHealthyQueue(t *testing.T) {
	m, _, _ := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)

	h, err := m.Health(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, h.Overall)
	assert.Empty(t, h.Issues)
}

func TestHealthWarnsNearCapacity(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.MaxQueueSize = 10
	cfg.AutoStart = false
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := m.AddTask(ctx, "player-1", harvestTask(fmt.Sprintf("task-%d", i), 5))
		require.NoError(t, err)
	}

	h, err := m.Health(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthWarning, h.Overall)
	assert.Contains(t, h.Issues, "queue is nearly full")
	assert.NotEmpty(t, h.Recommendations)
}

func TestHealthWarnsLongPause(t *testing.T) {
	m, _, clk := newTestManager(t, types.DefaultQueueConfig())
	ctx := context.Background()

	_, err := m.AddTask(ctx, "player-1", harvestTask("task-a", 5))
	require.NoError(t, err)
	_, err = m.Pause(ctx, "player-1", "vacation", true)
	require.NoError(t, err)

	clk.ms += 25 * 3600_000

	h, err := m.Health(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthWarning, h.Overall)
	assert.Contains(t, h.Issues, "queue has been paused for over a day")
}

func TestGetCreatesOnFirstContact(t *testing.T) {
	cfg := types.DefaultQueueConfig()
	cfg.MaxQueueSize = 17
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	q, err := m.Get(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, "player-1", q.PlayerID)
	assert.Equal(t, int64(1), q.Version)
	assert.Equal(t, 17, q.Config.MaxQueueSize, "defaults flow into created queues")

	again, err := m.Get(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version, "repeat reads do not recreate")
}
