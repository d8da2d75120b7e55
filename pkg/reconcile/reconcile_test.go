package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhollow/taskmill/pkg/events"
	"github.com/emberhollow/taskmill/pkg/integrity"
	"github.com/emberhollow/taskmill/pkg/persist"
	"github.com/emberhollow/taskmill/pkg/retry"
	"github.com/emberhollow/taskmill/pkg/rewards"
	"github.com/emberhollow/taskmill/pkg/scheduler"
	"github.com/emberhollow/taskmill/pkg/storage"
	"github.com/emberhollow/taskmill/pkg/types"
)

type manualClock struct{ ms int64 }

func (c *manualClock) now() time.Time { return time.UnixMilli(c.ms) }

func newTestReconciler(t *testing.T) (*Reconciler, *persist.Store, storage.Store, *manualClock) {
	t.Helper()
	raw, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	v := integrity.NewValidator()
	clk := &manualClock{ms: 1_700_000_000_000}
	ps := persist.New(raw, v, integrity.NewRepairer(v)).
		WithBackoff(retry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}).
		WithClock(clk.now)
	rec := New(ps, rewards.NewRegistry()).WithClock(clk.now).WithJournal(raw)
	return rec, ps, raw, clk
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

func craftTask(id string, minutes, craftTime int64) *types.Task {
	return &types.Task{
		ID:         id,
		Type:       types.TaskTypeCrafting,
		Name:       "Craft " + id,
		DurationMs: minutes * 60_000,
		Activity: types.ActivityData{
			Crafting: &types.CraftingActivity{
				ItemID:           "gear",
				CraftTimeMinutes: craftTime,
				XPPerItem:        10,
				Skill:            "clockmaking",
			},
		},
	}
}

func seedRunning(t *testing.T, ps *persist.Store, clk *manualClock, playerID string, cfg types.QueueConfig, build func() []*types.Task) *types.TaskQueue {
	t.Helper()
	ctx := context.Background()
	_, _, err := ps.GetOrCreate(ctx, playerID, cfg)
	require.NoError(t, err)
	q, err := ps.Update(ctx, playerID, func(q *types.TaskQueue) error {
		q.QueuedTasks = build()
		q.StartNextAt(clk.ms)
		return nil
	}, persist.Options{})
	require.NoError(t, err)
	return q
}

func TestReconcileNinetyMinuteGap(t *testing.T) {
	rec, ps, _, clk := newTestReconciler(t)
	ctx := context.Background()

	rec.WithStats(func(ctx context.Context, playerID string) (*types.PlayerStats, error) {
		return &types.PlayerStats{
			PlayerID: playerID,
			Skills: map[types.SkillCategory]map[types.SkillID]int{
				types.SkillCategoryHarvesting: {"woodcutting": 10},
			},
		}, nil
	})

	seedRunning(t, ps, clk, "player-1", types.DefaultQueueConfig(), func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 120)}
	})

	clk.ms += 90 * 60_000
	report, err := rec.Reconcile(ctx, "player-1")
	require.NoError(t, err)

	assert.Equal(t, int64(90), report.CreditedMinutes)
	assert.False(t, report.Clamped)
	assert.Empty(t, report.Completed, "task still has 30 minutes to go")
	// 90 minutes at base 10 with skill 10: floor(90*10*2.0) = 1800 xp,
	// plus 90*2 = 180 wood.
	assert.Equal(t, []types.Reward{
		{Kind: types.RewardExperience, Quantity: 1800},
		{Kind: types.RewardResource, ItemID: "wood", Quantity: 180},
	}, report.Rewards)

	q, err := ps.Load(ctx, "player-1")
	require.NoError(t, err)
	require.NotNil(t, q.CurrentTask)
	assert.Equal(t, int64(90), q.CurrentTask.RewardedMinutes)
	assert.InDelta(t, 0.75, q.CurrentTask.Progress, 1e-9)
	assert.Equal(t, report.Rewards, q.Totals.RewardsEarned)
	assert.Equal(t, clk.ms, q.LastSyncedMs)
}

func TestReconcileSubMinuteGapIsNoop(t *testing.T) {
	rec, ps, _, clk := newTestReconciler(t)
	ctx := context.Background()

	seeded := seedRunning(t, ps, clk, "player-1", types.DefaultQueueConfig(), func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 10)}
	})

	clk.ms += 59_000
	report, err := rec.Reconcile(ctx, "player-1")
	require.NoError(t, err)
	assert.Zero(t, report.CreditedMinutes)
	assert.Empty(t, report.Rewards)

	q, err := ps.Load(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, seeded.Version, q.Version)
}

func TestReconcileDisabledQueueIsNoop(t *testing.T) {
	rec, ps, _, clk := newTestReconciler(t)
	ctx := context.Background()

	cfg := types.DefaultQueueConfig()
	cfg.OfflineProcessingEnabled = false
	seeded := seedRunning(t, ps, clk, "player-1", cfg, func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 10)}
	})

	clk.ms += 90 * 60_000
	report, err := rec.Reconcile(ctx, "player-1")
	require.NoError(t, err)
	assert.Zero(t, report.CreditedMinutes)

	q, err := ps.Load(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, seeded.Version, q.Version)
	assert.Empty(t, q.Totals.RewardsEarned)
}

func TestReconcilePausedQueueIsNoop(t *testing.T) {
	rec, ps, _, clk := newTestReconciler(t)
	ctx := context.Background()

	seedRunning(t, ps, clk, "player-1", types.DefaultQueueConfig(), func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 10)}
	})
	paused, err := ps.Update(ctx, "player-1", func(q *types.TaskQueue) error {
		q.PauseAt(clk.ms, "taking a break", true)
		return nil
	}, persist.Options{})
	require.NoError(t, err)

	clk.ms += 3 * 3600_000
	report, err := rec.Reconcile(ctx, "player-1")
	require.NoError(t, err)
	assert.Zero(t, report.CreditedMinutes)

	q, err := ps.Load(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, paused.Version, q.Version)
	assert.Zero(t, q.CurrentTask.RewardedMinutes)
}

func TestReconcileCompletesElapsedTasks(t *testing.T) {
	rec, ps, raw, clk := newTestReconciler(t)
	ctx := context.Background()
	start := clk.ms

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()
	rec.WithBroker(broker)

	seedRunning(t, ps, clk, "player-1", types.DefaultQueueConfig(), func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 10), craftTask("task-b", 20, 5)}
	})

	clk.ms += 45 * 60_000
	report, err := rec.Reconcile(ctx, "player-1")
	require.NoError(t, err)

	require.Len(t, report.Completed, 2)
	assert.Equal(t, "task-a", report.Completed[0].ID)
	assert.Equal(t, "task-b", report.Completed[1].ID)

	q, err := ps.Load(ctx, "player-1")
	require.NoError(t, err)
	assert.Nil(t, q.CurrentTask)
	assert.False(t, q.IsRunning)
	assert.Equal(t, int64(2), q.Totals.TasksCompleted)
	assert.Equal(t, int64(30*60_000), q.Totals.TimeSpentMs)

	// Offline completions hit the same journal live ones do.
	recs, err := raw.ReadLog(ctx, storage.LogCompletions, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	var first scheduler.CompletionRecord
	require.NoError(t, json.Unmarshal(recs[0].Payload, &first))
	assert.Equal(t, "task-a", first.TaskID)
	assert.Equal(t, start+10*60_000, first.CompletedMs)

	var got []*events.Event
	for len(got) < 2 {
		select {
		case e := <-sub:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	assert.Equal(t, events.EventTaskCompleted, got[0].Type)
	assert.Equal(t, "true", got[0].Metadata["offline"])
	assert.Equal(t, events.EventTaskCompleted, got[1].Type)
}

func TestReconcileClampsDayLongGap(t *testing.T) {
	rec, ps, _, clk := newTestReconciler(t)
	ctx := context.Background()
	start := clk.ms

	cfg := types.DefaultQueueConfig()
	cfg.MaxTaskDurationMs = 48 * 3600_000
	seeded := seedRunning(t, ps, clk, "player-1", cfg, func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 30*60)} // 30 hours
	})

	clk.ms += 30 * 3600_000
	report, err := rec.Reconcile(ctx, "player-1")
	require.NoError(t, err)

	assert.True(t, report.Clamped)
	assert.Equal(t, int64(1440), report.CreditedMinutes)
	assert.Equal(t, []types.Reward{
		{Kind: types.RewardExperience, Quantity: 14_400},
		{Kind: types.RewardResource, ItemID: "wood", Quantity: 2_880},
	}, report.Rewards)

	q, err := ps.Load(ctx, "player-1")
	require.NoError(t, err)
	assert.Equal(t, seeded.Version+1, q.Version)
	require.NotNil(t, q.CurrentTask)
	assert.Equal(t, int64(1440), q.CurrentTask.RewardedMinutes)

	// The six hours beyond the clamp are forfeited: the start shifts
	// forward so elapsed time reads exactly 24 h.
	assert.Equal(t, start+6*3600_000, q.CurrentTask.StartTimeMs)
	assert.Equal(t, q.CurrentTask.StartTimeMs+30*3600_000, q.CurrentTask.EstimatedCompletionMs)

	// A live pass at the same instant finds nothing more to credit.
	prog := scheduler.Advance(q, clk.ms, rewards.NewRegistry(), nil)
	assert.False(t, prog.Dirty)
	assert.Equal(t, int64(1440), q.CurrentTask.RewardedMinutes)
}

func TestReconcileMatchesOnlineTicking(t *testing.T) {
	rec, ps, raw, clk := newTestReconciler(t)
	ctx := context.Background()

	sched := scheduler.New(raw, ps, rewards.NewRegistry(), scheduler.Config{}).
		WithClock(clk.now)

	build := func() []*types.Task {
		return []*types.Task{harvestTask("task-a", 25), craftTask("task-b", 120, 5)}
	}
	seedRunning(t, ps, clk, "player-online", types.DefaultQueueConfig(), build)
	seedRunning(t, ps, clk, "player-offline", types.DefaultQueueConfig(), build)

	// One player stays connected and is ticked every five minutes; the
	// other disconnects and is reconciled in one shot.
	for i := 0; i < 18; i++ {
		clk.ms += 5 * 60_000
		_, err := sched.ProcessQueue(ctx, "player-online")
		require.NoError(t, err)
	}
	report, err := rec.Reconcile(ctx, "player-offline")
	require.NoError(t, err)
	assert.Equal(t, int64(90), report.CreditedMinutes)

	online, err := ps.Load(ctx, "player-online")
	require.NoError(t, err)
	offline, err := ps.Load(ctx, "player-offline")
	require.NoError(t, err)

	assert.Equal(t, online.Totals, offline.Totals)
	require.NotNil(t, online.CurrentTask)
	require.NotNil(t, offline.CurrentTask)
	assert.Equal(t, online.CurrentTask.ID, offline.CurrentTask.ID)
	assert.Equal(t, online.CurrentTask.Rewards, offline.CurrentTask.Rewards)
	assert.Equal(t, online.CurrentTask.RewardedMinutes, offline.CurrentTask.RewardedMinutes)
	assert.InDelta(t, online.CurrentTask.Progress, offline.CurrentTask.Progress, 1e-9)
}
