/*
Package rewards computes what running an activity earns, through a
registry of pure per-task-type calculators.

Everything that credits progress - the live scheduler tick, on-demand
processing, and the offline reconciler - goes through the same
Calculator contract. That single dispatch point is what makes offline
catch-up pay exactly what live play would have: there is no second
reward implementation to drift.

# The Calculator Contract

	type Calculator func(taskType, activity, elapsedMinutes, stats) ([]types.Reward, error)

Two rules make the engine's crediting scheme work:

Purity. The same inputs always produce the same rewards in the same
order. Calculators must not read clocks, random sources, or anything
outside their arguments. Crash replay depends on it: a reward computed
twice must come out identical both times.

Cumulativity. A calculator is called with total elapsed minutes, not a
delta, and its output must grow monotonically with minutes. The engine
credits by watermark: it computes rewards at the new minute mark,
subtracts what the old mark already paid (Diff), and grants the
remainder. Cumulative outputs make that telescoping exact - crediting
0→30 then 30→60 equals crediting 0→60 in one step - which is also why
a crash between save and grant can never double-pay.

# Built-in Calculators

NewRegistry preloads the three core activities; integer arithmetic
floors partial progress so a minute short of a craft interval pays
nothing yet:

	harvesting  xp = floor(minutes * baseRate * (1 + 0.1*skill))
	            yield = floor(minutes * yieldPerMinute)
	crafting    items = minutes / craftTimeMinutes
	            xp = floor(items * xpPerItem)
	combat      kills = minutes / killTimeMinutes
	            xp = floor(kills * xpPerKill)
	            currency = floor(kills * currencyPerKill)

Harvesting reads the player's skill level for the activity's skill, so
calculators see stats but never mutate them. Missing or malformed
activity data is VAL_TASK_INVALID; an unregistered task type is
VAL_BAD_ENUM.

# Usage

Hosts extend or override the mapping before the engine starts:

	reg := rewards.NewRegistry()
	reg.Register("fishing", func(tt types.TaskType, act *types.ActivityData,
		mins int64, stats *types.PlayerStats) ([]types.Reward, error) {
		return []types.Reward{{Kind: types.RewardResource, ItemID: "fish", Quantity: mins / 3}}, nil
	})

Diff and Merge are the helpers the crediting sites share: Diff yields
what a new watermark earns beyond the old one, Merge folds grants into
a running total combining entries by kind and item id.

# Design Patterns

Functions, not interfaces. A calculator carries no state worth naming,
so the registry maps to plain funcs; a host with state closes over it.

Zero minutes is not an error. Calculate returns nil rewards for
non-positive spans without consulting the calculator, so callers skip
the "did any time pass" check.

# See Also

  - pkg/scheduler - credits rewards at minute watermarks during ticks
  - pkg/reconcile - replays the same crediting over offline gaps
  - pkg/types - Reward, ActivityData and PlayerStats shapes
*/
package rewards
