package rewards

import (
	"math"
	"sync"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/types"
)

// Calculator computes the rewards earned by running an activity for a
// whole number of minutes. Implementations must be pure: the same
// inputs always produce the same rewards, in the same order. The
// scheduler and the offline reconciler both call through this contract,
// which is what keeps online and offline progress equivalent.
type Calculator func(taskType types.TaskType, activity *types.ActivityData, elapsedMinutes int64, stats *types.PlayerStats) ([]types.Reward, error)

// Registry maps task types to their reward calculators. The built-in
// calculators cover the three core activities; hosts can override or
// extend the mapping before the engine starts.
type Registry struct {
	mu    sync.RWMutex
	calcs map[types.TaskType]Calculator
}

// NewRegistry returns a registry preloaded with the built-in
// calculators.
func NewRegistry() *Registry {
	return &Registry{
		calcs: map[types.TaskType]Calculator{
			types.TaskTypeHarvesting: Harvesting,
			types.TaskTypeCrafting:   Crafting,
			types.TaskTypeCombat:     Combat,
		},
	}
}

// Register installs or replaces the calculator for a task type.
func (r *Registry) Register(t types.TaskType, c Calculator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calcs[t] = c
}

// Calculate dispatches to the calculator registered for the task type.
func (r *Registry) Calculate(taskType types.TaskType, activity *types.ActivityData, elapsedMinutes int64, stats *types.PlayerStats) ([]types.Reward, error) {
	r.mu.RLock()
	c, ok := r.calcs[taskType]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.ValBadEnum, "no reward calculator for task type %q", taskType)
	}
	if elapsedMinutes <= 0 {
		return nil, nil
	}
	return c(taskType, activity, elapsedMinutes, stats)
}

// Harvesting grants experience scaled by the matching skill level plus
// a per-minute resource yield:
//
//	xp    = floor(minutes * baseRate * (1 + 0.1*skill))
//	yield = floor(minutes * yieldPerMinute)
func Harvesting(taskType types.TaskType, activity *types.ActivityData, elapsedMinutes int64, stats *types.PlayerStats) ([]types.Reward, error) {
	if activity == nil || activity.Harvesting == nil {
		return nil, errs.New(errs.ValTaskInvalid, "harvesting task is missing harvesting activity data")
	}
	h := activity.Harvesting
	skill := stats.SkillLevel(types.CategoryFor(taskType), h.Skill)

	m := float64(elapsedMinutes)
	xp := int64(math.Floor(m * h.BaseRate * (1 + 0.1*float64(skill))))
	yield := int64(math.Floor(m * h.YieldPerMinute))

	var out []types.Reward
	if xp > 0 {
		out = append(out, types.Reward{Kind: types.RewardExperience, Quantity: xp})
	}
	if yield > 0 {
		out = append(out, types.Reward{Kind: types.RewardResource, ItemID: h.ResourceID, Quantity: yield})
	}
	return out, nil
}

// Crafting grants one finished item per craft interval plus experience
// per item:
//
//	items = minutes / craftTimeMinutes
//	xp    = floor(items * xpPerItem)
func Crafting(taskType types.TaskType, activity *types.ActivityData, elapsedMinutes int64, stats *types.PlayerStats) ([]types.Reward, error) {
	if activity == nil || activity.Crafting == nil {
		return nil, errs.New(errs.ValTaskInvalid, "crafting task is missing crafting activity data")
	}
	c := activity.Crafting
	if c.CraftTimeMinutes <= 0 {
		return nil, errs.New(errs.ValTaskInvalid, "crafting activity has non-positive craft time")
	}

	items := elapsedMinutes / c.CraftTimeMinutes
	xp := int64(math.Floor(float64(items) * c.XPPerItem))

	var out []types.Reward
	if items > 0 {
		out = append(out, types.Reward{Kind: types.RewardItem, ItemID: c.ItemID, Quantity: items})
	}
	if xp > 0 {
		out = append(out, types.Reward{Kind: types.RewardExperience, Quantity: xp})
	}
	return out, nil
}

// Combat grants one kill per kill interval plus experience and
// currency per kill:
//
//	kills    = minutes / killTimeMinutes
//	xp       = floor(kills * xpPerKill)
//	currency = floor(kills * currencyPerKill)
func Combat(taskType types.TaskType, activity *types.ActivityData, elapsedMinutes int64, stats *types.PlayerStats) ([]types.Reward, error) {
	if activity == nil || activity.Combat == nil {
		return nil, errs.New(errs.ValTaskInvalid, "combat task is missing combat activity data")
	}
	cb := activity.Combat
	if cb.KillTimeMinutes <= 0 {
		return nil, errs.New(errs.ValTaskInvalid, "combat activity has non-positive kill time")
	}

	kills := elapsedMinutes / cb.KillTimeMinutes
	xp := int64(math.Floor(float64(kills) * cb.XPPerKill))
	currency := int64(math.Floor(float64(kills) * cb.CurrencyPerKill))

	var out []types.Reward
	if xp > 0 {
		out = append(out, types.Reward{Kind: types.RewardExperience, Quantity: xp})
	}
	if currency > 0 {
		out = append(out, types.Reward{Kind: types.RewardCurrency, Quantity: currency})
	}
	return out, nil
}

// Diff returns the rewards in cur that exceed prev, matched by kind and
// item id. Calculators are cumulative in elapsed minutes, so crediting
// the difference between two watermarks telescopes to the exact total a
// single computation over the whole span would give.
func Diff(cur, prev []types.Reward) []types.Reward {
	var out []types.Reward
	for _, r := range cur {
		q := r.Quantity
		for _, p := range prev {
			if p.Kind == r.Kind && p.ItemID == r.ItemID {
				q -= p.Quantity
				break
			}
		}
		if q > 0 {
			out = append(out, types.Reward{Kind: r.Kind, ItemID: r.ItemID, Quantity: q})
		}
	}
	return out
}

// Merge folds earned rewards into an accumulator, combining entries
// with the same kind and item id. Order of first appearance is kept so
// repeated merges stay deterministic.
func Merge(acc []types.Reward, earned []types.Reward) []types.Reward {
	for _, r := range earned {
		found := false
		for i := range acc {
			if acc[i].Kind == r.Kind && acc[i].ItemID == r.ItemID {
				acc[i].Quantity += r.Quantity
				found = true
				break
			}
		}
		if !found {
			acc = append(acc, r)
		}
	}
	return acc
}
