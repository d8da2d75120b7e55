package rewards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhollow/taskmill/pkg/types"
)

func statsWithSkill(cat types.SkillCategory, id types.SkillID, level int) *types.PlayerStats {
	return &types.PlayerStats{
		PlayerID: "player-1",
		Level:    10,
		Skills: map[types.SkillCategory]map[types.SkillID]int{
			cat: {id: level},
		},
	}
}

// Ninety minutes of harvesting at base rate 10 with skill 10 must earn
// exactly 1800 experience: 90 * 10 * (1 + 0.1*10).
func TestHarvestingExperienceFormula(t *testing.T) {
	activity := &types.ActivityData{
		Harvesting: &types.HarvestingActivity{
			ResourceID:     "wood",
			BaseRate:       10,
			YieldPerMinute: 2,
			Skill:          "forestry",
		},
	}
	stats := statsWithSkill(types.SkillCategoryHarvesting, "forestry", 10)

	out, err := Harvesting(types.TaskTypeHarvesting, activity, 90, stats)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, types.RewardExperience, out[0].Kind)
	assert.Equal(t, int64(1800), out[0].Quantity)
	assert.Equal(t, types.RewardResource, out[1].Kind)
	assert.Equal(t, "wood", out[1].ItemID)
	assert.Equal(t, int64(180), out[1].Quantity)
}

func TestHarvestingWithoutSkillUsesBaseRate(t *testing.T) {
	activity := &types.ActivityData{
		Harvesting: &types.HarvestingActivity{ResourceID: "ore", BaseRate: 5, Skill: "mining"},
	}

	out, err := Harvesting(types.TaskTypeHarvesting, activity, 10, &types.PlayerStats{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(50), out[0].Quantity)
}

func TestCraftingRewards(t *testing.T) {
	tests := []struct {
		name      string
		minutes   int64
		craftTime int64
		xpPerItem float64
		wantItems int64
		wantXP    int64
	}{
		{name: "exact multiples", minutes: 60, craftTime: 10, xpPerItem: 25, wantItems: 6, wantXP: 150},
		{name: "partial craft discarded", minutes: 59, craftTime: 10, xpPerItem: 25, wantItems: 5, wantXP: 125},
		{name: "under one craft", minutes: 9, craftTime: 10, xpPerItem: 25, wantItems: 0, wantXP: 0},
		{name: "fractional xp floored", minutes: 30, craftTime: 10, xpPerItem: 2.5, wantItems: 3, wantXP: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity := &types.ActivityData{
				Crafting: &types.CraftingActivity{
					ItemID:           "gear",
					CraftTimeMinutes: tt.craftTime,
					XPPerItem:        tt.xpPerItem,
					Skill:            "clockmaking",
				},
			}

			out, err := Crafting(types.TaskTypeCrafting, activity, tt.minutes, &types.PlayerStats{})
			require.NoError(t, err)

			var items, xp int64
			for _, r := range out {
				switch r.Kind {
				case types.RewardItem:
					items = r.Quantity
				case types.RewardExperience:
					xp = r.Quantity
				}
			}
			assert.Equal(t, tt.wantItems, items)
			assert.Equal(t, tt.wantXP, xp)
		})
	}
}

func TestCombatRewards(t *testing.T) {
	activity := &types.ActivityData{
		Combat: &types.CombatActivity{
			EnemyID:         "bandit",
			KillTimeMinutes: 3,
			XPPerKill:       12,
			CurrencyPerKill: 1.5,
			Skill:           "swordplay",
		},
	}

	out, err := Combat(types.TaskTypeCombat, activity, 30, &types.PlayerStats{})
	require.NoError(t, err)
	require.Len(t, out, 2)

	// 10 kills: 120 xp, 15 currency.
	assert.Equal(t, types.RewardExperience, out[0].Kind)
	assert.Equal(t, int64(120), out[0].Quantity)
	assert.Equal(t, types.RewardCurrency, out[1].Kind)
	assert.Equal(t, int64(15), out[1].Quantity)
}

func TestCalculatorsAreDeterministic(t *testing.T) {
	activities := map[types.TaskType]*types.ActivityData{
		types.TaskTypeHarvesting: {Harvesting: &types.HarvestingActivity{ResourceID: "wood", BaseRate: 7.3, YieldPerMinute: 1.1, Skill: "forestry"}},
		types.TaskTypeCrafting:   {Crafting: &types.CraftingActivity{ItemID: "gear", CraftTimeMinutes: 7, XPPerItem: 13.7, Skill: "clockmaking"}},
		types.TaskTypeCombat:     {Combat: &types.CombatActivity{EnemyID: "bandit", KillTimeMinutes: 4, XPPerKill: 9.9, CurrencyPerKill: 0.4, Skill: "swordplay"}},
	}
	stats := statsWithSkill(types.SkillCategoryHarvesting, "forestry", 42)
	reg := NewRegistry()

	for taskType, activity := range activities {
		first, err := reg.Calculate(taskType, activity, 137, stats)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			again, err := reg.Calculate(taskType, activity, 137, stats)
			require.NoError(t, err)
			assert.Equal(t, first, again, "calculator for %s must be deterministic", taskType)
		}
	}
}

func TestCalculateUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Calculate(types.TaskType("fishing"), &types.ActivityData{}, 5, &types.PlayerStats{})
	require.Error(t, err)
}

func TestMissingActivityData(t *testing.T) {
	_, err := Harvesting(types.TaskTypeHarvesting, &types.ActivityData{}, 5, &types.PlayerStats{})
	assert.Error(t, err)

	_, err = Crafting(types.TaskTypeCrafting, nil, 5, &types.PlayerStats{})
	assert.Error(t, err)

	_, err = Combat(types.TaskTypeCombat, &types.ActivityData{}, 5, &types.PlayerStats{})
	assert.Error(t, err)
}

func TestZeroMinutesYieldsNothing(t *testing.T) {
	reg := NewRegistry()
	activity := &types.ActivityData{
		Harvesting: &types.HarvestingActivity{ResourceID: "wood", BaseRate: 10},
	}

	out, err := reg.Calculate(types.TaskTypeHarvesting, activity, 0, &types.PlayerStats{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMergeCombinesMatchingRewards(t *testing.T) {
	acc := []types.Reward{
		{Kind: types.RewardExperience, Quantity: 100},
		{Kind: types.RewardResource, ItemID: "wood", Quantity: 10},
	}

	acc = Merge(acc, []types.Reward{
		{Kind: types.RewardExperience, Quantity: 50},
		{Kind: types.RewardResource, ItemID: "ore", Quantity: 3},
		{Kind: types.RewardResource, ItemID: "wood", Quantity: 5},
	})

	require.Len(t, acc, 3)
	assert.Equal(t, int64(150), acc[0].Quantity)
	assert.Equal(t, int64(15), acc[1].Quantity)
	assert.Equal(t, "ore", acc[2].ItemID)
	assert.Equal(t, int64(3), acc[2].Quantity)
}
