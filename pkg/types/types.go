package types

// TaskType identifies the activity a task performs
type TaskType string

const (
	TaskTypeHarvesting TaskType = "harvesting"
	TaskTypeCrafting   TaskType = "crafting"
	TaskTypeCombat     TaskType = "combat"
)

// ValidTaskType reports whether t is a recognized task type
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeHarvesting, TaskTypeCrafting, TaskTypeCombat:
		return true
	}
	return false
}

// Task is a unit of queued work for a player. Identity fields are
// immutable after creation; the scheduler owns Progress, Completed and
// Rewards once the task starts.
type Task struct {
	ID          string
	Type        TaskType
	Name        string
	Description string
	Icon        string

	DurationMs  int64 // total active time required, > 0
	StartTimeMs int64 // unix millis; 0 until started
	PlayerID    string

	Activity      ActivityData
	Prerequisites []Prerequisite
	Requirements  []ResourceRequirement

	Progress  float64 // fraction in [0, 1]
	Completed bool
	Rewards   []Reward // granted so far, merged by kind and item
	// RewardedMinutes is the whole-minute watermark already credited
	// with rewards, so replays and live ticks never double-grant.
	RewardedMinutes int64

	Priority              int
	EstimatedCompletionMs int64
	RetryCount            int
	MaxRetries            int

	IsValid          bool
	ValidationErrors []string
}

// RemainingMs returns the active time left at nowMs, floored at zero.
func (t *Task) RemainingMs(nowMs int64) int64 {
	if t.StartTimeMs == 0 {
		return t.DurationMs
	}
	rem := t.StartTimeMs + t.DurationMs - nowMs
	if rem < 0 {
		return 0
	}
	return rem
}

// ActivityData is a tagged variant keyed on the task type. Exactly one
// branch matching the task's Type should be set.
type ActivityData struct {
	Harvesting *HarvestingActivity
	Crafting   *CraftingActivity
	Combat     *CombatActivity
}

// HasVariant reports whether the branch matching t is populated.
func (a *ActivityData) HasVariant(t TaskType) bool {
	switch t {
	case TaskTypeHarvesting:
		return a.Harvesting != nil
	case TaskTypeCrafting:
		return a.Crafting != nil
	case TaskTypeCombat:
		return a.Combat != nil
	}
	return false
}

// HarvestingActivity gathers a resource at a fixed base rate.
type HarvestingActivity struct {
	ResourceID     string
	BaseRate       float64 // experience per minute before skill bonus
	YieldPerMinute float64 // resource units per minute
	Skill          SkillID
}

// CraftingActivity produces items at a fixed cadence.
type CraftingActivity struct {
	ItemID           string
	CraftTimeMinutes int64 // minutes per item, >= 1
	XPPerItem        float64
	Skill            SkillID
}

// CombatActivity fights a repeating encounter.
type CombatActivity struct {
	EnemyID         string
	KillTimeMinutes int64 // minutes per kill, >= 1
	XPPerKill       float64
	CurrencyPerKill float64
	Skill           SkillID
}

// PrerequisiteKind classifies what a prerequisite gates on
type PrerequisiteKind string

const (
	PrereqLevel    PrerequisiteKind = "level"
	PrereqStat     PrerequisiteKind = "stat"
	PrereqResource PrerequisiteKind = "resource"
	PrereqItem     PrerequisiteKind = "item"
)

// Prerequisite is a gate evaluated by the domain layer before a task is
// submitted; the engine only enforces the Met flag.
type Prerequisite struct {
	Kind     PrerequisiteKind
	ID       string
	Required int64
	Met      bool
}

// ResourceRequirement records a resource cost and whether the player can
// cover it. Sufficiency is computed by the domain layer.
type ResourceRequirement struct {
	ResourceID string
	Required   int64
	Available  int64
	Sufficient bool
}

// RewardKind classifies a granted reward
type RewardKind string

const (
	RewardExperience RewardKind = "experience"
	RewardCurrency   RewardKind = "currency"
	RewardItem       RewardKind = "item"
	RewardResource   RewardKind = "resource"
)

// Reward is a single grant produced by the rewards calculator.
type Reward struct {
	Kind     RewardKind
	ItemID   string // set for item/resource kinds
	Quantity int64
}

// SkillCategory is the top level of the player skill map
type SkillCategory string

const (
	SkillCategoryHarvesting SkillCategory = "harvesting"
	SkillCategoryCrafting   SkillCategory = "crafting"
	SkillCategoryCombat     SkillCategory = "combat"
)

// SkillID identifies a skill within a category (e.g. "mining",
// "clockmaking")
type SkillID string

// PlayerStats carries the player attributes reward formulas depend on.
// Skills are a two-level map: category, then skill.
type PlayerStats struct {
	PlayerID string
	Level    int
	Skills   map[SkillCategory]map[SkillID]int
}

// SkillLevel returns the level for a skill, or 0 when absent.
func (s *PlayerStats) SkillLevel(cat SkillCategory, id SkillID) int {
	if s == nil || s.Skills == nil {
		return 0
	}
	m, ok := s.Skills[cat]
	if !ok {
		return 0
	}
	return m[id]
}

// CategoryFor maps a task type to its skill category.
func CategoryFor(t TaskType) SkillCategory {
	switch t {
	case TaskTypeCrafting:
		return SkillCategoryCrafting
	case TaskTypeCombat:
		return SkillCategoryCombat
	default:
		return SkillCategoryHarvesting
	}
}
