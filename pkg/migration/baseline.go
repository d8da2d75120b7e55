package migration

import (
	"github.com/emberhollow/taskmill/pkg/types"
)

// Baseline returns the schema 0 to 1 step for queues written before
// records carried a schema version. Those rows predate several config
// fields, which unmarshal as zeroes the validator would reject, so the
// step backfills them with stock values. The runner stamps the new
// schema version after the transform.
func Baseline() *Definition {
	return &Definition{
		ID:          "baseline-config-defaults",
		FromVersion: 0,
		ToVersion:   1,
		Forward: func(q *types.TaskQueue) error {
			def := types.DefaultQueueConfig()
			cfg := &q.Config
			if cfg.MaxQueueSize <= 0 {
				cfg.MaxQueueSize = def.MaxQueueSize
			}
			if cfg.MaxTaskDurationMs <= 0 {
				cfg.MaxTaskDurationMs = def.MaxTaskDurationMs
			}
			if cfg.MaxTotalQueueDurationMs <= 0 {
				cfg.MaxTotalQueueDurationMs = def.MaxTotalQueueDurationMs
			}
			if cfg.SyncIntervalMs <= 0 {
				cfg.SyncIntervalMs = def.SyncIntervalMs
			}
			if cfg.PersistenceIntervalMs <= 0 {
				cfg.PersistenceIntervalMs = def.PersistenceIntervalMs
			}
			if cfg.IntegrityCheckIntervalMs <= 0 {
				cfg.IntegrityCheckIntervalMs = def.IntegrityCheckIntervalMs
			}
			if cfg.MaxHistorySize <= 0 {
				cfg.MaxHistorySize = def.MaxHistorySize
			}
			if cfg.SnapshotIntervalMs <= 0 {
				cfg.SnapshotIntervalMs = def.SnapshotIntervalMs
			}
			if cfg.MaxSnapshots <= 0 {
				cfg.MaxSnapshots = def.MaxSnapshots
			}
			if len(q.History) > cfg.MaxHistorySize {
				q.History = q.History[len(q.History)-cfg.MaxHistorySize:]
			}
			return nil
		},
		// The pre-versioning layout is not reconstructible.
		Rollback: nil,
		Validate: func(q *types.TaskQueue) bool {
			return types.ValidateConfig(q.Config) == ""
		},
	}
}
