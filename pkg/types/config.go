package types

// QueueConfig is the per-queue option set. A zero value is not usable;
// start from DefaultQueueConfig and patch.
type QueueConfig struct {
	MaxQueueSize            int
	MaxTaskDurationMs       int64
	MaxTotalQueueDurationMs int64

	AutoStart        bool
	PriorityHandling bool

	RetryEnabled bool
	MaxRetries   int

	ValidationEnabled bool

	SyncIntervalMs            int64
	OfflineProcessingEnabled  bool
	PauseOnError              bool
	ResumeOnResourceAvailable bool
	PersistenceIntervalMs     int64
	IntegrityCheckIntervalMs  int64
	MaxHistorySize            int
	SnapshotIntervalMs        int64
	MaxSnapshots              int
}

// DefaultQueueConfig returns the stock configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueSize:            50,
		MaxTaskDurationMs:       86_400_000,  // 24 h
		MaxTotalQueueDurationMs: 604_800_000, // 7 d

		AutoStart:        true,
		PriorityHandling: false,

		RetryEnabled: true,
		MaxRetries:   3,

		ValidationEnabled: true,

		SyncIntervalMs:            5_000,
		OfflineProcessingEnabled:  true,
		PauseOnError:              true,
		ResumeOnResourceAvailable: true,
		PersistenceIntervalMs:     30_000,
		IntegrityCheckIntervalMs:  300_000,
		MaxHistorySize:            10,
		SnapshotIntervalMs:        300_000,
		MaxSnapshots:              10,
	}
}

// EmergencyQueueConfig is the constrained configuration used for
// emergency queues handed out under severe overload.
func EmergencyQueueConfig() QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.MaxQueueSize = 10
	cfg.MaxTaskDurationMs = 3_600_000        // 1 h
	cfg.MaxTotalQueueDurationMs = 86_400_000 // 24 h
	cfg.AutoStart = false
	cfg.RetryEnabled = false
	cfg.ValidationEnabled = false
	return cfg
}

// ConfigPatch is a partial queue-config update; nil fields are left
// unchanged. The yaml tags let an engine config file override individual
// defaults.
type ConfigPatch struct {
	MaxQueueSize            *int   `yaml:"max_queue_size"`
	MaxTaskDurationMs       *int64 `yaml:"max_task_duration_ms"`
	MaxTotalQueueDurationMs *int64 `yaml:"max_total_queue_duration_ms"`

	AutoStart        *bool `yaml:"auto_start"`
	PriorityHandling *bool `yaml:"priority_handling"`

	RetryEnabled *bool `yaml:"retry_enabled"`
	MaxRetries   *int  `yaml:"max_retries"`

	ValidationEnabled *bool `yaml:"validation_enabled"`

	SyncIntervalMs            *int64 `yaml:"sync_interval_ms"`
	OfflineProcessingEnabled  *bool  `yaml:"offline_processing_enabled"`
	PauseOnError              *bool  `yaml:"pause_on_error"`
	ResumeOnResourceAvailable *bool  `yaml:"resume_on_resource_available"`
	PersistenceIntervalMs     *int64 `yaml:"persistence_interval_ms"`
	IntegrityCheckIntervalMs  *int64 `yaml:"integrity_check_interval_ms"`
	MaxHistorySize            *int   `yaml:"max_history_size"`
	SnapshotIntervalMs        *int64 `yaml:"snapshot_interval_ms"`
	MaxSnapshots              *int   `yaml:"max_snapshots"`
}

// Apply overlays the patch onto cfg and returns the result.
func (p *ConfigPatch) Apply(cfg QueueConfig) QueueConfig {
	if p == nil {
		return cfg
	}
	if p.MaxQueueSize != nil {
		cfg.MaxQueueSize = *p.MaxQueueSize
	}
	if p.MaxTaskDurationMs != nil {
		cfg.MaxTaskDurationMs = *p.MaxTaskDurationMs
	}
	if p.MaxTotalQueueDurationMs != nil {
		cfg.MaxTotalQueueDurationMs = *p.MaxTotalQueueDurationMs
	}
	if p.AutoStart != nil {
		cfg.AutoStart = *p.AutoStart
	}
	if p.PriorityHandling != nil {
		cfg.PriorityHandling = *p.PriorityHandling
	}
	if p.RetryEnabled != nil {
		cfg.RetryEnabled = *p.RetryEnabled
	}
	if p.MaxRetries != nil {
		cfg.MaxRetries = *p.MaxRetries
	}
	if p.ValidationEnabled != nil {
		cfg.ValidationEnabled = *p.ValidationEnabled
	}
	if p.SyncIntervalMs != nil {
		cfg.SyncIntervalMs = *p.SyncIntervalMs
	}
	if p.OfflineProcessingEnabled != nil {
		cfg.OfflineProcessingEnabled = *p.OfflineProcessingEnabled
	}
	if p.PauseOnError != nil {
		cfg.PauseOnError = *p.PauseOnError
	}
	if p.ResumeOnResourceAvailable != nil {
		cfg.ResumeOnResourceAvailable = *p.ResumeOnResourceAvailable
	}
	if p.PersistenceIntervalMs != nil {
		cfg.PersistenceIntervalMs = *p.PersistenceIntervalMs
	}
	if p.IntegrityCheckIntervalMs != nil {
		cfg.IntegrityCheckIntervalMs = *p.IntegrityCheckIntervalMs
	}
	if p.MaxHistorySize != nil {
		cfg.MaxHistorySize = *p.MaxHistorySize
	}
	if p.SnapshotIntervalMs != nil {
		cfg.SnapshotIntervalMs = *p.SnapshotIntervalMs
	}
	if p.MaxSnapshots != nil {
		cfg.MaxSnapshots = *p.MaxSnapshots
	}
	return cfg
}

// ValidateConfig reports the first problem with cfg, or "" when it is
// usable.
func ValidateConfig(cfg QueueConfig) string {
	switch {
	case cfg.MaxQueueSize <= 0:
		return "max_queue_size must be positive"
	case cfg.MaxTaskDurationMs <= 0:
		return "max_task_duration_ms must be positive"
	case cfg.MaxTotalQueueDurationMs <= 0:
		return "max_total_queue_duration_ms must be positive"
	case cfg.MaxRetries < 0:
		return "max_retries must not be negative"
	case cfg.SyncIntervalMs <= 0:
		return "sync_interval_ms must be positive"
	case cfg.PersistenceIntervalMs <= 0:
		return "persistence_interval_ms must be positive"
	case cfg.IntegrityCheckIntervalMs <= 0:
		return "integrity_check_interval_ms must be positive"
	case cfg.MaxHistorySize <= 0:
		return "max_history_size must be positive"
	case cfg.SnapshotIntervalMs <= 0:
		return "snapshot_interval_ms must be positive"
	case cfg.MaxSnapshots <= 0:
		return "max_snapshots must be positive"
	}
	return ""
}
