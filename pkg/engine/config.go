package engine

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emberhollow/taskmill/pkg/errs"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/recovery"
	"github.com/emberhollow/taskmill/pkg/scheduler"
	"github.com/emberhollow/taskmill/pkg/types"
)

// Config is the engine's top-level configuration. Interval fields are
// milliseconds, matching the queue-config convention.
type Config struct {
	// DataDir holds the bolt database. Created if missing.
	DataDir string `yaml:"data_dir"`

	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Recovery  RecoveryConfig  `yaml:"recovery"`

	// Queue overrides individual per-queue defaults; absent keys keep
	// the stock values.
	Queue *types.ConfigPatch `yaml:"queue"`

	// SweepIntervalMs is the cadence of the expired-record sweep.
	SweepIntervalMs int64 `yaml:"sweep_interval_ms"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SchedulerConfig tunes the processing loop.
type SchedulerConfig struct {
	Workers        int   `yaml:"workers"`
	TickIntervalMs int64 `yaml:"tick_interval_ms"`
	ScanLimit      int   `yaml:"scan_limit"`
}

// MonitorConfig tunes the resource monitor.
type MonitorConfig struct {
	MemoryBudgetMiB  int   `yaml:"memory_budget_mib"`
	GoroutineBudget  int   `yaml:"goroutine_budget"`
	SampleIntervalMs int64 `yaml:"sample_interval_ms"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr              string `yaml:"addr"`
	CollectIntervalMs int64  `yaml:"collect_interval_ms"`
}

// RecoveryConfig tunes the recovery orchestrator.
type RecoveryConfig struct {
	StrategyTimeoutMs  int64 `yaml:"strategy_timeout_ms"`
	SnapshotCandidates int   `yaml:"snapshot_candidates"`
	CacheSize          int   `yaml:"cache_size"`
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		DataDir: "./data",
		Log: LogConfig{
			Level: string(log.InfoLevel),
			JSON:  true,
		},
		Scheduler: SchedulerConfig{
			Workers:        scheduler.DefaultWorkers,
			TickIntervalMs: scheduler.DefaultTickInterval.Milliseconds(),
			ScanLimit:      scheduler.DefaultScanLimit,
		},
		Monitor: MonitorConfig{
			MemoryBudgetMiB:  512,
			GoroutineBudget:  10_000,
			SampleIntervalMs: 5_000,
		},
		Metrics: MetricsConfig{
			Addr:              ":9090",
			CollectIntervalMs: 15_000,
		},
		Recovery: RecoveryConfig{
			StrategyTimeoutMs:  recovery.DefaultStrategyTimeout.Milliseconds(),
			SnapshotCandidates: recovery.DefaultSnapshotCandidates,
			CacheSize:          recovery.DefaultCacheSize,
		},
		SweepIntervalMs: 3_600_000, // hourly
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errs.Wrap(errs.SysInternal, err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errs.Wrap(errs.ValConfigInvalid, err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errs.New(errs.ValConfigInvalid, "data_dir must be set")
	}
	defaults := c.QueueDefaults()
	if msg := types.ValidateConfig(defaults); msg != "" {
		return errs.New(errs.ValConfigInvalid, "queue defaults: %s", msg)
	}
	return nil
}

// QueueDefaults resolves the per-queue defaults with any overrides
// applied.
func (c Config) QueueDefaults() types.QueueConfig {
	return c.Queue.Apply(types.DefaultQueueConfig())
}

func (c Config) tickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalMs) * time.Millisecond
}

func (c Config) sampleInterval() time.Duration {
	return time.Duration(c.Monitor.SampleIntervalMs) * time.Millisecond
}

func (c Config) collectInterval() time.Duration {
	return time.Duration(c.Metrics.CollectIntervalMs) * time.Millisecond
}

func (c Config) strategyTimeout() time.Duration {
	return time.Duration(c.Recovery.StrategyTimeoutMs) * time.Millisecond
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepIntervalMs <= 0 {
		return time.Hour
	}
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}
