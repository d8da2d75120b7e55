package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberhollow/taskmill/pkg/engine"
	"github.com/emberhollow/taskmill/pkg/log"
	"github.com/emberhollow/taskmill/pkg/metrics"
	"github.com/emberhollow/taskmill/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskmill",
	Short: "Taskmill - Durable task queue engine for idle games",
	Long: `Taskmill runs player task queues that keep making progress while
players are offline. Queues survive crashes through atomic persistence,
snapshots and a layered recovery pipeline, all in a single binary with
an embedded database.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Taskmill version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// loadConfig reads the file named by --config (defaults apply when the
// flag is empty or the file is missing) and applies flag overrides.
func loadConfig(cmd *cobra.Command) (engine.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := engine.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

// openEngine builds an engine over the data directory without starting
// the scheduler or any listeners, for admin commands that talk to the
// store directly. If a running server holds the database lock this
// fails within a second instead of hanging.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Metrics.Addr = ""
	log.Init(log.Config{Level: log.ErrorLevel})

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory %s: %v", cfg.DataDir, err)
	}
	return eng, nil
}

func adminContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Serve command

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task queue engine",
	Long: `Run the engine daemon: the background scheduler that advances every
running queue, the resource monitor, the event broker and, unless
disabled, the HTTP endpoint serving health checks and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		metrics.SetVersion(Version)

		fmt.Println("Starting taskmill engine...")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  Scheduler Workers: %d\n", cfg.Scheduler.Workers)
		if cfg.Metrics.Addr != "" {
			fmt.Printf("  Metrics Address: %s\n", cfg.Metrics.Addr)
		}
		fmt.Println()

		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create engine: %v", err)
		}
		eng.Start()
		fmt.Println("✓ Engine started")

		fmt.Println()
		fmt.Println("Engine is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := eng.Stop(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

// Queue commands

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage player queues",
}

var queueInspectCmd = &cobra.Command{
	Use:   "inspect PLAYER",
	Short: "Show a player's queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		q, err := eng.Peek(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load queue: %v", err)
		}
		printQueue(q)
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats PLAYER",
	Short: "Show queue statistics for a player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		s, err := eng.Statistics(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to compute statistics: %v", err)
		}

		fmt.Printf("Statistics for %s\n", s.PlayerID)
		fmt.Printf("  Tasks Completed: %d\n", s.TasksCompleted)
		fmt.Printf("  Tasks Failed: %d\n", s.TasksFailed)
		fmt.Printf("  Time Spent: %s\n", fmtDuration(s.TimeSpentMs))
		fmt.Printf("  Queued: %d\n", s.QueuedCount)
		fmt.Printf("  Average Task Duration: %s\n", fmtDuration(s.AverageTaskDurationMs))
		fmt.Printf("  Estimated Clear Time: %s\n", fmtDuration(s.EstimatedClearMs))
		fmt.Printf("  Completion Rate: %.1f%%\n", s.CompletionRate*100)
		fmt.Printf("  Utilization: %.1f%%\n", s.Utilization*100)
		fmt.Printf("  Efficiency Score: %.2f\n", s.EfficiencyScore)
		return nil
	},
}

var queueHealthCmd = &cobra.Command{
	Use:   "health PLAYER",
	Short: "Run a health check on a player's queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		h, err := eng.QueueHealth(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to check queue health: %v", err)
		}

		fmt.Printf("Health for %s: %s\n", h.PlayerID, h.Overall)
		for _, issue := range h.Issues {
			fmt.Printf("  ! %s\n", issue)
		}
		for _, rec := range h.Recommendations {
			fmt.Printf("  > %s\n", rec)
		}
		return nil
	},
}

var queuePauseCmd = &cobra.Command{
	Use:   "pause PLAYER",
	Short: "Pause a player's queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		noResume, _ := cmd.Flags().GetBool("no-resume")

		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		q, err := eng.Pause(ctx, args[0], reason, !noResume)
		if err != nil {
			return fmt.Errorf("failed to pause queue: %v", err)
		}

		fmt.Printf("✓ Queue paused for %s\n", q.PlayerID)
		if q.PauseReason != "" {
			fmt.Printf("  Reason: %s\n", q.PauseReason)
		}
		return nil
	},
}

var queueResumeCmd = &cobra.Command{
	Use:   "resume PLAYER",
	Short: "Resume a paused queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		q, err := eng.Resume(ctx, args[0], force)
		if err != nil {
			return fmt.Errorf("failed to resume queue: %v", err)
		}

		fmt.Printf("✓ Queue resumed for %s\n", q.PlayerID)
		if q.CurrentTask != nil {
			fmt.Printf("  Current Task: %s\n", q.CurrentTask.Name)
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueInspectCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueHealthCmd)
	queueCmd.AddCommand(queuePauseCmd)
	queueCmd.AddCommand(queueResumeCmd)

	queuePauseCmd.Flags().String("reason", "Paused by operator", "Reason recorded on the queue")
	queuePauseCmd.Flags().Bool("no-resume", false, "Block the player from resuming")
	queueResumeCmd.Flags().Bool("force", false, "Resume even when the pause blocked resuming")
}

// Snapshot commands

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage queue snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list PLAYER",
	Short: "List a player's snapshots, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		snaps, err := eng.Snapshots(ctx, args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %v", err)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots found.")
			return nil
		}

		for _, s := range snaps {
			fmt.Println(s.ID)
			fmt.Printf("  Taken: %s\n", fmtMillis(s.TimestampMs))
			fmt.Printf("  Reason: %s\n", s.Reason)
			fmt.Printf("  Version: %d (schema %d)\n", s.Version, s.SchemaVersion)
		}
		return nil
	},
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create PLAYER",
	Short: "Snapshot a player's queue now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		snap, err := eng.CreateSnapshot(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to create snapshot: %v", err)
		}

		fmt.Printf("✓ Snapshot created: %s\n", snap.ID)
		fmt.Printf("  Version: %d\n", snap.Version)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore PLAYER SNAPSHOT_ID",
	Short: "Roll a queue back to a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		ctx, cancel := adminContext()
		defer cancel()

		q, err := eng.RestoreSnapshot(ctx, args[1], args[0])
		if err != nil {
			return fmt.Errorf("failed to restore snapshot: %v", err)
		}

		fmt.Printf("✓ Queue restored to snapshot %s\n", args[1])
		fmt.Printf("  Version: %d\n", q.Version)
		if q.CurrentTask != nil {
			fmt.Printf("  Current Task: %s\n", q.CurrentTask.Name)
		}
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)

	snapshotListCmd.Flags().Int("limit", 20, "Maximum snapshots to list")
}

// Output helpers

func printQueue(q *types.TaskQueue) {
	fmt.Printf("Player: %s\n", q.PlayerID)
	fmt.Printf("  State: %s\n", queueState(q))
	if q.IsPaused && q.PauseReason != "" {
		fmt.Printf("  Pause Reason: %s\n", q.PauseReason)
	}
	fmt.Printf("  Version: %d (schema %d)\n", q.Version, q.SchemaVersion)
	fmt.Printf("  Updated: %s\n", fmtMillis(q.LastUpdatedMs))
	fmt.Printf("  Completed: %d  Failed: %d\n",
		q.Totals.TasksCompleted, q.Totals.TasksFailed)

	if ct := q.CurrentTask; ct != nil {
		fmt.Println()
		fmt.Printf("Current task: %s (%s)\n", ct.Name, ct.ID)
		fmt.Printf("  Type: %s\n", ct.Type)
		fmt.Printf("  Progress: %.1f%%\n", ct.Progress*100)
		fmt.Printf("  Duration: %s\n", fmtDuration(ct.DurationMs))
	}

	if len(q.QueuedTasks) > 0 {
		fmt.Println()
		fmt.Printf("Queued (%d):\n", len(q.QueuedTasks))
		for i, t := range q.QueuedTasks {
			fmt.Printf("  %d. %s (%s, %s)\n", i+1, t.Name, t.Type, fmtDuration(t.DurationMs))
		}
	}
}

func queueState(q *types.TaskQueue) string {
	switch {
	case q.IsPaused:
		return "paused"
	case q.IsRunning:
		return "running"
	default:
		return "idle"
	}
}

func fmtMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func fmtDuration(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
