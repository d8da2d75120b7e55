package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue population metrics, sampled by the Collector.
	QueuesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmill_queues_total",
			Help: "Number of queues by state",
		},
		[]string{"state"},
	)

	QueuedTasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmill_queued_tasks_total",
			Help: "Tasks waiting across all queues",
		},
	)

	SnapshotsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmill_snapshots_stored",
			Help: "Snapshot records currently stored",
		},
	)

	// Advancement metrics, incremented by the scheduler and reconciler.
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_tasks_completed_total",
			Help: "Tasks completed by task type",
		},
		[]string{"type"},
	)

	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_tasks_failed_total",
			Help: "Tasks dropped after exhausting retries, by task type",
		},
		[]string{"type"},
	)

	RewardsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_rewards_granted_total",
			Help: "Reward quantity granted by reward kind",
		},
		[]string{"kind"},
	)

	OfflineMinutesCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmill_offline_minutes_credited_total",
			Help: "Whole minutes credited by offline reconciliation",
		},
	)

	// Persistence metrics.
	SaveConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmill_save_conflicts_total",
			Help: "Version conflicts hit while saving queues",
		},
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_validation_failures_total",
			Help: "Integrity findings by check code",
		},
		[]string{"code"},
	)

	RepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_repairs_total",
			Help: "Repair actions applied to queues",
		},
		[]string{"action"},
	)

	SnapshotsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_snapshots_created_total",
			Help: "Snapshots created by reason",
		},
		[]string{"reason"},
	)

	SnapshotsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmill_snapshots_pruned_total",
			Help: "Snapshots removed by per-player pruning or TTL sweep",
		},
	)

	// Recovery metrics.
	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmill_recoveries_total",
			Help: "Recovery strategy attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	RecoveryRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmill_recovery_rejections_total",
			Help: "Recovery requests rejected while the circuit is open",
		},
	)

	DegradationLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmill_degradation_level",
			Help: "Current degradation level (0 none, 1 minimal, 2 moderate, 3 severe)",
		},
	)

	// Latency metrics.
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskmill_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskmill_process_duration_seconds",
			Help:    "Single queue processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskmill_reconcile_duration_seconds",
			Help:    "Offline reconciliation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(QueuesByState)
	prometheus.MustRegister(QueuedTasksTotal)
	prometheus.MustRegister(SnapshotsStored)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(RewardsGrantedTotal)
	prometheus.MustRegister(OfflineMinutesCredited)
	prometheus.MustRegister(SaveConflictsTotal)
	prometheus.MustRegister(ValidationFailuresTotal)
	prometheus.MustRegister(RepairsTotal)
	prometheus.MustRegister(SnapshotsCreatedTotal)
	prometheus.MustRegister(SnapshotsPrunedTotal)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(RecoveryRejectionsTotal)
	prometheus.MustRegister(DegradationLevel)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(ProcessDuration)
	prometheus.MustRegister(ReconcileDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures one operation for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a labelled histogram.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
