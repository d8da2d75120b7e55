/*
Package metrics provides Prometheus instrumentation and health
reporting for the engine.

It defines every metric the engine emits, a background collector that
derives gauge values from the store, and the HTTP handlers the daemon
mounts for /metrics, /health, /ready and /live. Packages poke their
counters directly; nothing here is required for correctness, so a host
that never scrapes loses observability and nothing else.

# Architecture

	 instrumented packages              scrape path
	 (queue, persist, snapshot,   ┌───────────────────┐
	  reconcile, recovery,    ──▶ │ prometheus default │ ──▶ /metrics
	  scheduler, engine)          │     registry       │
	                              └───────────────────┘
	 storage ──▶ Collector ──▶ gauges      health registry ──▶ /health /ready

Counters and histograms are updated inline at the call sites that own
the fact being counted. Gauges that describe stored state (queues by
state, snapshot count) cannot be maintained incrementally without
drift, so the Collector recomputes them from store queries on a timer.

# Metric Inventory

Queue state (gauges, kept by the Collector):

	taskmill_queues_total{state}        running | paused | idle
	taskmill_queued_tasks_total         tasks waiting across all queues
	taskmill_snapshots_stored           snapshot records on disk

Task flow (counters):

	taskmill_tasks_completed_total{type}
	taskmill_tasks_failed_total{type}
	taskmill_rewards_granted_total{kind}
	taskmill_offline_minutes_credited_total

Durability and integrity (counters):

	taskmill_save_conflicts_total            optimistic-lock retries
	taskmill_validation_failures_total{code}
	taskmill_repairs_total{action}
	taskmill_snapshots_created_total{reason}
	taskmill_snapshots_pruned_total

Recovery and degradation:

	taskmill_recoveries_total{strategy, outcome}
	taskmill_recovery_rejections_total       fail-fasts while circuit open
	taskmill_degradation_level               0 none .. 3 severe

Latency (histograms):

	taskmill_tick_duration_seconds           one scheduler pass
	taskmill_process_duration_seconds        one queue advance
	taskmill_reconcile_duration_seconds      one offline reconciliation

# Usage

Incrementing from an instrumented package:

	metrics.TasksCompletedTotal.WithLabelValues(string(task.Type)).Inc()
	metrics.SaveConflictsTotal.Inc()

Timing a block:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

Serving (the daemon does this; embedded hosts may mount Handler on
their own mux):

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

Running the collector:

	col := metrics.NewCollector(store).WithInterval(15 * time.Second)
	col.Start()
	defer col.Stop()

# Health Reporting

Health is component-based. Long-running parts register themselves and
update their status as conditions change:

	metrics.RegisterComponent("storage", true, "")
	metrics.UpdateComponent("storage", false, "ttl sweep failed")

GetHealth folds component states into one verdict: healthy when all
components are, unhealthy when any is not. HealthHandler serves it as
JSON with per-component detail; ReadyHandler returns 503 until the
critical components (storage and scheduler) report healthy, which is
what keeps load balancers away during startup; LivenessHandler always
returns 200 so orchestrators only restart a process that is truly
wedged.

SetVersion stamps the build version into health responses; the daemon
calls it with its ldflags version at startup.

# Design Patterns

Definition in one place. Every metric is declared in this package and
registered once in init, so the full observable surface is readable in
one file and name collisions cannot happen at a distance.

Pokes at the owning call site. The package that decides a fact records
it - persist counts conflicts, recovery counts strategies. Nothing
re-derives another package's numbers.

Derived gauges from the store. The Collector treats storage as the
source of truth rather than shadowing state transitions, trading a
few index queries per interval for guaranteed agreement with what is
actually persisted.

# Performance Characteristics

Counter and histogram updates are lock-free atomics, nanoseconds each;
they are safe in the per-task hot path. The Collector's interval work
is two keyspace scans per cycle reading only denormalized attributes,
never queue blobs, tuned by WithInterval (default 15s). Handler serves
the default registry with compression; scrape cost is proportional to
series count, which is small and fixed here (label cardinality is
bounded to task types, reasons and strategies - never player IDs).

# Troubleshooting

Gauges stuck at zero: the Collector is not running (embedded host
never called Start) or its store scans are failing. Scan failures are
silent here; check the storage component in /health.

/ready stays 503: a component registered unhealthy; GET /health lists
which and why.

Missing per-player metrics: intentional. Player-level detail is in
logs and queue history; metrics stay low-cardinality by design.

# See Also

  - pkg/engine - mounts the handlers and owns collector lifecycle
  - pkg/log - per-event detail that metrics aggregate away
  - https://github.com/prometheus/client_golang - client library
*/
package metrics
