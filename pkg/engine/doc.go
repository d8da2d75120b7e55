/*
Package engine assembles and runs the task-queue engine: one
constructor wires every subsystem, one facade exposes every operation,
and Start/Stop own the background machinery.

Hosts embed the engine in their own process (a game server, a CLI, a
test). It opens a data directory, runs the scheduler against it, and
answers queue operations; transport, authentication and matchmaking
stay the host's business.

# Architecture

	                         ┌────────────────────┐
	     host calls ───────▶ │       Engine       │
	                         │      (facade)      │
	                         └─────────┬──────────┘
	        ┌──────────┬──────────┬────┴─────┬───────────┬──────────┐
	        ▼          ▼          ▼          ▼           ▼          ▼
	   ┌────────┐ ┌─────────┐ ┌────────┐ ┌────────┐ ┌─────────┐ ┌───────┐
	   │ queue  │ │scheduler│ │reconcile│ │recovery│ │snapshot │ │migrat.│
	   │manager │ │  loop   │ │        │ │        │ │  store  │ │runner │
	   └───┬────┘ └────┬────┘ └───┬────┘ └───┬────┘ └────┬────┘ └───┬───┘
	       └───────────┴──────────┴─────┬────┴────────────┴─────────┘
	                                    ▼
	                         ┌────────────────────┐
	                         │   persist.Store    │  validate/repair,
	                         │                    │  versioned writes
	                         └─────────┬──────────┘
	                                   ▼
	                         ┌────────────────────┐
	                         │  storage.BoltStore │  one file, flocked
	                         └────────────────────┘

	   cross-cutting: events.Broker, monitor.Monitor, retry.Controller,
	   rewards.Registry, metrics collector + HTTP listener

New builds the whole graph from a Config; nothing else constructs
engine subsystems, so the wiring (snapshotter cycle, shared broker,
shared breakers) lives in exactly one place. Start brings up the
broker, monitor, scheduler, collector, degradation watcher, expired
record sweep and - when configured - the observability listener.
Stop tears them down in reverse and closes the store, releasing the
data directory's lock.

# Session Open: Load

Load is the path a host calls when a player connects, and it composes
three subsystems so hosts do not have to:

 1. Fetch or create the queue. A failed load (corruption, decode
    error) is routed through the recovery orchestrator instead of
    surfacing; LoadResult.Recovered carries what recovery did.
 2. If the queue already existed and offline processing is enabled,
    reconcile the gap since last save. LoadResult.Offline reports the
    credited minutes, completions and rewards; reconciliation errors
    are logged and swallowed so a catch-up bug never blocks login.
 3. Seed the recovery cache with the final queue, so a later storage
    outage can still serve this player's last-known-good state.

LoadResult.Degraded means an unpersisted emergency queue was handed
out under severe degradation; the stored record is untouched.

# Facade Operations

Everything else delegates to one subsystem and keeps its semantics:

	Queue, AddTask, RemoveTask, Reorder, ClearQueue,
	Pause, Resume, UpdateConfig                       → queue manager
	Statistics, QueueHealth                           → queue manager (cached)
	ProcessQueue                                      → scheduler (on demand)
	Reconcile                                         → offline catch-up
	Recover                                           → recovery ladder
	Snapshots, CreateSnapshot, RestoreSnapshot        → snapshot store
	MigrationRegistry, Migrate, MigrationRecords      → migration runner
	Peek                                              → raw read, no create

Peek exists for inspection tooling: unlike Queue it never creates a
record, so a mistyped player ID stays PER_NOT_FOUND. Broker, Rewards
and Monitor expose the shared collaborators for host subscriptions,
custom calculators and operator overrides.

# Degradation Response

The engine subscribes to monitor level changes. On entering severe it
pauses every running queue with the overload reason (players cannot
self-resume); when the level returns to none it force-resumes exactly
the queues it paused - overload reason, opted in via
ResumeOnResourceAvailable - and leaves player-initiated pauses alone.
Between those edges, the per-package shedding (admission refusal,
snapshot-cadence stretching, recovery shortcuts) does the finer-grained
work.

# Configuration

Config is YAML with millisecond interval fields, loaded over defaults;
a missing file is not an error, so `taskmill serve` runs with stock
settings out of the box:

	data_dir: /var/lib/taskmill
	log:
	  level: info
	  json: true
	scheduler:
	  workers: 4
	  tick_interval_ms: 5000
	metrics:
	  addr: ":9090"       # empty string disables the listener
	queue:                # overrides per-queue defaults, patch-style
	  max_queue_size: 100

# Usage

	cfg, err := engine.LoadConfig("/etc/taskmill/config.yaml")
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	eng.WithStats(statsProvider) // optional, before Start
	eng.Start()
	defer eng.Stop()

	res, err := eng.Load(ctx, playerID)
	q, err := eng.AddTask(ctx, playerID, task)

# Design Patterns

Facade over re-export. The engine returns subsystem types (a
reconcile.Report, a recovery.Result) rather than wrapping them; hosts
that need depth import the subsystem package and get the same objects.

One clock. WithClock threads a single time source through every
subsystem, which is what lets tests drive ticks, TTLs, breakers and
offline gaps deterministically from one fake clock.

Background work is owned. Every goroutine Start launches is tracked on
a WaitGroup and bound to one stop channel; Stop is idempotent and does
not return until they exit and the store is closed.

# Troubleshooting

New fails with a storage timeout: another process holds the data
directory's lock - usually a running daemon. One engine per directory.

Players stuck paused with an overload reason after an incident: their
queues have ResumeOnResourceAvailable disabled, so auto-resume skipped
them. Resume with force via the facade or the CLI.

/metrics unreachable: Metrics.Addr is empty (listener disabled) or the
port is taken - the listener failure is logged, not fatal.

# See Also

  - cmd/taskmill - the daemon and admin CLI built on this facade
  - pkg/queue - the mutation rules behind the queue operations
  - pkg/persist - the write path every subsystem shares
  - pkg/monitor - where degradation levels come from
*/
package engine
