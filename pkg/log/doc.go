/*
Package log provides structured logging for all Taskmill components.

Built on zerolog, it exposes one global logger plus helpers that derive
child loggers carrying the fields the rest of the codebase keys on:
component, player_id, task_id and snapshot_id. Every package logs
through here so output stays uniform whether the engine runs embedded
in a game server or as the taskmill daemon.

# Architecture

The package wraps zerolog behind a small surface:

	┌──────────────────────────────────────────────┐
	│                  Callers                     │
	│  (engine, queue, persist, recovery, ...)     │
	└───────────────┬──────────────────────────────┘
	                │ WithComponent / WithPlayerID
	                ▼
	┌──────────────────────────────────────────────┐
	│               log.Logger                     │
	│     global zerolog.Logger, set by Init       │
	└───────────────┬──────────────────────────────┘
	                │
	     ┌──────────┴──────────┐
	     ▼                     ▼
	JSON output          Console output
	(production)         (development)

The global Logger starts as zerolog.Nop(), so a library embedding
Taskmill that never calls Init gets silence rather than surprise
output. Init replaces it in place; child loggers created afterwards
inherit the configuration.

# Core Components

Config controls the single Init call:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,       // false renders a console writer
		Output:     nil,        // nil means os.Stdout
	})

Child-logger constructors attach the standard correlation fields:

	logger := log.WithComponent("scheduler")
	logger.Info().Str("player_id", id).Msg("queue processed")

	log.WithPlayerID("player-1").Warn().Msg("checksum mismatch")
	log.WithTaskID("task-9").Debug().Msg("progress advanced")
	log.WithSnapshotID("snap-3").Info().Msg("snapshot restored")

Package-level Info/Debug/Warn/Error/Errorf/Fatal cover one-off messages
where building a child logger is not worth it, mainly in main packages
and tests.

# Log Levels

Four levels, lowest to highest:

  - debug: per-queue decisions, skipped work, cache hits. High volume;
    intended for local runs and incident digs.
  - info: lifecycle events - engine start/stop, task completion,
    snapshots, migrations, recovery outcomes.
  - warn: degraded-but-handled situations - validation findings that
    were repaired, reconcile failures that kept a loaded queue, load
    shed under resource pressure.
  - error: operations that failed and surfaced to the caller.

Init maps unknown level strings to info, so a bad config never
disables logging. zerolog's global level filter applies before any
formatting work, keeping suppressed levels nearly free.

# Component Names

Each package passes a fixed component name so output can be filtered
per subsystem:

	engine, queue, scheduler, persist, snapshot, migration,
	reconcile, recovery, monitor

Operators grep or route on this field; dashboards group by it. New
packages should pick one short lowercase word and keep it stable.
pkg/storage and pkg/events stay silent and surface errors instead;
pkg/metrics speaks Prometheus, not logs.

# Usage

Library embedding (host owns the process):

	import "github.com/emberhollow/taskmill/pkg/log"

	log.Init(log.Config{Level: log.WarnLevel, JSONOutput: true})

Daemon (taskmill serve wires the config file through):

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

Per-record correlation inside a component:

	logger := log.WithComponent("persist")

	logger.Debug().
		Str("player_id", playerID).
		Int64("version", q.Version).
		Msg("queue saved")

Error logging keeps the error in its own field:

	logger.Error().Err(err).Str("player_id", id).Msg("recovery failed")

# Log Output Examples

JSON output (production):

	{"level":"info","component":"engine","data_dir":"./data","time":"2026-08-25T10:00:00Z","message":"engine started"}
	{"level":"warn","component":"queue","player_id":"p1","time":"2026-08-25T10:00:05Z","message":"queue paused under load"}

Console output (development):

	2026-08-25T10:00:00Z INF engine started component=engine data_dir=./data
	2026-08-25T10:00:05Z WRN queue paused under load component=queue player_id=p1

# Design Patterns

One global, many children. Components never carry their own writer or
level; they derive children from the global and attach fields. That
keeps reconfiguration a single Init call and makes test silence the
default.

Fields over formatting. Messages are short fixed strings; everything
variable travels as a typed field. This keeps output machine-parsable
and makes the message itself greppable.

No exits from libraries. Fatal exists for main packages only; library
code returns errors instead of ending the process.

# Performance Characteristics

zerolog writes JSON without reflection in the common path. Suppressed
levels cost one atomic load. The console writer is slower (it reparses
the JSON event to colorize it) and is meant for development; production
should keep JSONOutput true.

Child loggers copy their field set once at construction, so the
package-level children (one per component) are effectively free at log
time.

# Troubleshooting

No output at all: Init was never called - the global starts as a nop.
Check the binary's startup path.

Debug lines missing: the global level filters them; rerun with
level=debug. Levels change only through Init, so reconfigure and
restart.

Mixed formats in one stream: two processes sharing a log file with
different JSONOutput settings; align their configs.

# See Also

  - pkg/engine - wires Config from the daemon config file
  - pkg/metrics - numeric counterpart to these logs
  - https://github.com/rs/zerolog - underlying logger
*/
package log
