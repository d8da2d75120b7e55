/*
Package monitor samples process resource usage and derives the
system-wide degradation level that the rest of the engine sheds work
against.

The engine's load-shedding policy lives in the packages that do the
work; this package only answers one question on a 5 s cadence: how much
headroom does the process have right now? The answer is a four-step
Level, and every consumer picks its own cheaper behavior per level.

# Levels and Thresholds

Levels derive from three signals - heap in use against a configured
budget, GC CPU fraction, and goroutine count against a budget. The
worst signal wins:

	level     heap      gc cpu    goroutines
	none      < 70%     < 10%     < 70%
	minimal   ≥ 70%     ≥ 10%     ≥ 70%
	moderate  ≥ 85%     ≥ 25%     ≥ 85%
	severe    ≥ 95%     ≥ 50%     ≥ 100%

Defaults: 512 MiB heap budget, 10k goroutines, 5 s cadence. The budget
is policy, not a limit - the process is not killed at 100%, it just
sheds harder.

# What Each Level Means Downstream

The monitor prescribes nothing; these are the behaviors its consumers
implement:

  - minimal: recovery prefers its last-known-good cache and trims save
    retries.
  - moderate: recovery tries a checksum-only trusted load before the
    full strategy ladder.
  - severe: queue managers refuse new tasks (RES_SYSTEM_OVERLOADED)
    and stretch their statistics-cache TTL, the scheduler stretches
    its periodic snapshot cadence 4x, recovery hands out unpersisted
    emergency queues, and the engine pauses running queues with an
    overload reason. When the level returns to none the engine
    force-resumes the queues it paused.

# Usage

	mon := monitor.New(monitor.DefaultConfig())
	mon.Start()
	defer mon.Stop()

	if mon.Level() == monitor.LevelSevere {
		// shed
	}

Pollers call Level on their own cadence; reactive consumers subscribe:

	for level := range mon.Subscribe() {
		// fires only on change; slow readers miss updates, never block
	}

Operators (and tests) can pin the level during an incident:

	mon.SetLevel(monitor.LevelSevere) // sampling keeps running, level wins
	mon.ClearOverride()               // sampler takes back over

Snapshot returns the raw last sample for diagnostics - heap, budget,
GC fraction, goroutine count and when it was taken.

# Design Patterns

Hysteresis by coarseness. Four coarse levels with wide gaps between
thresholds keep consumers from flapping between behaviors on small
heap wobbles; level changes are rare enough to warrant a warn log.

Signals in, policy out. Packages consume the Level enum, never raw
MemStats, so re-tuning thresholds or adding a signal touches only
derive. The stats reader is injectable for tests.

Notification without backpressure. Subscriber channels are buffered
and sends never block; a stalled consumer misses intermediate levels
but always sees the latest on its next read.

# Troubleshooting

Level stuck at severe: check the "degradation level changed" warn log
for which signal tripped. A heap fraction pinned high usually means
the budget is undersized for the fleet; raise MemoryBudgetBytes rather
than living in permanent shed mode.

Level never changes under known load: a SetLevel override may still be
pinned. ClearOverride returns control to the sampler.

# See Also

  - pkg/engine - subscribes and pauses/resumes queues on severe
  - pkg/recovery - degradation shortcuts and emergency queues
  - pkg/scheduler - snapshot-cadence stretching under severe
  - pkg/queue - admission refusal and cache TTL stretching
*/
package monitor
