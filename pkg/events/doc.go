/*
Package events provides the in-process event stream for queue activity.

Every state change a host might care about - tasks added, started,
completed or failed, queues paused, repaired, recovered, snapshots
taken, migrations finished - is published here as a typed Event. Game
servers subscribe to push notifications to players ("Your smelting
finished!"), feed analytics, or mirror activity into their own systems
without polling queue state.

# Architecture

A single broker fans events out to every subscriber:

	 Publishers                                 Subscribers
	 (queue, scheduler,        ┌──────────┐     (game server,
	  reconcile, recovery, ──▶ │  Broker  │ ──▶  analytics,
	  engine)                  └──────────┘      notifications)
	            Publish()        buffered         one channel
	            never blocks     eventCh          per subscriber

Publish enqueues onto the broker's buffered channel and returns
immediately; a background goroutine (started by Start) drains it and
copies each event to every subscriber channel. Both hops drop rather
than block when a buffer is full, so a slow consumer can lose events
but can never stall task processing.

# Event Types

Task lifecycle:

	events.EventTaskAdded       "task.added"
	events.EventTaskStarted     "task.started"
	events.EventTaskCompleted   "task.completed"
	events.EventTaskFailed      "task.failed"
	events.EventTaskRemoved     "task.removed"

Queue lifecycle:

	events.EventQueuePaused     "queue.paused"
	events.EventQueueResumed    "queue.resumed"
	events.EventQueueCleared    "queue.cleared"
	events.EventQueueRepaired   "queue.repaired"
	events.EventQueueRecovered  "queue.recovered"

Durability:

	events.EventSnapshotCreated   "snapshot.created"
	events.EventSnapshotRestored  "snapshot.restored"
	events.EventMigrationCompleted "migration.completed"

The dotted names are stable; hosts route on prefix ("task.", "queue.")
or exact type.

# The Event Record

	type Event struct {
		ID        string            // fresh uuid per event
		Type      EventType
		PlayerID  string            // owner of the queue involved
		Timestamp time.Time         // set by Publish when zero
		Message   string            // short human-readable line
		Metadata  map[string]string // typed extras, see below
	}

Metadata carries the identifiers a consumer needs to act without a
lookup - task_id, snapshot_id, reason, credited_minutes and similar.
Builders chain:

	ev := events.NewEvent(events.EventTaskCompleted, playerID,
		"Oak logs chopped").
		WithMeta("task_id", task.ID).
		WithMeta("rewards", strconv.Itoa(len(task.Rewards)))
	broker.Publish(ev)

# Usage

Wiring (the engine does this for you):

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Consuming:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		switch ev.Type {
		case events.EventTaskCompleted:
			notifyPlayer(ev.PlayerID, ev.Message)
		case events.EventQueueRecovered:
			audit.Record(ev)
		}
	}

Subscribe returns a buffered channel owned by the broker; Unsubscribe
closes it, which ends the range loop above. Hosts embedding the engine
reach the broker through engine.Broker().

# Delivery Guarantees

Delivery is best-effort, at-most-once, in-process:

  - No persistence: events exist only in memory. Restart loses anything
    undelivered. Durable state lives in pkg/storage; events are signals,
    not the source of truth.
  - No blocking: a full subscriber buffer drops the event for that
    subscriber only. Other subscribers still receive it.
  - Ordering: events from one publisher arrive in publish order; there
    is no cross-publisher ordering promise.

Consumers that need a complete record should read queue history or the
completion journal, both persisted, and treat events as a low-latency
hint.

# Design Patterns

Fire and forget at the call site. Publishers never check for consumers
and never handle delivery errors; a system with zero subscribers runs
at full speed. This keeps event emission one line in the hot path.

Drop over block. Both the broker channel and subscriber channels use
non-blocking sends. The engine's primary obligation is advancing and
persisting queues; observability must never become backpressure.

Stop closes the broker's loop but not subscriber channels; Unsubscribe
remains the way to end a consumer cleanly. Double Stop panics, so
owners call it exactly once - the engine wraps it in its own once-
guarded shutdown.

# Performance Characteristics

Publish is a channel send under no lock. Broadcast holds a read lock
over the subscriber set and performs one non-blocking send per
subscriber, so cost scales linearly with subscriber count. Typical
deployments keep single-digit subscribers, making the broker invisible
in profiles next to persistence fsyncs.

# Troubleshooting

Missing events: the subscriber buffer filled while the consumer was
slow. Drain faster (hand off to a worker pool) or treat events as
hints and reconcile from persisted state.

No events at all: Start was never called - Publish drops into the
buffer but nothing drains it - or the engine was built without the
broker running. engine.Start handles both in the daemon.

Events after shutdown began: Publish and broadcast race Stop by
design; consumers should tolerate a few trailing events once they
initiate Unsubscribe.

# See Also

  - pkg/queue - primary publisher of task and queue events
  - pkg/recovery - publishes queue.recovered with strategy metadata
  - pkg/engine - owns broker lifecycle, exposes Broker()
*/
package events
