/*
Package integrity detects and repairs corruption in queue records.

It owns three related pieces: the canonical checksum that travels with
every persisted queue, the Validator that inspects a queue against a
fixed rule set, and the Repairer that fixes what the rules flagged.
Persistence runs all three on every load and save, so corruption is
caught at the read that would have spread it, not in a nightly audit.

# Checksums

A queue's checksum is the SHA-256 hex digest of its canonical subset -
a pipe-delimited rendering of the fields that define queue identity and
progress totals:

	completed=|current=|paused=|player=|running=|tasks=|time_spent=

Keys appear in lexicographic order with no whitespace, the current task
ID falls back to the sentinel "null", and queued task IDs are sorted so
two queues holding the same tasks hash identically regardless of
insertion history. The canonical form is deliberately not JSON: it
cannot drift when struct fields are added, because only these seven
fields participate.

	sum := integrity.Checksum(q)          // compute
	ok := integrity.VerifyChecksum(q)     // compare against q.Checksum

A checksum mismatch on load means the blob changed outside the save
path (disk fault, manual edit); it surfaces as a validation error and
the repair pass recomputes it after verifying the rest of the record.

# Validation

Validator.Check runs every rule and returns a Report:

	report := validator.Check(q)
	report.Valid()        // no findings at all
	report.HasCritical()  // something repair cannot be trusted to fix
	report.CanRepair      // whether the Repairer knows how to proceed

The rules, stable by CheckCode:

	MISSING_PLAYER_ID       critical; record without an owner
	CHECKSUM_MISMATCH       major; stored hash disagrees with content
	ORPHANED_CURRENT_TASK   major; running flags disagree with task state
	DUPLICATE_TASK_IDS      major; same ID current and/or queued twice
	NEGATIVE_STATS          major; lifetime counters below zero
	FUTURE_TIMESTAMP        minor; timestamps ahead of the clock
	QUEUE_SIZE_EXCEEDED     minor; more queued tasks than config allows
	HISTORY_SIZE_EXCEEDED   minor; history beyond its bound

Findings carry severity (critical, major, minor), a message and the
task IDs involved. The report's IntegrityScore folds counts into a
0-100 number used in health output; Errors hold critical and major
findings, Warnings hold minor ones.

# Repair

The Repairer consumes a queue and its report and applies the narrowest
fix per finding, recording each as a RepairAction:

	update_checksum        recompute after content-only fixes
	fix_timestamps         clamp future times to now
	remove_invalid_task    drop duplicates and queue overflow
	recalculate_stats      clamp negative counters to zero
	reset_state            clear the in-flight slot when it is inconsistent
	trim_history           cut history to its configured bound

	result, err := repairer.Repair(q, report)
	if result.Changed() {
		// queue mutated in memory; caller decides whether to save
	}

Repair mutates in memory only - persistence decides whether the
repaired queue is written back (it is, on the load path, bumping the
version like any other write). A record whose report says CanRepair is
false - missing player ID being the canonical case - is left untouched
and the load fails with PER_QUEUE_UNREPAIRABLE, handing the problem to
the recovery pipeline which has snapshots and backups to draw on.

# Usage

Both pieces are built once and shared; they are stateless apart from
the injected clock:

	validator := integrity.NewValidator()
	repairer := integrity.NewRepairer(validator)

	report := validator.Check(q)
	if !report.Valid() && report.CanRepair {
		result, _ := repairer.Repair(q, report)
		for _, a := range result.Applied {
			metrics.RepairsTotal.WithLabelValues(string(a)).Inc()
		}
	}

WithClock pins time in tests so future-timestamp rules can be exercised
deterministically.

# Design Patterns

Detect and repair are separate passes. The Validator never mutates and
the Repairer never re-detects; the report is the contract between
them. Tests assert on findings and on actions independently.

Narrow fixes only. Repair actions restore invariants using information
already inside the record (drop, clamp, trim, recompute). Anything
that would require inventing data - a missing owner, an undecodable
blob - is declared unrepairable and routed to recovery instead.

Severity drives policy, not wording. Persistence and health endpoints
branch on severity and CanRepair; messages exist for logs and humans.

# See Also

  - pkg/persist - runs Check and Repair on every load and save
  - pkg/recovery - handles what repair declares unrepairable
  - pkg/queue - surfaces findings in queue health output
*/
package integrity
