package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/emberhollow/taskmill/pkg/types"
)

// NullTaskID is encoded when a queue has no task in flight.
const NullTaskID = "null"

// CanonicalSubset renders the stable subset of a queue as the textual
// form the checksum is computed over: keys in lexicographic order, no
// whitespace, queued task ids sorted so insertion order does not change
// the hash.
func CanonicalSubset(q *types.TaskQueue) string {
	current := NullTaskID
	if q.CurrentTask != nil {
		current = q.CurrentTask.ID
	}

	ids := make([]string, 0, len(q.QueuedTasks))
	for _, t := range q.QueuedTasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	return fmt.Sprintf("completed=%d|current=%s|paused=%t|player=%s|running=%t|tasks=%s|time_spent=%d",
		q.Totals.TasksCompleted,
		current,
		q.IsPaused,
		q.PlayerID,
		q.IsRunning,
		strings.Join(ids, ","),
		q.Totals.TimeSpentMs,
	)
}

// Checksum returns the SHA-256 hex digest of the canonical subset.
func Checksum(q *types.TaskQueue) string {
	sum := sha256.Sum256([]byte(CanonicalSubset(q)))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether the stored checksum matches the
// computed one. Records are stamped on every save, so an empty
// checksum never verifies.
func VerifyChecksum(q *types.TaskQueue) bool {
	if q.Checksum == "" {
		return false
	}
	return q.Checksum == Checksum(q)
}
