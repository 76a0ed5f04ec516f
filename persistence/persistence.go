// Package persistence defines the durable append-log + snapshot contract
// the stateful engine variant relies on for fast restore (§6.3). Temporal's
// own workflow history is already durable replay storage; this contract
// sits alongside it as an explicit, queryable record of case state so a
// case can be restored without replaying an entire workflow history.
package persistence

import (
	"context"
	"time"
)

// Entry is one opaque durable record: either a firing outcome or an
// external event outcome (§4.3.3 "firings are deterministic" is what makes
// replaying a case's entries sufficient to reconstruct its state).
type Entry struct {
	CaseID    string
	Seq       int64 // assigned by the Log, monotonically increasing per case
	Payload   []byte
	Timestamp time.Time
}

// Snapshot is a point-in-time serialization of a case's full state, tagged
// with the sequence number of the last entry it reflects.
type Snapshot struct {
	CaseID    string
	Payload   []byte
	AsOfSeq   int64
	Timestamp time.Time
}

// Log is the persistence collaborator the stateful engine depends on.
// Implementations must guarantee that Append is ordered: Read returns
// entries in the order they were appended, and replaying them atop the
// latest snapshot reconstructs the same case state.
type Log interface {
	// Append durably stores payload as the next entry for caseID and
	// returns it with its assigned sequence number.
	Append(ctx context.Context, caseID string, payload []byte) (Entry, error)
	// Snapshot durably stores payload as the case's state as of asOfSeq.
	Snapshot(ctx context.Context, caseID string, payload []byte, asOfSeq int64) (Snapshot, error)
	// Read returns the latest snapshot (zero value if none taken yet) and
	// every entry appended after it, in order.
	Read(ctx context.Context, caseID string) (Snapshot, []Entry, error)
}
