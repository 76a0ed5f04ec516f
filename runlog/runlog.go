// Package runlog provides a durable, append-only event log for case
// introspection, distinct from the persistence log used for stateful-engine
// recovery (§6.3): this log exists purely so an operator or a caller can
// list what happened to a case, paginated, without replaying Petri-net
// state.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/telemetry"
)

// Event is a single immutable case event appended to the run log. Store
// implementations assign ID when persisting; IDs are opaque, monotonically
// ordered within a case, and suitable for cursor-based pagination.
type Event struct {
	ID        string
	CaseID    string
	Kind      runner.LifecycleEventKind
	TaskID    string
	ItemID    string
	Detail    string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Page is a forward page of case events.
type Page struct {
	Events     []*Event // ordered oldest-first
	NextCursor string   // empty when there are no further events
}

// Store is an append-only event store for case introspection.
// Implementations must provide stable ordering within a case; cursors are
// store-owned and opaque to callers.
type Store interface {
	// Append stores the event in the run log, assigning its ID.
	Append(ctx context.Context, e *Event) error
	// List returns the next forward page of events for caseID.
	List(ctx context.Context, caseID string, cursor string, limit int) (Page, error)
}

// Sink adapts a runner.EventSink onto a Store, so the Net Runner's
// lifecycle events land in the introspection log without the runner package
// knowing the log exists.
type Sink struct {
	Store Store
	Log   telemetry.Logger
	Now   func() time.Time
}

// Emit implements runner.EventSink. Append failures are logged rather than
// propagated: EventSink.Emit has no error return, and the introspection log
// is observability, not the source of truth the Net Runner depends on.
func (s Sink) Emit(ev runner.LifecycleEvent) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ctx := context.Background()
	if err := s.Store.Append(ctx, &Event{
		CaseID:    ev.CaseID,
		Kind:      ev.Kind,
		TaskID:    ev.TaskID,
		ItemID:    ev.ItemID,
		Detail:    ev.Detail,
		Timestamp: now(),
	}); err != nil && s.Log != nil {
		s.Log.Warn(ctx, "runlog append failed", "case_id", ev.CaseID, "err", err)
	}
}
