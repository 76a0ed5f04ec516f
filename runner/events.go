package runner

import (
	"context"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
	"github.com/yawl-run/yawl/yerrors"
)

// Event is the closed set of external events the facade delivers to a case
// (§6.1). Every event carries an EventID; replaying the same id is a no-op
// after the first application (§4.3.5, §8 "Idempotence").
type Event interface {
	eventID() string
}

type CompleteWorkItem struct {
	EventID string
	ItemID  string
	Outputs map[string]any
}

type FailWorkItem struct {
	EventID      string
	ItemID       string
	ErrorPayload map[string]any
}

type CancelWorkItem struct {
	EventID string
	ItemID  string
}

type DelegateWorkItem struct {
	EventID    string
	ItemID     string
	FromWorker string
	ToWorker   string
}

type CancelCase struct {
	EventID string
}

type TimerFired struct {
	EventID string
	TimerID string
}

func (e CompleteWorkItem) eventID() string { return e.EventID }
func (e FailWorkItem) eventID() string     { return e.EventID }
func (e CancelWorkItem) eventID() string   { return e.EventID }
func (e DelegateWorkItem) eventID() string { return e.EventID }
func (e CancelCase) eventID() string       { return e.EventID }
func (e TimerFired) eventID() string       { return e.EventID }

// ApplyEvent applies one external event to a case and advances it (§6.1,
// §4.3.5). Replaying an eventId already recorded for this case is a no-op.
func (r *Runner) ApplyEvent(ctx context.Context, caseID string, ev Event) error {
	seen, err := r.Marks.MarkEventSeen(caseID, ev.eventID())
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	switch e := ev.(type) {
	case CompleteWorkItem:
		if err := r.CompleteItem(ctx, caseID, e.ItemID, e.Outputs); err != nil {
			return err
		}
		return nil

	case FailWorkItem:
		return r.applyWorkItemFailure(ctx, caseID, e.ItemID, e.ErrorPayload)

	case CancelWorkItem:
		_, err := r.Items.Cancel(e.ItemID)
		return err

	case DelegateWorkItem:
		return r.Items.Delegate(e.ItemID, e.FromWorker, e.ToWorker)

	case CancelCase:
		return r.cancelCase(caseID)

	case TimerFired:
		// A timer is modelled as a flow predicate keyed on a case-data
		// timer flag; callers set the flag via MutateData before routing a
		// TimerFired event here so the runner's split evaluation sees it.
		return r.Advance(ctx, caseID)

	default:
		return yerrors.New(yerrors.KindInternalInvariantBroken, caseID, "unknown event type")
	}
}

// applyWorkItemFailure implements §4.3.5's failure semantics: the Net
// Runner consults the task's split code for an error arc; if present, that
// arc fires instead of terminating the case.
func (r *Runner) applyWorkItemFailure(ctx context.Context, caseID, itemID string, payload map[string]any) error {
	item, err := r.Items.Get(itemID)
	if err != nil {
		return err
	}
	_, net, t, err := r.resolveTask(caseID, item.TaskID)
	if err != nil {
		return err
	}
	if _, err := r.Items.Cancel(itemID); err != nil {
		return err
	}
	if t.ErrorArc == nil {
		return r.failCase(caseID, t, "work item failed with no error arc: "+item.ItemID)
	}

	if err := r.Marks.WithLock(caseID, func(state *marking.CaseState) error {
		state.Data["__errorPayload"] = payload
		return nil
	}); err != nil {
		return err
	}

	// The error arc was declared specifically for this failure path, so its
	// predicate (if any) is bypassed: the token is produced at its target
	// directly, then normal enablement resumes.
	if t.ErrorArc.To.Kind == spec.ElementCondition {
		if err := r.Marks.Produce(caseID, []string{t.ErrorArc.To.ID}); err != nil {
			return err
		}
	}
	if err := r.applyCancellationRegion(caseID, net, t); err != nil {
		return err
	}
	return r.Advance(ctx, caseID)
}

// cancelCase implements the case-level cancellation semantics of §5: it is
// a single atomic external event that sets lifecycle to Cancelled and
// cancels every live work item. Applying CancelCase to an already
// cancelled case is a no-op (§8 round-trip law).
func (r *Runner) cancelCase(caseID string) error {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	if cs.Lifecycle == marking.Cancelled {
		return nil
	}
	for _, it := range r.Items.ListByCase(caseID) {
		switch it.State {
		case workitem.Enabled, workitem.Offered, workitem.Allocated, workitem.Started:
			if _, err := r.Items.Cancel(it.ItemID); err != nil {
				return err
			}
		}
	}
	if err := r.Marks.SetLifecycle(caseID, marking.Cancelled); err != nil {
		return err
	}
	r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventCaseCancelled})
	return nil
}
