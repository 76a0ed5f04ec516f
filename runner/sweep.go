package runner

import (
	"context"
	"time"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/workitem"
)

// Clock abstracts wall-clock time so Sweep's case-deadline pass can be
// driven by a fake clock in tests, without runner importing package engine
// (which itself imports runner).
type Clock interface {
	Now() time.Time
}

// SweepResult summarizes one Sweep pass, for logging and tests.
type SweepResult struct {
	ItemsReclaimed int
	ItemsFailed    int
	CasesCancelled int
}

// Sweep performs the periodic maintenance §4.4.3 and §5 require but that no
// event naturally triggers: reclaiming expired work-item leases and forcing
// a case closed once it has run past caseDeadline since launch. Callers run
// this on a ticker (§9 "Global/process state" — the sweeper is the one
// process-wide background loop).
//
// caseDeadline of zero disables the case-deadline pass.
func (r *Runner) Sweep(ctx context.Context, clock Clock, caseDeadline time.Duration) SweepResult {
	var res SweepResult
	now := clock.Now()

	for _, it := range r.Items.ListLive("") {
		if it.Lease == nil {
			continue
		}
		got, reclaimed, err := r.Items.ReclaimExpiredLease(it.ItemID, now)
		if err != nil {
			r.Log.Warn(ctx, "sweep: reclaim lease", "item_id", it.ItemID, "err", err)
			continue
		}
		if !reclaimed {
			continue
		}
		if got.State == workitem.Failed {
			res.ItemsFailed++
			// Attempts exhausted: fail the item like any other work item, so
			// its error arc fires or the case goes to Failed.
			ev := FailWorkItem{EventID: "lease-exhausted-" + got.ItemID, ItemID: got.ItemID, ErrorPayload: map[string]any{"error": "lease expired after max attempts"}}
			if err := r.ApplyEvent(ctx, got.CaseID, ev); err != nil {
				r.Log.Warn(ctx, "sweep: fail exhausted item", "item_id", got.ItemID, "err", err)
			}
			continue
		}
		res.ItemsReclaimed++
		if _, err := r.Items.MarkOffered(got.ItemID); err != nil {
			r.Log.Warn(ctx, "sweep: re-offer reclaimed item", "item_id", it.ItemID, "err", err)
			continue
		}
		r.Sink.Emit(LifecycleEvent{CaseID: got.CaseID, Kind: EventItemCreated, TaskID: got.TaskID, ItemID: got.ItemID})
	}

	if caseDeadline <= 0 {
		return res
	}
	for _, caseID := range r.Marks.ListCaseIDs() {
		cs, err := r.Marks.Snapshot(caseID)
		if err != nil {
			continue
		}
		if isTerminalLifecycle(cs.Lifecycle) || cs.LaunchedAt.IsZero() {
			continue
		}
		if now.Sub(cs.LaunchedAt) < caseDeadline {
			continue
		}
		if err := r.ApplyEvent(ctx, caseID, CancelCase{EventID: "deadline-" + caseID}); err != nil {
			r.Log.Warn(ctx, "sweep: cancel expired case", "case_id", caseID, "err", err)
			continue
		}
		res.CasesCancelled++
	}
	return res
}

func isTerminalLifecycle(l marking.Lifecycle) bool {
	switch l {
	case marking.Completed, marking.Cancelled, marking.Failed:
		return true
	default:
		return false
	}
}
