package allocator

import (
	"context"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
)

// TaskLookup resolves the task definition behind an item-created event, so
// the sink can read its MatchingRule without the Net Runner needing to know
// the Resource Allocator exists (§4.3/§4.5 stay decoupled).
type TaskLookup struct {
	Marks *marking.Store
	Specs runner.SpecResolver
}

// Resolve returns the task definition for a case's task id.
func (l TaskLookup) Resolve(caseID, taskID string) (*spec.Task, error) {
	cs, err := l.Marks.Snapshot(caseID)
	if err != nil {
		return nil, err
	}
	sp, err := l.Specs.Resolve(cs.SpecID)
	if err != nil {
		return nil, err
	}
	net, err := sp.GetNet(cs.NetName)
	if err != nil {
		return nil, err
	}
	return net.Tasks[taskID], nil
}

// DispatchingSink is a runner.EventSink that dispatches newly Offered work
// items to the allocator as soon as the Net Runner creates them, keeping
// the Net Runner itself free of any allocator dependency.
type DispatchingSink struct {
	Alloc  *Allocator
	Lookup TaskLookup
	Next   runner.EventSink // optional: forwarded every event after dispatch
	Log    func(context.Context, string, ...any)
}

// Emit implements runner.EventSink.
func (s *DispatchingSink) Emit(ev runner.LifecycleEvent) {
	if ev.Kind == runner.EventItemCreated {
		s.dispatch(ev)
	}
	if s.Next != nil {
		s.Next.Emit(ev)
	}
}

func (s *DispatchingSink) dispatch(ev runner.LifecycleEvent) {
	t, err := s.Lookup.Resolve(ev.CaseID, ev.TaskID)
	if err != nil || t == nil {
		return
	}
	item, err := s.Alloc.Items.Get(ev.ItemID)
	if err != nil || item.State != workitem.Offered {
		return
	}
	if err := s.Alloc.Dispatch(context.Background(), item, t); err != nil && s.Log != nil {
		s.Log(context.Background(), "dispatch failed", "item_id", ev.ItemID, "err", err)
	}
}
