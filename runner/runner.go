// Package runner implements the Net Runner (C3): it computes enabled
// transitions from a case's marking, fires them in the deterministic order
// required by §4.3.3, updates the marking and work items, and drives
// sub-net composition. The Net Runner owns case lifecycle; it never blocks
// on external input — it suspends by simply returning once no further
// progress is possible (§5 "Suspension points").
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/telemetry"
	"github.com/yawl-run/yawl/workitem"
)

// SpecResolver resolves a specification id to its parsed, validated
// Specification, backed by the process-wide specification cache (§9
// "Global/process state" — the only process-wide mutable state).
type SpecResolver interface {
	Resolve(specID string) (*spec.Specification, error)
}

// SubCaseLauncher launches a child case for a composite task firing
// (§4.3.3 step 3). The facade/engine implements this, since only it knows
// which engine variant should own the sub-case.
type SubCaseLauncher interface {
	LaunchSubCase(ctx context.Context, parentCaseID, itemID string, childSpecID, netName string, inputData map[string]any) (childCaseID string, err error)
}

// LifecycleEventKind names the events the runner emits for the
// supplemental case/run introspection log.
type LifecycleEventKind string

const (
	EventFired           LifecycleEventKind = "fired"
	EventItemCreated     LifecycleEventKind = "item_created"
	EventCaseCompleted   LifecycleEventKind = "case_completed"
	EventCaseCancelled   LifecycleEventKind = "case_cancelled"
	EventCaseFailed      LifecycleEventKind = "case_failed"
	EventSubCaseLaunched LifecycleEventKind = "subcase_launched"
)

// LifecycleEvent is a single observable event raised while advancing a case.
type LifecycleEvent struct {
	CaseID string
	Kind   LifecycleEventKind
	TaskID string
	ItemID string
	Detail string
}

// EventSink receives lifecycle events as they are raised. Implementations
// must not block the caller for long; the runner emits synchronously from
// within the case's single-writer section (§5 "Suspension points" (c)).
type EventSink interface {
	Emit(ev LifecycleEvent)
}

// NoopSink discards every event.
type NoopSink struct{}

// Emit implements EventSink.
func (NoopSink) Emit(LifecycleEvent) {}

// pendingComposite tracks a composite task firing awaiting its sub-case's
// terminal status, so ResumeComposite can complete steps 4-7 of §4.3.3.
type pendingComposite struct {
	ParentCaseID string
	TaskID       string
}

// Runner advances cases. A single Runner is shared by every case; per-case
// serialization comes from marking.Store's per-case lock, not from any lock
// here (§5 "No global locks").
type Runner struct {
	Marks *marking.Store
	Items *workitem.Store
	Specs SpecResolver
	Sub   SubCaseLauncher
	Sink  EventSink
	Log   telemetry.Logger
	Met   telemetry.Metrics

	compMu  sync.Mutex
	pending map[string]pendingComposite // child case id -> pending composite firing
}

// New constructs a Runner. log/met/sink default to no-ops when nil.
func New(marks *marking.Store, items *workitem.Store, specs SpecResolver, sub SubCaseLauncher, sink EventSink, log telemetry.Logger, met telemetry.Metrics) *Runner {
	if sink == nil {
		sink = NoopSink{}
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if met == nil {
		met = telemetry.NewNoopMetrics()
	}
	return &Runner{
		Marks:   marks,
		Items:   items,
		Specs:   specs,
		Sub:     sub,
		Sink:    sink,
		Log:     log,
		Met:     met,
		pending: make(map[string]pendingComposite),
	}
}

// Advance fires every currently enabled task in caseID, in deterministic
// order, until no task is enabled given the resulting marking (§4.3, §5).
// It is safe to call redundantly; a case with nothing enabled is a no-op.
func (r *Runner) Advance(ctx context.Context, caseID string) error {
	for {
		fired, err := r.fireOnce(ctx, caseID)
		if err != nil {
			return err
		}
		if !fired {
			break
		}
	}
	return r.checkTermination(caseID)
}

// fireOnce fires at most one enabled task and reports whether it fired.
func (r *Runner) fireOnce(ctx context.Context, caseID string) (bool, error) {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return false, err
	}
	if cs.Lifecycle == marking.Cancelled || cs.Lifecycle == marking.Failed || cs.Lifecycle == marking.Completed {
		return false, nil
	}
	sp, err := r.Specs.Resolve(cs.SpecID)
	if err != nil {
		return false, err
	}
	net, err := sp.GetNet(cs.NetName)
	if err != nil {
		return false, err
	}

	task, joined, err := selectEnabledTask(net, cs)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	if err := r.fireTask(ctx, sp, net, cs.CaseID, task, joined); err != nil {
		_ = r.Marks.SetLifecycle(caseID, marking.Failed)
		r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventCaseFailed, TaskID: task.ID, Detail: err.Error()})
		return false, err
	}
	return true, nil
}

// selectEnabledTask returns the task to fire next given §4.3.3's ordering:
// cancellation firings (tasks owning a non-empty cancellation region) before
// normal firings, tie-broken by lexicographic task id. It also returns the
// set of incoming source conditions that satisfied the join, which the
// caller must consume.
func selectEnabledTask(net *spec.Net, cs *marking.CaseState) (*spec.Task, []string, error) {
	type candidate struct {
		task    *spec.Task
		joined  []string
		cancels bool
	}
	var candidates []candidate
	for id, t := range net.Tasks {
		enabled, joined, err := isEnabled(net, t, cs.Marking)
		if err != nil {
			return nil, nil, err
		}
		if !enabled {
			continue
		}
		_, hasCancelRegion := net.CancellationRegions[id]
		candidates = append(candidates, candidate{task: t, joined: joined, cancels: hasCancelRegion})
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cancels != candidates[j].cancels {
			return candidates[i].cancels // cancellation firings sort first
		}
		return candidates[i].task.ID < candidates[j].task.ID
	})
	chosen := candidates[0]
	return chosen.task, chosen.joined, nil
}

// checkTermination transitions a case to Completed once its marking is
// exactly one token in the output condition and no items are live (§4.3.4).
func (r *Runner) checkTermination(caseID string) error {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	if cs.Lifecycle == marking.Completed || cs.Lifecycle == marking.Cancelled || cs.Lifecycle == marking.Failed {
		return nil
	}
	sp, err := r.Specs.Resolve(cs.SpecID)
	if err != nil {
		return err
	}
	net, err := sp.GetNet(cs.NetName)
	if err != nil {
		return err
	}
	onlyOutputMarked := len(cs.Marking) == 1 && cs.Marking[net.OutputCondition] == 1
	if onlyOutputMarked && r.Items.LiveCount(caseID) == 0 {
		if err := r.Marks.SetLifecycle(caseID, marking.Completed); err != nil {
			return err
		}
		r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventCaseCompleted})
	}
	return nil
}

var nowFn = time.Now
