package runner

import (
	"context"
	"fmt"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
	"github.com/yawl-run/yawl/yerrors"
)

// fireTask performs steps 1-3 of §4.3.3: consume the join's source tokens,
// then either create a work item (atomic) or launch a sub-case (composite).
// Steps 4-7 run later, from CompleteItem or ResumeComposite, once the
// external work concludes.
func (r *Runner) fireTask(ctx context.Context, sp *spec.Specification, net *spec.Net, caseID string, t *spec.Task, joinedSources []string) error {
	if err := r.Marks.Consume(caseID, joinedSources); err != nil {
		return err
	}
	r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventFired, TaskID: t.ID})

	if t.Composite {
		return r.fireComposite(ctx, sp, caseID, t)
	}
	return r.fireAtomic(caseID, t)
}

func (r *Runner) fireAtomic(caseID string, t *spec.Task) error {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	inputs := inParams(t, cs.Data)

	if t.MultiInstance != nil {
		return r.fireMultiInstance(caseID, t, inputs)
	}

	item, err := r.Items.Create(caseID, t, nil, inputs)
	if err != nil {
		return err
	}
	if _, err := r.Items.MarkOffered(item.ItemID); err != nil {
		return err
	}
	r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventItemCreated, TaskID: t.ID, ItemID: item.ItemID})
	return nil
}

func (r *Runner) fireMultiInstance(caseID string, t *spec.Task, inputs map[string]any) error {
	mi := t.MultiInstance
	var items []*workitem.Item
	var err error
	if mi.Min == 0 && mi.CreationMode == spec.CreationStatic {
		seq, serr := mi.Selector.EvalSequence(inputs)
		if serr != nil {
			return yerrors.Wrap(yerrors.KindInternalInvariantBroken, caseID, serr, "multi-instance selector")
		}
		if len(seq) == 0 {
			// Boundary behaviour (§8): min=0 fires with zero items, immediately complete.
			return r.completeMultiInstance(caseID, t, nil)
		}
	}
	switch mi.CreationMode {
	case spec.CreationStatic:
		items, err = r.Items.ExpandStatic(caseID, t, inputs)
	case spec.CreationDynamic:
		items, err = r.Items.ExpandDynamicInitial(caseID, t, inputs)
	default:
		return yerrors.New(yerrors.KindInternalInvariantBroken, caseID, "unknown creation mode")
	}
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := r.Items.MarkOffered(it.ItemID); err != nil {
			return err
		}
		r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventItemCreated, TaskID: t.ID, ItemID: it.ItemID})
	}
	return nil
}

func (r *Runner) fireComposite(ctx context.Context, sp *spec.Specification, caseID string, t *spec.Task) error {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	if r.Sub == nil {
		return yerrors.New(yerrors.KindInternalInvariantBroken, caseID, "composite task fired with no sub-case launcher configured")
	}
	childCaseID, err := r.Sub.LaunchSubCase(ctx, caseID, t.ID, sp.SpecID(), t.Decomposition, inParams(t, cs.Data))
	if err != nil {
		return err
	}
	r.compMu.Lock()
	r.pending[childCaseID] = pendingComposite{ParentCaseID: caseID, TaskID: t.ID}
	r.compMu.Unlock()
	r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventSubCaseLaunched, TaskID: t.ID, Detail: childCaseID})
	return nil
}

func inParams(t *spec.Task, data map[string]any) map[string]any {
	out := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		if p.Direction == spec.DirOut {
			continue
		}
		if v, ok := data[p.Name]; ok {
			out[p.Name] = v
		}
	}
	return out
}

// CompleteItem runs steps 4-7 of §4.3.3 for an atomic task whose single
// work item (or whose multi-instance threshold) has just completed.
func (r *Runner) CompleteItem(ctx context.Context, caseID, itemID string, outputs map[string]any) error {
	item, err := r.Items.Get(itemID)
	if err != nil {
		return err
	}
	sp, net, t, err := r.resolveTask(caseID, item.TaskID)
	if err != nil {
		return err
	}

	if t.MultiInstance != nil {
		outcome := r.Items.EvaluateThreshold(caseID, t.ID, t.MultiInstance.Threshold, t.MultiInstance.Max)
		if outcome.Unreachable {
			return r.failCase(caseID, t, fmt.Sprintf("multi-instance task %s threshold unreachable", t.ID))
		}
		if !outcome.ThresholdMet {
			if t.MultiInstance.CreationMode == spec.CreationDynamic {
				return r.growMultiInstance(caseID, t)
			}
			return nil // still waiting on more instances
		}
		for _, id := range outcome.ToWithdraw {
			if _, err := r.Items.Cancel(id); err != nil {
				return err
			}
		}
		for _, id := range outcome.ToCancel {
			if _, err := r.Items.Cancel(id); err != nil {
				return err
			}
		}
		return r.completeMultiInstance(caseID, t, outcome.CompletedOutputs)
	}

	return r.resumeFiringSingle(ctx, sp, net, caseID, t, outputs)
}

// growMultiInstance evaluates a dynamic multi-instance task's growth
// predicate after one of its instances completes and, if it still wants
// more, creates and offers exactly one more instance (§4.4.2 "further
// instances are created by EvaluateDynamicGrowth as sibling instances
// complete").
func (r *Runner) growMultiInstance(caseID string, t *spec.Task) error {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	current := 0
	for _, it := range r.Items.ListByCase(caseID) {
		if it.TaskID == t.ID {
			current++
		}
	}
	it, err := r.Items.EvaluateDynamicGrowth(caseID, t, current, cs.Data)
	if err != nil {
		return err
	}
	if it == nil {
		return nil
	}
	if _, err := r.Items.MarkOffered(it.ItemID); err != nil {
		return err
	}
	r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventItemCreated, TaskID: t.ID, ItemID: it.ItemID})
	return nil
}

func (r *Runner) completeMultiInstance(caseID string, t *spec.Task, outputsList []map[string]any) error {
	sp, net, _, err := r.resolveTask(caseID, t.ID)
	if err != nil {
		return err
	}
	merged := map[string]any{t.ID: outputsList}
	return r.resumeFiringSingle(context.Background(), sp, net, caseID, t, merged)
}

// resumeFiringSingle applies steps 4-7: merge outputs into case data,
// evaluate the split, produce tokens, apply the cancellation region, and
// re-enter enablement evaluation.
func (r *Runner) resumeFiringSingle(ctx context.Context, sp *spec.Specification, net *spec.Net, caseID string, t *spec.Task, outputs map[string]any) error {
	if err := r.Marks.MutateData(caseID, func(data map[string]any) {
		for k, v := range outputs {
			data[k] = v
		}
	}); err != nil {
		return err
	}

	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	flows, err := net.EnabledFlows(t, cs.Data)
	if err != nil {
		return r.failCase(caseID, t, err.Error())
	}
	targets := make([]string, 0, len(flows))
	for _, f := range flows {
		if f.To.Kind == spec.ElementCondition {
			targets = append(targets, f.To.ID)
		}
	}
	if err := r.Marks.Produce(caseID, targets); err != nil {
		return err
	}

	if err := r.applyCancellationRegion(caseID, net, t); err != nil {
		return err
	}

	return r.Advance(ctx, caseID)
}

// applyCancellationRegion removes tokens from the region's conditions and
// cancels live work items whose task is in the region, cascading into
// sub-cases (§4.3.3 step 6). A region containing the firing task itself
// cancels nothing extra beyond its conditions, since the task's own tokens
// were already consumed in step 1 (§8 "Boundary behaviours").
func (r *Runner) applyCancellationRegion(caseID string, net *spec.Net, t *spec.Task) error {
	region, ok := net.CancellationRegions[t.ID]
	if !ok {
		return nil
	}
	var conditions []string
	for _, el := range region.Elements {
		switch el.Kind {
		case spec.ElementCondition:
			conditions = append(conditions, el.ID)
		case spec.ElementTask:
			if el.ID == t.ID {
				continue
			}
			if err := r.cancelTaskItems(caseID, el.ID); err != nil {
				return err
			}
		}
	}
	return r.Marks.WithLock(caseID, func(state *marking.CaseState) error {
		for _, c := range conditions {
			delete(state.Marking, c)
		}
		return nil
	})
}

func (r *Runner) cancelTaskItems(caseID, taskID string) error {
	for _, it := range r.Items.ListByCase(caseID) {
		if it.TaskID != taskID {
			continue
		}
		switch it.State {
		case workitem.Enabled, workitem.Offered, workitem.Allocated, workitem.Started:
			if _, err := r.Items.Cancel(it.ItemID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) resolveTask(caseID, taskID string) (*spec.Specification, *spec.Net, *spec.Task, error) {
	cs, err := r.Marks.Snapshot(caseID)
	if err != nil {
		return nil, nil, nil, err
	}
	sp, err := r.Specs.Resolve(cs.SpecID)
	if err != nil {
		return nil, nil, nil, err
	}
	net, err := sp.GetNet(cs.NetName)
	if err != nil {
		return nil, nil, nil, err
	}
	t, ok := net.Tasks[taskID]
	if !ok {
		return nil, nil, nil, yerrors.New(yerrors.KindInternalInvariantBroken, caseID, "unknown task "+taskID)
	}
	return sp, net, t, nil
}

func (r *Runner) failCase(caseID string, t *spec.Task, detail string) error {
	_ = r.Marks.SetLifecycle(caseID, marking.Failed)
	r.Sink.Emit(LifecycleEvent{CaseID: caseID, Kind: EventCaseFailed, TaskID: t.ID, Detail: detail})
	return yerrors.New(yerrors.KindInternalInvariantBroken, caseID, detail)
}

// ResumeComposite runs steps 4-7 for a composite task firing once its
// sub-case has reached a terminal state (§4.3.3 step 3, §5 suspension point
// (b)). outputs is the sub-case's final data, mapped through the task's
// out-parameters by the caller (facade) before being passed here.
func (r *Runner) ResumeComposite(ctx context.Context, childCaseID string, outputs map[string]any) error {
	r.compMu.Lock()
	pc, ok := r.pending[childCaseID]
	if ok {
		delete(r.pending, childCaseID)
	}
	r.compMu.Unlock()
	if !ok {
		return yerrors.New(yerrors.KindInternalInvariantBroken, "", "no pending composite firing for sub-case "+childCaseID)
	}
	sp, net, t, err := r.resolveTask(pc.ParentCaseID, pc.TaskID)
	if err != nil {
		return err
	}
	return r.resumeFiringSingle(ctx, sp, net, pc.ParentCaseID, t, outputs)
}
