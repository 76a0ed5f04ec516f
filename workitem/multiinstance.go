package workitem

import (
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/yerrors"
)

// ExpandStatic evaluates a static multi-instance task's selector once and
// creates one Enabled item per element of the resulting sequence (§4.4.2).
func (s *Store) ExpandStatic(caseID string, task *spec.Task, data map[string]any) ([]*Item, error) {
	mi := task.MultiInstance
	seq, err := mi.Selector.EvalSequence(data)
	if err != nil {
		return nil, yerrors.Wrap(yerrors.KindInternalInvariantBroken, caseID, err, "multi-instance selector")
	}
	n := len(seq)
	if n < mi.Min || n > mi.Max {
		return nil, yerrors.New(yerrors.KindPreconditionViolated, caseID, "multi-instance count outside [min,max]")
	}
	items := make([]*Item, 0, n)
	for i, elem := range seq {
		idx := i
		instData := map[string]any{"instance": elem}
		for k, v := range data {
			instData[k] = v
		}
		it, err := s.Create(caseID, task, &idx, instData)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ExpandDynamicInitial creates the Min initial instances for a dynamic
// multi-instance task; further instances are created by EvaluateDynamicGrowth
// as sibling instances complete (§4.4.2).
func (s *Store) ExpandDynamicInitial(caseID string, task *spec.Task, data map[string]any) ([]*Item, error) {
	mi := task.MultiInstance
	items := make([]*Item, 0, mi.Min)
	for i := 0; i < mi.Min; i++ {
		idx := i
		it, err := s.Create(caseID, task, &idx, cloneMap(data))
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// EvaluateDynamicGrowth evaluates the task's growth predicate after an
// instance completes and creates one more instance if the predicate is true
// and Max has not been reached.
func (s *Store) EvaluateDynamicGrowth(caseID string, task *spec.Task, currentCount int, data map[string]any) (*Item, error) {
	mi := task.MultiInstance
	if currentCount >= mi.Max || mi.Selector == nil {
		return nil, nil
	}
	grow, err := mi.Selector.EvalBool(data)
	if err != nil {
		return nil, yerrors.Wrap(yerrors.KindInternalInvariantBroken, caseID, err, "multi-instance growth predicate")
	}
	if !grow {
		return nil, nil
	}
	idx := currentCount
	return s.Create(caseID, task, &idx, cloneMap(data))
}

// InstanceOutcome summarizes a multi-instance task's completion state once
// its threshold has been reached (§4.4.2).
type InstanceOutcome struct {
	ThresholdMet     bool
	CompletedOutputs []map[string]any // ordered by InstanceIndex
	ToWithdraw       []string         // item ids still Enabled/Offered
	ToCancel         []string         // item ids Allocated/Started
	Unreachable      bool             // threshold can no longer be met given cancellations
}

// EvaluateThreshold inspects all instances of a multi-instance task within a
// case and reports whether the threshold is met, or unreachable, given the
// current per-instance states (§4.4.2, §5 "Cancellation semantics").
func (s *Store) EvaluateThreshold(caseID, taskID string, threshold, max int) InstanceOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	type indexed struct {
		idx int
		it  *Item
	}
	var instances []indexed
	completed := 0
	cancelledOrFailed := 0
	for _, id := range s.byCase[caseID] {
		e := s.items[id]
		if e.item.TaskID != taskID || e.item.InstanceIndex == nil {
			continue
		}
		instances = append(instances, indexed{idx: *e.item.InstanceIndex, it: e.item})
		switch e.item.State {
		case Completed:
			completed++
		case Cancelled, Failed, Withdrawn:
			cancelledOrFailed++
		}
	}

	var out InstanceOutcome
	if completed >= threshold {
		out.ThresholdMet = true
		// order outputs by instance index
		byIdx := make(map[int]map[string]any, len(instances))
		for _, inst := range instances {
			if inst.it.State == Completed {
				byIdx[inst.idx] = inst.it.Data
			}
		}
		for i := 0; i < len(instances); i++ {
			if d, ok := byIdx[i]; ok {
				out.CompletedOutputs = append(out.CompletedOutputs, d)
			}
		}
		for _, inst := range instances {
			switch inst.it.State {
			case Enabled, Offered:
				out.ToWithdraw = append(out.ToWithdraw, inst.it.ItemID)
			case Allocated, Started:
				out.ToCancel = append(out.ToCancel, inst.it.ItemID)
			}
		}
		return out
	}

	if max-cancelledOrFailed < threshold {
		out.Unreachable = true
	}
	return out
}
