package spec

import (
	"fmt"

	"github.com/yawl-run/yawl/yerrors"
)

// EnabledFlows evaluates task's outgoing flows against data and returns the
// flows selected per the task's split code (§4.3.2):
//
//   - AND: every outgoing flow.
//   - XOR: the first flow (priority order) whose predicate is true, or the
//     default arc if none match.
//   - OR: every flow whose predicate is true, plus the default arc if no
//     predicated flow matched (so "at least one fires" always holds).
func (n *Net) EnabledFlows(task *Task, data map[string]any) ([]*Flow, error) {
	flows := n.FlowsFrom[task.ID]
	switch task.SplitCode {
	case SplitAND:
		return append([]*Flow(nil), flows...), nil
	case SplitXOR:
		return enabledXOR(task, flows, data)
	case SplitOR:
		return enabledOR(task, flows, data)
	default:
		return nil, yerrors.New(yerrors.KindInternalInvariantBroken, "", fmt.Sprintf("task %s has unknown splitCode %q", task.ID, task.SplitCode))
	}
}

func enabledXOR(task *Task, flows []*Flow, data map[string]any) ([]*Flow, error) {
	var def *Flow
	for _, f := range flows {
		if f.IsDefault {
			def = f
			continue
		}
		ok, err := f.Predicate.EvalBool(data)
		if err != nil {
			return nil, yerrors.Wrap(yerrors.KindInternalInvariantBroken, "", err, fmt.Sprintf("task %s flow %s predicate", task.ID, f.ID))
		}
		if ok {
			return []*Flow{f}, nil
		}
	}
	if def == nil {
		return nil, yerrors.New(yerrors.KindInternalInvariantBroken, "", fmt.Sprintf("task %s: no XOR arc matched and no default arc present", task.ID))
	}
	return []*Flow{def}, nil
}

func enabledOR(task *Task, flows []*Flow, data map[string]any) ([]*Flow, error) {
	var selected []*Flow
	var def *Flow
	for _, f := range flows {
		if f.IsDefault {
			def = f
			continue
		}
		ok, err := f.Predicate.EvalBool(data)
		if err != nil {
			return nil, yerrors.Wrap(yerrors.KindInternalInvariantBroken, "", err, fmt.Sprintf("task %s flow %s predicate", task.ID, f.ID))
		}
		if ok {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		if def == nil {
			return nil, yerrors.New(yerrors.KindInternalInvariantBroken, "", fmt.Sprintf("task %s: no OR arc matched and no default arc present", task.ID))
		}
		return []*Flow{def}, nil
	}
	return selected, nil
}
