package runner

import "github.com/yawl-run/yawl/spec"

// orJoinHasPendingSource implements the OR-join non-local enablement rule
// (§4.3.1) using Wynn's residual-reachability check, restricted to the
// enclosing net: composite sub-nets are opaque, since the parent runner
// cannot observe a still-running sub-case's internal marking (decided in
// SPEC_FULL §3, recorded in DESIGN.md).
//
// A source condition is "pending" if some firing sequence that does not
// pass through t could still deposit a token in it. This is computed as a
// forward, over-approximate reachability closure from the currently marked
// conditions (excluding t from the set of tasks allowed to fire), which is
// the standard safe approximation used for OR-join enablement: it may
// delay firing slightly longer than strictly necessary, but it never fires
// an OR-join while a token could still legitimately arrive (§8 property 3
// depends on this direction of the approximation, not the other).
func orJoinHasPendingSource(net *spec.Net, t *spec.Task, sources []string, m map[string]int) bool {
	unmarked := make([]string, 0, len(sources))
	for _, c := range sources {
		if m[c] == 0 {
			unmarked = append(unmarked, c)
		}
	}
	if len(unmarked) == 0 {
		return false
	}

	reachable := reachableConditions(net, t, m)
	for _, c := range unmarked {
		if reachable[c] {
			return true
		}
	}
	return false
}

// reachableConditions computes the set of conditions that could hold a
// token via some sequence of firings not using excludeTask, starting from
// the conditions currently marked. A task is optimistically considered
// "potentially fireable" once any one of its incoming sources is reachable
// (an over-approximation of AND-join's all-sources requirement, safe for
// the "pending" direction: it can only make more sources look pending,
// never fewer, which keeps the OR-join from firing prematurely).
func reachableConditions(net *spec.Net, excludeTask *spec.Task, m map[string]int) map[string]bool {
	reached := make(map[string]bool, len(net.Conditions))
	for c, n := range m {
		if n > 0 {
			reached[c] = true
		}
	}

	changed := true
	consideredTask := make(map[string]bool, len(net.Tasks))
	for changed {
		changed = false
		for id, task := range net.Tasks {
			if task.ID == excludeTask.ID {
				continue
			}
			if consideredTask[id] {
				continue
			}
			if !anyIncomingReached(net, task, reached) {
				continue
			}
			consideredTask[id] = true
			changed = true
			for _, f := range net.FlowsFrom[id] {
				if f.To.Kind == spec.ElementCondition && !reached[f.To.ID] {
					reached[f.To.ID] = true
				}
			}
		}
	}
	return reached
}

func anyIncomingReached(net *spec.Net, task *spec.Task, reached map[string]bool) bool {
	for _, f := range net.FlowsTo[task.ID] {
		if f.From.Kind == spec.ElementCondition && reached[f.From.ID] {
			return true
		}
	}
	return false
}
