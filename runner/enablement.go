package runner

import "github.com/yawl-run/yawl/spec"

// isEnabled reports whether t is enabled by the current marking under its
// join code (§4.3.1), and returns the incoming source conditions that the
// firing must consume.
func isEnabled(net *spec.Net, t *spec.Task, m map[string]int) (bool, []string, error) {
	incoming := net.FlowsTo[t.ID]
	sources := make([]string, 0, len(incoming))
	for _, f := range incoming {
		if f.From.Kind == spec.ElementCondition {
			sources = append(sources, f.From.ID)
		}
	}

	switch t.JoinCode {
	case spec.JoinAND:
		for _, c := range sources {
			if m[c] < 1 {
				return false, nil, nil
			}
		}
		return true, sources, nil

	case spec.JoinXOR:
		marked := markedSources(sources, m)
		if len(marked) == 0 {
			return false, nil, nil
		}
		// Tie-break by incoming flow priority: pick the marked source whose
		// flow has the lowest priority value.
		chosen := xorChoice(incoming, marked)
		return true, []string{chosen}, nil

	case spec.JoinOR:
		marked := markedSources(sources, m)
		if len(marked) == 0 {
			return false, nil, nil
		}
		if orJoinHasPendingSource(net, t, sources, m) {
			return false, nil, nil
		}
		return true, marked, nil

	default:
		return false, nil, nil
	}
}

func markedSources(sources []string, m map[string]int) []string {
	var out []string
	for _, c := range sources {
		if m[c] > 0 {
			out = append(out, c)
		}
	}
	return out
}

// xorChoice picks the marked source attached to the lowest-priority
// incoming flow, matching the "tie-broken by flow priority" rule of
// §4.3.1.
func xorChoice(incoming []*spec.Flow, marked []string) string {
	markedSet := make(map[string]bool, len(marked))
	for _, c := range marked {
		markedSet[c] = true
	}
	best := marked[0]
	bestPriority := int(^uint(0) >> 1)
	for _, f := range incoming {
		if f.From.Kind != spec.ElementCondition || !markedSet[f.From.ID] {
			continue
		}
		if f.Priority < bestPriority {
			bestPriority = f.Priority
			best = f.From.ID
		}
	}
	return best
}
