package spec

import "fmt"

// validate runs every §3.1 invariant against a built Specification. It is
// called exactly once, from Load, before the Specification is returned to
// any caller.
func validate(s *Specification) error {
	if _, ok := s.Nets[s.RootNet]; !ok {
		return invalid(fmt.Sprintf("root net %q not declared", s.RootNet))
	}
	for name, net := range s.Nets {
		if err := validateNet(name, net, s); err != nil {
			return err
		}
	}
	if err := validateAcyclicDecompositions(s); err != nil {
		return err
	}
	return nil
}

func validateNet(name string, net *Net, s *Specification) error {
	if net.InputCondition == "" || net.OutputCondition == "" {
		return invalid(fmt.Sprintf("net %s: input and output conditions must be set", name))
	}
	if net.InputCondition == net.OutputCondition {
		return invalid(fmt.Sprintf("net %s: input and output conditions must differ", name))
	}

	elementExists := func(ref ElementRef) bool {
		switch ref.Kind {
		case ElementCondition:
			_, ok := net.Conditions[ref.ID]
			return ok
		case ElementTask:
			_, ok := net.Tasks[ref.ID]
			return ok
		default:
			return false
		}
	}

	// Every flow endpoint resolves to a declared element in the same net.
	for _, f := range net.Flows {
		if !elementExists(f.From) {
			return invalid(fmt.Sprintf("net %s: flow %s has unresolved source %s:%s", name, f.ID, f.From.Kind, f.From.ID))
		}
		if !elementExists(f.To) {
			return invalid(fmt.Sprintf("net %s: flow %s has unresolved target %s:%s", name, f.ID, f.To.Kind, f.To.ID))
		}
	}

	// Input condition has no incoming flows; output condition has no outgoing flows.
	if len(net.FlowsTo[net.InputCondition]) > 0 {
		return invalid(fmt.Sprintf("net %s: input condition %s has incoming flows", name, net.InputCondition))
	}
	if len(net.FlowsFrom[net.OutputCondition]) > 0 {
		return invalid(fmt.Sprintf("net %s: output condition %s has outgoing flows", name, net.OutputCondition))
	}

	// Every task has >= 1 incoming and >= 1 outgoing flow.
	for id, t := range net.Tasks {
		if len(net.FlowsTo[id]) == 0 {
			return invalid(fmt.Sprintf("net %s: task %s has no incoming flow", name, id))
		}
		if len(net.FlowsFrom[id]) == 0 {
			return invalid(fmt.Sprintf("net %s: task %s has no outgoing flow", name, id))
		}

		switch t.SplitCode {
		case SplitXOR:
			if err := validateXORSplit(name, id, net.FlowsFrom[id]); err != nil {
				return err
			}
		case SplitOR:
			if err := validateORSplit(name, id, net.FlowsFrom[id]); err != nil {
				return err
			}
		case SplitAND:
			// every outgoing flow fires unconditionally; predicates are meaningless but not forbidden.
		default:
			return invalid(fmt.Sprintf("net %s: task %s has unknown splitCode %q", name, id, t.SplitCode))
		}

		switch t.JoinCode {
		case JoinAND, JoinOR, JoinXOR:
		default:
			return invalid(fmt.Sprintf("net %s: task %s has unknown joinCode %q", name, id, t.JoinCode))
		}

		if t.Composite {
			if t.Decomposition == "" {
				return invalid(fmt.Sprintf("net %s: composite task %s has no decomposition", name, id))
			}
			if _, ok := s.Nets[t.Decomposition]; !ok {
				return invalid(fmt.Sprintf("net %s: composite task %s decomposes to unknown net %s", name, id, t.Decomposition))
			}
		}

		if t.MultiInstance != nil {
			mi := t.MultiInstance
			if mi.Min < 0 || mi.Max < mi.Min {
				return invalid(fmt.Sprintf("net %s: task %s has invalid multi-instance min/max", name, id))
			}
			if mi.CreationMode != CreationStatic && mi.CreationMode != CreationDynamic {
				return invalid(fmt.Sprintf("net %s: task %s has unknown creationMode %q", name, id, mi.CreationMode))
			}
		}
	}

	// Cancellation regions: every element must resolve within the same net.
	for taskID, region := range net.CancellationRegions {
		if _, ok := net.Tasks[taskID]; !ok {
			return invalid(fmt.Sprintf("net %s: cancellation region owner %s is not a task", name, taskID))
		}
		for _, el := range region.Elements {
			if !elementExists(el) {
				return invalid(fmt.Sprintf("net %s: cancellation region of %s references unresolved element %s:%s", name, taskID, el.Kind, el.ID))
			}
		}
	}

	return nil
}

// validateXORSplit requires a total priority order with no ties among
// predicated arcs and a reachable default.
func validateXORSplit(netName, taskID string, flows []*Flow) error {
	hasDefault := false
	seenPriority := make(map[int]bool)
	for _, f := range flows {
		if f.IsDefault {
			hasDefault = true
			continue
		}
		if f.Predicate == nil {
			return invalid(fmt.Sprintf("net %s: XOR split task %s has an unpredicated, non-default arc %s", netName, taskID, f.ID))
		}
		if seenPriority[f.Priority] {
			return invalid(fmt.Sprintf("net %s: XOR split task %s has duplicate priority %d (no total order)", netName, taskID, f.Priority))
		}
		seenPriority[f.Priority] = true
	}
	if !hasDefault {
		return invalid(fmt.Sprintf("net %s: XOR split task %s has no default arc", netName, taskID))
	}
	return nil
}

// validateORSplit requires a default arc so "at least one must fire"
// (§4.3.2) always has a witness; it does not check the other arcs.
func validateORSplit(netName, taskID string, flows []*Flow) error {
	hasDefault := false
	for _, f := range flows {
		if f.IsDefault {
			hasDefault = true
		}
	}
	if !hasDefault {
		return invalid(fmt.Sprintf("net %s: OR split task %s has no default arc", netName, taskID))
	}
	return nil
}

// validateAcyclicDecompositions walks the composite-task decomposition
// graph across all nets and rejects cycles (§3.1).
func validateAcyclicDecompositions(s *Specification) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(s.Nets))
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return invalid(fmt.Sprintf("decomposition cycle detected at net %s", name))
		}
		state[name] = visiting
		net := s.Nets[name]
		for _, t := range net.Tasks {
			if t.Composite {
				if err := visit(t.Decomposition); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}
	for name := range s.Nets {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
