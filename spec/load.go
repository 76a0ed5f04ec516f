package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/yawl-run/yawl/yerrors"
)

// Load parses a YAML specification document, resolves all references, and
// validates every §3.1 invariant. It never returns a partially-loaded
// Specification: any failure is reported as a single structured
// InvalidSpecification error naming the violated rule (§4.1).
func Load(raw []byte) (*Specification, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, yerrors.Wrap(yerrors.KindInvalidSpecification, "", err, "parse specification")
	}
	s, err := build(&doc)
	if err != nil {
		return nil, err
	}
	if err := validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func build(doc *document) (*Specification, error) {
	if doc.SpecID == "" {
		return nil, invalid("specId must be set")
	}
	if doc.Root == "" {
		return nil, invalid("root net must be named")
	}
	s := &Specification{
		ID:      doc.SpecID,
		Version: doc.Version,
		RootNet: doc.Root,
		Nets:    make(map[string]*Net, len(doc.Nets)),
	}
	if doc.Profile != nil {
		s.ExecutionProfile = &ExecutionProfile{
			Preferred:          EnginePreference(doc.Profile.Preferred),
			MaxDuration:        doc.Profile.MaxDuration,
			AllowHumanTasks:    doc.Profile.AllowHumanTasks,
			FallbackToStateful: doc.Profile.FallbackToStateful,
		}
	}
	for name, dn := range doc.Nets {
		net, err := buildNet(name, dn)
		if err != nil {
			return nil, err
		}
		s.Nets[name] = net
	}
	return s, nil
}

func buildNet(name string, dn docNet) (*Net, error) {
	net := &Net{
		Name:                name,
		InputCondition:      dn.InputCondition,
		OutputCondition:     dn.OutputCondition,
		Conditions:          make(map[string]struct{}, len(dn.Conditions)+2),
		Tasks:               make(map[string]*Task, len(dn.Tasks)),
		FlowsFrom:           make(map[string][]*Flow),
		FlowsTo:             make(map[string][]*Flow),
		CancellationRegions: make(map[string]*CancellationRegion),
	}
	net.Conditions[dn.InputCondition] = struct{}{}
	net.Conditions[dn.OutputCondition] = struct{}{}
	for _, c := range dn.Conditions {
		net.Conditions[c] = struct{}{}
	}

	flowByID := make(map[string]*docFlow, len(dn.Flows))
	for i := range dn.Flows {
		flowByID[dn.Flows[i].ID] = &dn.Flows[i]
	}

	for id, dt := range dn.Tasks {
		t := &Task{
			ID:             id,
			JoinCode:       JoinCode(dt.JoinCode),
			SplitCode:      SplitCode(dt.SplitCode),
			Decomposition:  dt.Decomposition,
			Composite:      dt.Composite,
			HumanTask:      dt.HumanTask,
			Urgent:         dt.Urgent,
			LeaseTTLMillis: dt.LeaseTTLMillis,
			MaxAttempts:    dt.MaxAttempts,
			MatchingRule: MatchingRule{
				RequiredCapabilities: dt.Matching.RequiredCapabilities,
				PreferenceOrder:      dt.Matching.PreferenceOrder,
				Mode:                 AllocationMode(dt.Matching.Mode),
			},
		}
		if t.LeaseTTLMillis == 0 {
			t.LeaseTTLMillis = 30000
		}
		for _, dp := range dt.Params {
			sch, err := CompileSchema(dp.Schema)
			if err != nil {
				return nil, invalid(fmt.Sprintf("task %s param %s: %v", id, dp.Name, err))
			}
			t.Params = append(t.Params, Param{
				Name:      dp.Name,
				Direction: ParamDirection(dp.Direction),
				Schema:    sch,
			})
		}
		if dt.MultiInstance != nil {
			mi := &MultiInstance{
				Min:                               dt.MultiInstance.Min,
				Max:                               dt.MultiInstance.Max,
				Threshold:                         dt.MultiInstance.Threshold,
				CreationMode:                      CreationMode(dt.MultiInstance.CreationMode),
				CompensateCancelledAfterThreshold: dt.MultiInstance.CompensateCancelledAfterThreshold,
			}
			if dt.MultiInstance.Selector != "" {
				pred, err := CompilePredicate(dt.MultiInstance.Selector)
				if err != nil {
					return nil, invalid(fmt.Sprintf("task %s multi-instance selector: %v", id, err))
				}
				mi.Selector = pred
			}
			t.MultiInstance = mi
		}
		if len(dt.CancelRegion) > 0 {
			region := &CancellationRegion{TaskID: id}
			for _, r := range dt.CancelRegion {
				region.Elements = append(region.Elements, ElementRef{Kind: ElementKind(r.Kind), ID: r.ID})
			}
			net.CancellationRegions[id] = region
		}
		net.Tasks[id] = t
	}

	for i := range dn.Flows {
		df := dn.Flows[i]
		f := &Flow{
			ID:        df.ID,
			From:      ElementRef{Kind: ElementKind(df.From.Kind), ID: df.From.ID},
			To:        ElementRef{Kind: ElementKind(df.To.Kind), ID: df.To.ID},
			IsDefault: df.IsDefault,
			Priority:  df.Priority,
		}
		if df.Predicate != "" {
			pred, err := CompilePredicate(df.Predicate)
			if err != nil {
				return nil, invalid(fmt.Sprintf("flow %s predicate: %v", df.ID, err))
			}
			f.Predicate = pred
		}
		net.Flows = append(net.Flows, f)
		net.FlowsFrom[f.From.ID] = append(net.FlowsFrom[f.From.ID], f)
		net.FlowsTo[f.To.ID] = append(net.FlowsTo[f.To.ID], f)
	}

	for id, t := range net.Tasks {
		if t.ErrorArc == nil && dn.Tasks[id].ErrorArcFlowID != "" {
			f := flowByID[dn.Tasks[id].ErrorArcFlowID]
			if f == nil {
				return nil, invalid(fmt.Sprintf("task %s error arc references unknown flow %s", id, dn.Tasks[id].ErrorArcFlowID))
			}
			for _, nf := range net.Flows {
				if nf.ID == f.ID {
					t.ErrorArc = nf
					break
				}
			}
		}
	}

	for _, flows := range net.FlowsFrom {
		sortFlowsByPriority(flows)
	}

	return net, nil
}

func sortFlowsByPriority(flows []*Flow) {
	// Insertion sort: flow lists per element are small (outgoing-degree of
	// a single task), and stability on equal priority preserves document
	// order, which is what XOR tie-breaking among equal priorities should do.
	for i := 1; i < len(flows); i++ {
		for j := i; j > 0 && flows[j].Priority < flows[j-1].Priority; j-- {
			flows[j], flows[j-1] = flows[j-1], flows[j]
		}
	}
}

func invalid(msg string) error {
	return yerrors.New(yerrors.KindInvalidSpecification, "", msg)
}
