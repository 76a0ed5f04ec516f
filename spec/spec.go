// Package spec implements the Specification Model (C1): an immutable,
// in-memory representation of nets, tasks, conditions, flows, join/split
// codes, cancellation regions, and multi-instance parameters, loaded from a
// declarative YAML document and validated once at load time. Nothing in
// this package mutates after Load returns.
package spec

import (
	"fmt"

	"github.com/yawl-run/yawl/yerrors"
)

// JoinCode is the closed enumeration of task join semantics (§3.1).
type JoinCode string

// SplitCode is the closed enumeration of task split semantics (§3.1).
type SplitCode string

const (
	JoinAND JoinCode = "AND"
	JoinOR  JoinCode = "OR"
	JoinXOR JoinCode = "XOR"

	SplitAND SplitCode = "AND"
	SplitOR  SplitCode = "OR"
	SplitXOR SplitCode = "XOR"
)

// ParamDirection is the direction of a task parameter slot.
type ParamDirection string

const (
	DirIn    ParamDirection = "in"
	DirOut   ParamDirection = "out"
	DirInOut ParamDirection = "inout"
)

// CreationMode governs how a multi-instance task's instances are created.
type CreationMode string

const (
	CreationStatic  CreationMode = "static"
	CreationDynamic CreationMode = "dynamic"
)

// EnginePreference is a specification-level hint consumed by the Engine
// Selector (§4.6.1).
type EnginePreference string

const (
	PreferStateful  EnginePreference = "stateful"
	PreferStateless EnginePreference = "stateless"
)

// Param is a named, typed input/output/inout slot on a task. Schema is a
// compiled JSON Schema (github.com/santhosh-tekuri/jsonschema/v6) used both
// to type-check inbound data mappings and to validate work-item outputs
// (§4.4.1, Invariant 5).
type Param struct {
	Name      string
	Direction ParamDirection
	Schema    *CompiledSchema
}

// MultiInstance describes a multi-instance task's expansion parameters
// (§3.1, §4.4.2).
type MultiInstance struct {
	Min                              int
	Max                              int
	Threshold                        int
	CreationMode                     CreationMode
	Selector                         *Predicate // yields the instance sequence (static) or per-round gate (dynamic)
	CompensateCancelledAfterThreshold bool
}

// ExecutionProfile is an optional specification-level hint consumed by the
// Engine Selector (§4.6.1).
type ExecutionProfile struct {
	Preferred          EnginePreference
	MaxDuration        string // ISO8601 duration, e.g. "PT5M"
	AllowHumanTasks    bool
	FallbackToStateful bool
}

// Task is a net element that either produces a work item (atomic) or
// expands into a child net (composite). The Composite flag is a closed tag
// per the "dynamic dispatch" design note (§9): one dispatch path per kind,
// no open-ended inheritance.
type Task struct {
	ID              string
	JoinCode        JoinCode
	SplitCode       SplitCode
	Params          []Param
	MultiInstance   *MultiInstance // nil for single-instance tasks
	Decomposition   string         // child net name (composite) or external work id (atomic, optional)
	Composite       bool
	HumanTask       bool
	Urgent          bool
	LeaseTTLMillis  int64
	MaxAttempts     int
	ErrorArc        *Flow // optional error-arc outgoing flow, evaluated on work-item failure payloads
	MatchingRule    MatchingRule
}

// MatchingRule is the allocator-facing declaration a task makes about how
// its work items are dispatched to workers (§4.5.1).
type MatchingRule struct {
	RequiredCapabilities []string
	PreferenceOrder      []string
	Mode                 AllocationMode
}

// AllocationMode is the closed set of allocator dispatch strategies.
type AllocationMode string

const (
	ModeOfferAll    AllocationMode = "offer-all"
	ModeSinglePick  AllocationMode = "single-pick"
	ModeQueue       AllocationMode = "queue"
)

// ElementKind distinguishes conditions from tasks when resolving flow
// endpoints and cancellation regions.
type ElementKind string

const (
	ElementCondition ElementKind = "condition"
	ElementTask      ElementKind = "task"
)

// ElementRef names a flow endpoint or cancellation-region member: a
// condition or a task within the same net.
type ElementRef struct {
	Kind ElementKind
	ID   string
}

// Flow is a directed edge between two net elements, optionally predicated
// and carrying a priority for OR/XOR split ordering (§3.1).
type Flow struct {
	ID        string
	From      ElementRef
	To        ElementRef
	Predicate *Predicate // nil means unconditional (an AND-split arc, or an XOR/OR default arc)
	IsDefault bool
	Priority  int // lower fires first for XOR; ordering only, ignored by AND
}

// CancellationRegion is the set of elements removed when its owning task
// fires or is cancelled (§3.1, §4.3.3 step 6).
type CancellationRegion struct {
	TaskID   string
	Elements []ElementRef
}

// Net is a named container of conditions, tasks, and flows, with exactly
// one input and one output condition.
type Net struct {
	Name                string
	InputCondition      string
	OutputCondition     string
	Conditions          map[string]struct{}
	Tasks               map[string]*Task
	Flows               []*Flow
	FlowsFrom           map[string][]*Flow // element ID -> outgoing flows, sorted by Priority
	FlowsTo             map[string][]*Flow // element ID -> incoming flows
	CancellationRegions map[string]*CancellationRegion // keyed by owning task ID
}

// Specification is the closed, acyclic-at-the-decomposition-level,
// validated container of nets (§3.1). It is immutable after Load returns
// and safe for unrestricted concurrent read access.
type Specification struct {
	ID               string
	Version          string
	RootNet          string
	Nets             map[string]*Net
	ExecutionProfile *ExecutionProfile
}

// SpecID returns the (id, version) identity tuple used to intern
// specifications in the process-wide cache (§9, "Global/process state").
func (s *Specification) SpecID() string {
	return s.ID + "@" + s.Version
}

// GetNet performs an O(1) lookup of a net by name (§4.1).
func (s *Specification) GetNet(name string) (*Net, error) {
	n, ok := s.Nets[name]
	if !ok {
		return nil, yerrors.New(yerrors.KindInvalidSpecification, "", fmt.Sprintf("net %q not found", name))
	}
	return n, nil
}

// Root returns the net marked root.
func (s *Specification) Root() *Net {
	return s.Nets[s.RootNet]
}
