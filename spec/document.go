package spec

import "encoding/json"

// document is the YAML wire format for a Specification (gopkg.in/yaml.v3,
// per SPEC_FULL §1/§2). Field names are lowerCamel to match the examples in
// the specification document itself (specId, inputCondition, joinCode...).
type document struct {
	SpecID  string             `yaml:"specId"`
	Version string             `yaml:"version"`
	Nets    map[string]docNet  `yaml:"nets"`
	Root    string             `yaml:"root"`
	Profile *docExecProfile    `yaml:"executionProfile,omitempty"`
}

type docExecProfile struct {
	Preferred          string `yaml:"preferred"`
	MaxDuration        string `yaml:"maxDuration"`
	AllowHumanTasks    bool   `yaml:"allowHumanTasks"`
	FallbackToStateful bool   `yaml:"fallbackToStateful"`
}

type docNet struct {
	InputCondition  string              `yaml:"inputCondition"`
	OutputCondition string              `yaml:"outputCondition"`
	Conditions      []string            `yaml:"conditions"`
	Tasks           map[string]docTask  `yaml:"tasks"`
	Flows           []docFlow           `yaml:"flows"`
}

type docTask struct {
	JoinCode        string              `yaml:"joinCode"`
	SplitCode       string              `yaml:"splitCode"`
	Params          []docParam          `yaml:"params"`
	MultiInstance   *docMultiInstance   `yaml:"multiInstance,omitempty"`
	Decomposition   string              `yaml:"decomposition,omitempty"`
	Composite       bool                `yaml:"composite"`
	HumanTask       bool                `yaml:"humanTask"`
	Urgent          bool                `yaml:"urgent"`
	LeaseTTLMillis  int64               `yaml:"leaseTtlMillis"`
	MaxAttempts     int                 `yaml:"maxAttempts"`
	ErrorArcFlowID  string              `yaml:"errorArcFlowId,omitempty"`
	CancelRegion    []docElementRef     `yaml:"cancellationRegion,omitempty"`
	Matching        docMatchingRule     `yaml:"matching"`
}

type docMatchingRule struct {
	RequiredCapabilities []string `yaml:"requiredCapabilities"`
	PreferenceOrder      []string `yaml:"preferenceOrder"`
	Mode                 string   `yaml:"mode"`
}

type docParam struct {
	Name      string          `yaml:"name"`
	Direction string          `yaml:"direction"`
	Schema    json.RawMessage `yaml:"schema,omitempty"`
}

type docMultiInstance struct {
	Min                               int    `yaml:"min"`
	Max                               int    `yaml:"max"`
	Threshold                         int    `yaml:"threshold"`
	CreationMode                      string `yaml:"creationMode"`
	Selector                         string `yaml:"selector"`
	CompensateCancelledAfterThreshold bool   `yaml:"compensateCancelledAfterThreshold"`
}

type docElementRef struct {
	Kind string `yaml:"kind"` // "condition" | "task"
	ID   string `yaml:"id"`
}

type docFlow struct {
	ID        string        `yaml:"id"`
	From      docElementRef `yaml:"from"`
	To        docElementRef `yaml:"to"`
	Predicate string        `yaml:"predicate,omitempty"`
	IsDefault bool          `yaml:"default"`
	Priority  int           `yaml:"priority"`
}
