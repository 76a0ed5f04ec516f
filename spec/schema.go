package spec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompiledSchema wraps a compiled JSON Schema document used to type a task
// parameter slot (§3.1) and, for out-parameters, to validate collected
// work-item outputs (§4.4.1, Invariant 5; §8 property 5).
type CompiledSchema struct {
	source string
	schema *jsonschema.Schema
}

// CompileSchema compiles a raw JSON Schema document. Called once per
// parameter at specification load time.
func CompileSchema(raw json.RawMessage) (*CompiledSchema, error) {
	if len(raw) == 0 {
		// No schema declared: accept anything, matching an absent constraint.
		return &CompiledSchema{source: "{}"}, nil
	}
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	const resourceName = "param.json"
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &CompiledSchema{source: string(raw), schema: sch}, nil
}

// Validate reports whether value conforms to the schema. A nil schema (no
// constraint declared) always validates.
func (s *CompiledSchema) Validate(value any) error {
	if s == nil || s.schema == nil {
		return nil
	}
	return s.schema.Validate(value)
}
