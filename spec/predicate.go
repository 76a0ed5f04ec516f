package spec

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// Predicate is a compiled jq expression evaluated against case data (§3.1:
// "each optionally predicated - a boolean expression over case data").
// XOR/OR split arcs, error arcs, and multi-instance selectors are all
// Predicates; only the interpretation of the result differs (boolean for
// flow gating, sequence for a static multi-instance selector).
type Predicate struct {
	source string
	code   *gojq.Code
}

// CompilePredicate parses and compiles a jq expression. Compilation happens
// once at specification load time; evaluation never re-parses.
func CompilePredicate(expr string) (*Predicate, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse predicate %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", expr, err)
	}
	return &Predicate{source: expr, code: code}, nil
}

// String returns the original jq source, for error messages and audit logs.
func (p *Predicate) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// EvalBool evaluates the predicate against data and coerces the first
// result to a boolean, following jq truthiness (false and null are falsy,
// everything else including zero and empty string is truthy).
func (p *Predicate) EvalBool(data map[string]any) (bool, error) {
	v, err := p.evalOne(data)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvalSequence evaluates the predicate and requires the result to be a JSON
// array, used for static multi-instance selectors.
func (p *Predicate) EvalSequence(data map[string]any) ([]any, error) {
	v, err := p.evalOne(data)
	if err != nil {
		return nil, err
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("predicate %q did not yield an array: %T", p.source, v)
	}
	return seq, nil
}

func (p *Predicate) evalOne(data map[string]any) (any, error) {
	iter := p.code.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("predicate %q yielded no result", p.source)
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("evaluate predicate %q: %w", p.source, err)
	}
	return v, nil
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
