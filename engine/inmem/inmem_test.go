package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
)

type specCache struct {
	sp *spec.Specification
}

func (c *specCache) Resolve(id string) (*spec.Specification, error) {
	if id != c.sp.SpecID() {
		return nil, assertErr(id)
	}
	return c.sp, nil
}

type assertErr string

func (e assertErr) Error() string { return "spec not found: " + string(e) }

const sequentialSpec = `
specId: inmem-seq
version: "1"
root: main
nets:
  main:
    inputCondition: c_in
    outputCondition: c_out
    conditions: [c_mid]
    tasks:
      A: {joinCode: AND, splitCode: AND}
      B: {joinCode: AND, splitCode: AND}
    flows:
      - {id: f1, from: {kind: condition, id: c_in}, to: {kind: task, id: A}}
      - {id: f2, from: {kind: task, id: A}, to: {kind: condition, id: c_mid}}
      - {id: f3, from: {kind: condition, id: c_mid}, to: {kind: task, id: B}}
      - {id: f4, from: {kind: task, id: B}, to: {kind: condition, id: c_out}}
`

func newTestEngine(t *testing.T) (*Engine, *spec.Specification) {
	t.Helper()
	sp, err := spec.Load([]byte(sequentialSpec))
	require.NoError(t, err)
	marks := marking.NewStore()
	items := workitem.NewStore()
	r := runner.New(marks, items, &specCache{sp: sp}, nil, nil, nil, nil)
	return New(r), sp
}

func TestLaunchRunsInitialFiringPass(t *testing.T) {
	ctx := context.Background()
	e, sp := newTestEngine(t)

	view, err := e.Launch(ctx, engine.LaunchRequest{
		CaseID: "case-1",
		SpecID: sp.SpecID(),
	})
	require.NoError(t, err)
	assert.Equal(t, marking.Executing, view.Lifecycle)
	assert.Equal(t, 1, view.LiveItems)
}

func TestApplyEventRejectsUnknownCase(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	err := e.ApplyEvent(ctx, "nonexistent", runner.CancelCase{EventID: "e1"})
	require.Error(t, err)
}

func TestCancelMarksCaseCancelled(t *testing.T) {
	ctx := context.Background()
	e, sp := newTestEngine(t)

	_, err := e.Launch(ctx, engine.LaunchRequest{CaseID: "case-2", SpecID: sp.SpecID()})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(ctx, "case-2"))

	view, err := e.GetCase(ctx, "case-2")
	require.NoError(t, err)
	assert.Equal(t, marking.Cancelled, view.Lifecycle)
}

func TestVariantIsStateless(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, engine.VariantStateless, e.Variant())
}
