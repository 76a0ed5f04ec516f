package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/engine/inmem"
	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/runner"
	sessioninmem "github.com/yawl-run/yawl/session/inmem"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
)

type specStore struct {
	specs map[string]*spec.Specification
}

func newSpecStore() *specStore { return &specStore{specs: make(map[string]*spec.Specification)} }

func (s *specStore) add(doc string) *spec.Specification {
	sp, err := spec.Load([]byte(doc))
	if err != nil {
		panic(err)
	}
	s.specs[sp.SpecID()] = sp
	return sp
}

func (s *specStore) Resolve(id string) (*spec.Specification, error) {
	if sp, ok := s.specs[id]; ok {
		return sp, nil
	}
	return nil, assertNotFound(id)
}

type assertNotFound string

func (e assertNotFound) Error() string { return "spec not found: " + string(e) }

const noProfileSpec = `
specId: facade-default
version: "1"
root: main
nets:
  main:
    inputCondition: c_in
    outputCondition: c_out
    conditions: []
    tasks:
      A: {joinCode: AND, splitCode: AND}
    flows:
      - {id: f1, from: {kind: condition, id: c_in}, to: {kind: task, id: A}}
      - {id: f2, from: {kind: task, id: A}, to: {kind: condition, id: c_out}}
`

const statelessPreferredSpec = `
specId: facade-stateless
version: "1"
root: main
executionProfile:
  preferred: stateless
  allowHumanTasks: true
  fallbackToStateful: false
nets:
  main:
    inputCondition: c_in
    outputCondition: c_out
    conditions: []
    tasks:
      A: {joinCode: AND, splitCode: AND}
    flows:
      - {id: f1, from: {kind: condition, id: c_in}, to: {kind: task, id: A}}
      - {id: f2, from: {kind: task, id: A}, to: {kind: condition, id: c_out}}
`

const statelessHumanTaskSpec = `
specId: facade-stateless-human
version: "1"
root: main
executionProfile:
  preferred: stateless
  allowHumanTasks: false
  fallbackToStateful: false
nets:
  main:
    inputCondition: c_in
    outputCondition: c_out
    conditions: []
    tasks:
      A: {joinCode: AND, splitCode: AND, humanTask: true}
    flows:
      - {id: f1, from: {kind: condition, id: c_in}, to: {kind: task, id: A}}
      - {id: f2, from: {kind: task, id: A}, to: {kind: condition, id: c_out}}
`

func newTestFacade(t *testing.T, cfg Config) (*Facade, *specStore) {
	t.Helper()
	marks := marking.NewStore()
	items := workitem.NewStore()
	specs := newSpecStore()
	r := runner.New(marks, items, specs, nil, nil, nil, nil)
	stateful := inmem.New(r)    // stands in for the durable variant in these routing tests
	stateless := inmem.New(r)
	f := New(cfg, Deps{
		Stateful:  stateful,
		Stateless: stateless,
		Marks:     marks,
		Items:     items,
		Specs:     specs,
	})
	return f, specs
}

func TestLaunchCaseDefaultsToStatefulWithNoProfile(t *testing.T) {
	ctx := context.Background()
	f, specs := newTestFacade(t, LoadConfig())
	sp := specs.add(noProfileSpec)

	res, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, engine.VariantStateful, res.EngineUsed)

	view, err := f.GetCase(ctx, res.CaseID)
	require.NoError(t, err)
	assert.Equal(t, engine.VariantStateful, view.EngineUsed)
}

func TestLaunchCaseRoutesStatelessWhenPreferred(t *testing.T) {
	ctx := context.Background()
	cfg := LoadConfig()
	cfg.StatelessEnabled = true
	f, specs := newTestFacade(t, cfg)
	sp := specs.add(statelessPreferredSpec)

	res, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, engine.VariantStateless, res.EngineUsed)
}

func TestLaunchCaseRejectsHumanTaskUnderStateless(t *testing.T) {
	ctx := context.Background()
	f, specs := newTestFacade(t, LoadConfig())
	sp := specs.add(statelessHumanTaskSpec)

	_, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.Error(t, err)
}

func TestLaunchCaseFailsWhenStatelessDisabledWithoutFallback(t *testing.T) {
	ctx := context.Background()
	cfg := LoadConfig()
	cfg.StatelessEnabled = false
	f, specs := newTestFacade(t, cfg)
	sp := specs.add(statelessPreferredSpec)

	_, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.Error(t, err, "fallbackToStateful is false in this fixture, so disabling stateless must fail the launch")
}

func TestEngineOverrideRequiresRoleAndConfig(t *testing.T) {
	ctx := context.Background()
	cfg := LoadConfig()
	cfg.OverrideAllowed = true
	f, specs := newTestFacade(t, cfg)
	sp := specs.add(noProfileSpec)

	_, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{EngineOverride: engine.VariantStateless, Role: "caller"})
	require.Error(t, err)

	res, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{EngineOverride: engine.VariantStateless, Role: "engine-admin"})
	require.NoError(t, err)
	assert.Equal(t, engine.VariantStateless, res.EngineUsed)
}

func TestApplyEventAndCancelRouteByRecordedEngine(t *testing.T) {
	ctx := context.Background()
	f, specs := newTestFacade(t, LoadConfig())
	sp := specs.add(noProfileSpec)

	res, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)

	require.NoError(t, f.Cancel(ctx, res.CaseID))

	view, err := f.GetCase(ctx, res.CaseID)
	require.NoError(t, err)
	assert.Equal(t, marking.Cancelled, view.Lifecycle)
}

func TestApplyEventUnknownCaseFails(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFacade(t, LoadConfig())

	err := f.ApplyEvent(ctx, "nonexistent", runner.CancelCase{EventID: "e1"})
	require.Error(t, err)
}

func TestLaunchCaseInSessionRegistersMembership(t *testing.T) {
	ctx := context.Background()
	marks := marking.NewStore()
	items := workitem.NewStore()
	specs := newSpecStore()
	r := runner.New(marks, items, specs, nil, nil, nil, nil)
	sessions := sessioninmem.New()
	f := New(LoadConfig(), Deps{
		Stateful:  inmem.New(r),
		Stateless: inmem.New(r),
		Marks:     marks,
		Items:     items,
		Specs:     specs,
		Sessions:  sessions,
	})
	sp := specs.add(noProfileSpec)

	res, err := f.LaunchCaseInSession(ctx, "sess-1", sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)

	cases, err := sessions.ListCasesBySession(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, res.CaseID, cases[0].CaseID)
}

func TestLaunchCaseInSessionWithoutSessionIDBehavesLikeLaunchCase(t *testing.T) {
	ctx := context.Background()
	f, specs := newTestFacade(t, LoadConfig())
	sp := specs.add(noProfileSpec)

	res, err := f.LaunchCaseInSession(ctx, "", sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CaseID)
}

func TestResumeCaseAgreesWithRecordedEngine(t *testing.T) {
	ctx := context.Background()
	f, specs := newTestFacade(t, LoadConfig())
	sp := specs.add(noProfileSpec)

	res, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)

	view, err := f.ResumeCase(ctx, res.CaseID, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, engine.VariantStateful, view.EngineUsed)
}

func TestResumeCaseRejectsDisagreeingSelection(t *testing.T) {
	ctx := context.Background()
	cfg := LoadConfig()
	cfg.OverrideAllowed = true
	f, specs := newTestFacade(t, cfg)
	sp := specs.add(noProfileSpec)

	res, err := f.LaunchCase(ctx, sp.SpecID(), nil, Overrides{})
	require.NoError(t, err)
	require.Equal(t, engine.VariantStateful, res.EngineUsed)

	_, err = f.ResumeCase(ctx, res.CaseID, Overrides{EngineOverride: engine.VariantStateless, Role: "engine-admin"})
	require.ErrorIs(t, err, engine.ErrVariantMigrationUnsupported)
}

func TestISO8601DurationParsing(t *testing.T) {
	d, ok := parseISO8601Duration("PT5M")
	require.True(t, ok)
	assert.Equal(t, "5m0s", d.String())

	d, ok = parseISO8601Duration("PT1H30M")
	require.True(t, ok)
	assert.Equal(t, "1h30m0s", d.String())

	_, ok = parseISO8601Duration("P1D")
	assert.False(t, ok)
}
