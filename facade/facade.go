package facade

import (
	"context"
	"time"

	"github.com/yawl-run/yawl/allocator"
	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/session"
	"github.com/yawl-run/yawl/telemetry"
	"github.com/yawl-run/yawl/workitem"
	"github.com/yawl-run/yawl/yerrors"
)

// CaseView is the canonical, caller-facing view of a case (§6.1 "getCase").
type CaseView = engine.CaseView

// LaunchResult is launchCase's return value (§6.1).
type LaunchResult struct {
	CaseID          string
	EngineUsed      engine.Variant
	SelectionReason string
}

// Facade is the single public entry point (C6): it picks a stateful or
// stateless engine per launchCase per §4.6.1, and routes every subsequent
// applyEvent/cancel/getCase call to whichever variant owns that case.
// Both engines read the same marking.Store/workitem.Store, so getCase and
// listLiveWorkItems never need to know which variant is in play — only
// applyEvent/cancel do, since only the durable variant needs its Temporal
// workflow signalled rather than mutated in place.
type Facade struct {
	cfg Config

	stateful  engine.Engine
	stateless engine.Engine

	marks    *marking.Store
	items    *workitem.Store
	resolver runner.SpecResolver
	alloc    *allocator.Allocator
	// sessions is the optional case-grouping collaborator (additive
	// supplement, §SPEC_FULL "Session grouping for cases"). Nil disables
	// session registration; launchCase/LaunchSubCase work identically
	// either way.
	sessions session.Store

	log telemetry.Logger
}

// Deps bundles the collaborators a Facade wraps. Stateless may be nil when
// Config.StatelessEnabled is false for every specification the process
// serves; Stateful is required.
type Deps struct {
	Stateful  engine.Engine
	Stateless engine.Engine
	Marks     *marking.Store
	Items     *workitem.Store
	Specs     runner.SpecResolver
	Alloc     *allocator.Allocator
	// Sessions is optional; see Facade.sessions.
	Sessions session.Store
	Log      telemetry.Logger
}

// New constructs a Facade.
func New(cfg Config, d Deps) *Facade {
	log := d.Log
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Facade{
		cfg:       cfg,
		stateful:  d.Stateful,
		stateless: d.Stateless,
		marks:     d.Marks,
		items:     d.Items,
		resolver:  d.Specs,
		alloc:     d.Alloc,
		sessions:  d.Sessions,
		log:       log,
	}
}

// registerSessionCase records a launched case's session membership when a
// session store is configured and the caller supplied a session id. Failures
// are logged, not propagated: session grouping is additive audit metadata,
// never a precondition for a case to run (§SPEC_FULL "additive and not
// required by spec.md").
func (f *Facade) registerSessionCase(ctx context.Context, sessionID, caseID, specID string) {
	if f.sessions == nil || sessionID == "" {
		return
	}
	now := time.Now()
	if _, err := f.sessions.CreateSession(ctx, sessionID, now); err != nil {
		f.log.Warn(ctx, "session create failed", "session_id", sessionID, "err", err)
		return
	}
	err := f.sessions.UpsertCase(ctx, session.CaseMeta{
		CaseID:    caseID,
		SessionID: sessionID,
		SpecID:    specID,
		Status:    session.CaseLaunching,
		StartedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		f.log.Warn(ctx, "session case upsert failed", "session_id", sessionID, "case_id", caseID, "err", err)
	}
}

// LaunchCase implements §6.1 `launchCase(specId, inputData, overrides?)`.
func (f *Facade) LaunchCase(ctx context.Context, specID string, inputData map[string]any, ov Overrides) (*LaunchResult, error) {
	sp, err := f.resolver.Resolve(specID)
	if err != nil {
		return nil, err
	}
	sel, err := f.selectEngine(ctx, sp, ov)
	if err != nil {
		return nil, err
	}
	eng := f.engineFor(sel.Variant)
	if eng == nil {
		return nil, yerrors.New(yerrors.KindServiceUnavailable, "", "selected engine variant not configured")
	}

	view, err := eng.Launch(ctx, engine.LaunchRequest{
		SpecID:    sp.SpecID(),
		NetName:   sp.RootNet,
		InputData: inputData,
	})
	if err != nil {
		return nil, err
	}
	if err := f.marks.SetEngineSelection(view.CaseID, string(sel.Variant), sel.Reason); err != nil {
		return nil, err
	}
	return &LaunchResult{CaseID: view.CaseID, EngineUsed: sel.Variant, SelectionReason: sel.Reason}, nil
}

// LaunchCaseInSession behaves exactly like LaunchCase, additionally
// registering the new case's membership in sessionID when a session store
// is configured (§SPEC_FULL "Session grouping for cases"). An empty
// sessionID is equivalent to calling LaunchCase directly.
func (f *Facade) LaunchCaseInSession(ctx context.Context, sessionID, specID string, inputData map[string]any, ov Overrides) (*LaunchResult, error) {
	res, err := f.LaunchCase(ctx, specID, inputData, ov)
	if err != nil {
		return nil, err
	}
	f.registerSessionCase(ctx, sessionID, res.CaseID, specID)
	return res, nil
}

// GetCase implements §6.1 `getCase(caseId)`. Both variants share the same
// underlying stores, so either engine answers correctly regardless of which
// one owns the case's live supervision.
func (f *Facade) GetCase(ctx context.Context, caseID string) (*CaseView, error) {
	cs, err := f.marks.Snapshot(caseID)
	if err != nil {
		return nil, err
	}
	eng := f.engineFor(engine.Variant(cs.EngineUsed))
	if eng == nil {
		eng = f.stateful
	}
	return eng.GetCase(ctx, caseID)
}

// ApplyEvent implements §6.1 `applyEvent(caseId, event)`, routed to the
// engine recorded at launch: the durable variant must signal its Temporal
// workflow, the in-process variant mutates the stores directly.
func (f *Facade) ApplyEvent(ctx context.Context, caseID string, ev runner.Event) error {
	cs, err := f.marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	eng := f.engineFor(engine.Variant(cs.EngineUsed))
	if eng == nil {
		return yerrors.New(yerrors.KindServiceUnavailable, caseID, "recorded engine variant is not configured on this facade")
	}
	return eng.ApplyEvent(ctx, caseID, ev)
}

// Cancel implements §6.1 `cancel` via the CancelCase event.
func (f *Facade) Cancel(ctx context.Context, caseID string) error {
	cs, err := f.marks.Snapshot(caseID)
	if err != nil {
		return err
	}
	eng := f.engineFor(engine.Variant(cs.EngineUsed))
	if eng == nil {
		return yerrors.New(yerrors.KindServiceUnavailable, caseID, "recorded engine variant is not configured on this facade")
	}
	return eng.Cancel(ctx, caseID)
}

// ListLiveWorkItems implements §6.1 `listLiveWorkItems(caseId?)`. Passing an
// empty caseID lists across every case.
func (f *Facade) ListLiveWorkItems(caseID string) []*workitem.Item {
	return f.items.ListLive(caseID)
}

// Claim implements the worker-host side of §6.2 `checkout`, pulling the
// next item a worker is eligible for (queue or offer-all mode) and checking
// it out. A nil result with a nil error means nothing is currently available.
func (f *Facade) Claim(ctx context.Context, requiredCapabilities []string, workerID string) (*workitem.Item, error) {
	if item, err := f.alloc.Claim(ctx, requiredCapabilities, workerID); item != nil || err != nil {
		return item, err
	}
	return f.alloc.ClaimOffered(ctx, workerID)
}

// Checkin implements §6.2 `checkin(itemId, workerId, outputs | error)` by
// translating the worker host's report into the matching applyEvent call so
// that idempotence and the error-arc/retry rules in §4.3.5/§4.4.3 apply
// uniformly regardless of call path.
func (f *Facade) Checkin(ctx context.Context, caseID, eventID, itemID string, outputs map[string]any, checkinErr error) error {
	if checkinErr != nil {
		return f.ApplyEvent(ctx, caseID, runner.FailWorkItem{EventID: eventID, ItemID: itemID, ErrorPayload: map[string]any{"error": checkinErr.Error()}})
	}
	return f.ApplyEvent(ctx, caseID, runner.CompleteWorkItem{EventID: eventID, ItemID: itemID, Outputs: outputs})
}

// LaunchSubCase implements runner.SubCaseLauncher (§4.3.3 step 3 "composite
// task firing launches a child case"). A Runner's Sub field is wired to the
// Facade after both are constructed, since the Facade itself wraps the
// engines that in turn wrap the runners that need this interface — an
// assembler (main.go, or a test) breaks the cycle with the exported field
// assignment `runner.Sub = facade`. The child case runs the same
// specification's named sub-net, selected through the same §4.6.1 algorithm
// as any other launch, so a composite task's child can independently land
// on either engine variant.
func (f *Facade) LaunchSubCase(ctx context.Context, parentCaseID, itemID, childSpecID, netName string, inputData map[string]any) (string, error) {
	sp, err := f.resolver.Resolve(childSpecID)
	if err != nil {
		return "", err
	}
	sel, err := f.selectEngine(ctx, sp, Overrides{})
	if err != nil {
		return "", err
	}
	eng := f.engineFor(sel.Variant)
	if eng == nil {
		return "", yerrors.New(yerrors.KindServiceUnavailable, parentCaseID, "selected engine variant not configured")
	}
	view, err := eng.Launch(ctx, engine.LaunchRequest{
		SpecID:    sp.SpecID(),
		NetName:   netName,
		InputData: inputData,
		ParentCase: &marking.Parent{CaseID: parentCaseID, ItemID: itemID},
	})
	if err != nil {
		return "", err
	}
	if err := f.marks.SetEngineSelection(view.CaseID, string(sel.Variant), sel.Reason); err != nil {
		return "", err
	}
	return view.CaseID, nil
}

// ResumeCase re-evaluates the engine selection for an already-launched case
// (e.g. after a process restart that picks ResumeCase back up before its
// first applyEvent/getCase call) and confirms it still agrees with the
// variant recorded at launch. §4.6.1's selection is made once, at launch,
// and is permanent for the life of the case; if reconfiguration (flipping
// STATELESS_ENABLED or a specification's executionProfile) would now choose
// a different variant, ResumeCase refuses with
// engine.ErrVariantMigrationUnsupported rather than silently re-homing a
// live case's state custody.
func (f *Facade) ResumeCase(ctx context.Context, caseID string, ov Overrides) (*CaseView, error) {
	cs, err := f.marks.Snapshot(caseID)
	if err != nil {
		return nil, err
	}
	sp, err := f.resolver.Resolve(cs.SpecID)
	if err != nil {
		return nil, err
	}
	sel, err := f.selectEngine(ctx, sp, ov)
	if err != nil {
		return nil, err
	}
	if cs.EngineUsed != "" && string(sel.Variant) != cs.EngineUsed {
		return nil, engine.ErrVariantMigrationUnsupported
	}
	eng := f.engineFor(sel.Variant)
	if eng == nil {
		return nil, yerrors.New(yerrors.KindServiceUnavailable, caseID, "recorded engine variant is not configured on this facade")
	}
	return eng.GetCase(ctx, caseID)
}

func (f *Facade) engineFor(v engine.Variant) engine.Engine {
	switch v {
	case engine.VariantStateful:
		return f.stateful
	case engine.VariantStateless:
		return f.stateless
	default:
		return nil
	}
}
