// Package durable implements the stateful engine variant (§4.6.2): each
// case becomes a Temporal workflow execution. The workflow function itself
// stays tiny and deterministic — it waits on signal channels and delegates
// every state mutation to activities, which are free to call the
// non-deterministic Net Runner against the durable marking/work-item
// stores. This mirrors the teacher's Temporal engine wrapper: workflow code
// orchestrates, activities do the work.
package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/interrupt"
	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/persistence"
	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/telemetry"
	"github.com/yawl-run/yawl/yerrors"
)

// SignalCaseEvent is the signal name used to deliver every runner.Event
// into a running case workflow (mirrors interrupt.SignalCaseEvent).
const SignalCaseEvent = interrupt.SignalCaseEvent

// Options configures a durable Engine.
type Options struct {
	Client    client.Client // pre-dialed client; if nil, Engine dials HostPort
	HostPort  string
	Namespace string
	TaskQueue string
	Log       telemetry.Logger
	// Persist is the optional §6.3 persistence collaborator; see
	// Activities.Persist.
	Persist persistence.Log
	// HardDeadline, if positive, re-arms a Temporal timer after every case
	// event; firing it force-cancels the case (§5 "Net Runner suspension
	// timeout"). Zero disables it.
	HardDeadline time.Duration
}

// Activities bundles the non-deterministic case operations the workflow
// delegates to, backed by a runner.Runner over the durable stores.
type Activities struct {
	Runner *runner.Runner
	// Persist is the §6.3 persistence collaborator. When set, every launch
	// and applied event appends the case's resulting state as an entry,
	// giving fast restore on top of Temporal's own workflow history. Nil
	// disables persistence (e.g. in tests against the in-memory stores).
	Persist persistence.Log
	Log     telemetry.Logger
}

// recordEntry appends the case's current state to the persistence log as
// one opaque entry (§6.3 "entry is an opaque byte blob representing one
// firing or one event outcome"). Failures are logged, not propagated: the
// durable stores and Temporal's own history remain the source of truth.
func (a *Activities) recordEntry(ctx context.Context, caseID string) {
	if a.Persist == nil {
		return
	}
	cs, err := a.Runner.Marks.Snapshot(caseID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if _, err := a.Persist.Append(ctx, caseID, payload); err != nil && a.Log != nil {
		a.Log.Warn(ctx, "persistence append failed", "case_id", caseID, "err", err)
	}
}

// LaunchActivity creates the case and runs its initial firing pass.
func (a *Activities) LaunchActivity(ctx context.Context, req engine.LaunchRequest) (*engine.CaseView, error) {
	sp, err := a.Runner.Specs.Resolve(req.SpecID)
	if err != nil {
		return nil, err
	}
	caseID := req.CaseID
	if caseID == "" {
		caseID = uuid.NewString()
	}
	cs, err := a.Runner.Marks.NewWithID(caseID, sp, req.NetName)
	if err != nil {
		return nil, err
	}
	if req.InputData != nil {
		if err := a.Runner.Marks.MutateData(cs.CaseID, func(data map[string]any) {
			for k, v := range req.InputData {
				data[k] = v
			}
		}); err != nil {
			return nil, err
		}
	}
	if req.ParentCase != nil {
		if err := a.Runner.Marks.WithLock(cs.CaseID, func(state *marking.CaseState) error {
			state.Parent = req.ParentCase
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if err := a.Runner.Marks.SetLifecycle(cs.CaseID, marking.Executing); err != nil {
		return nil, err
	}
	if err := a.Runner.Advance(ctx, cs.CaseID); err != nil {
		return nil, err
	}
	a.recordEntry(ctx, cs.CaseID)
	return a.QueryActivity(ctx, cs.CaseID)
}

// ApplyEventActivity applies one external event and advances the case.
func (a *Activities) ApplyEventActivity(ctx context.Context, caseID string, ev runner.Event) error {
	if err := a.Runner.ApplyEvent(ctx, caseID, ev); err != nil {
		return err
	}
	a.recordEntry(ctx, caseID)
	return nil
}

// QueryActivity returns the case's canonical view.
func (a *Activities) QueryActivity(ctx context.Context, caseID string) (*engine.CaseView, error) {
	cs, err := a.Runner.Marks.Snapshot(caseID)
	if err != nil {
		return nil, err
	}
	return &engine.CaseView{
		CaseID:          cs.CaseID,
		Lifecycle:       cs.Lifecycle,
		Marking:         cs.Marking,
		Data:            cs.Data,
		LiveItems:       a.Runner.Items.LiveCount(caseID),
		EngineUsed:      engine.Variant(cs.EngineUsed),
		SelectionReason: cs.SelectionReason,
	}, nil
}

func isTerminal(v *engine.CaseView) bool {
	switch v.Lifecycle {
	case marking.Completed, marking.Cancelled, marking.Failed:
		return true
	default:
		return false
	}
}

// CaseWorkflow is the deterministic workflow function durably supervising
// one case (§4.6.2 "stateful owns the case state"). The case itself is
// created and given its initial firing pass synchronously by Engine.Launch
// against the durable marking/work-item stores *before* this workflow
// starts — keeping that off the workflow history lets the stores, not
// Temporal, be the source of truth for Petri-net state, with the workflow
// only responsible for durably waiting on events and the case-level hard
// deadline (§5 "Net Runner suspension timeout").
func CaseWorkflow(ctx workflow.Context, caseID string, hardDeadline time.Duration) (*engine.CaseView, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	var view *engine.CaseView
	var acts *Activities
	if err := workflow.ExecuteActivity(actx, acts.QueryActivity, caseID).Get(actx, &view); err != nil {
		return nil, fmt.Errorf("query case: %w", err)
	}

	ctrl := interrupt.NewController(ctx)
	for !isTerminal(view) {
		selector := workflow.NewSelector(ctx)
		var timedOut bool
		if hardDeadline > 0 {
			timer := workflow.NewTimer(ctx, hardDeadline)
			selector.AddFuture(timer, func(f workflow.Future) { timedOut = true })
		}
		ev, _, err := ctrl.WaitEvent(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("wait case event: %w", err)
		}
		if timedOut {
			ev = runner.CancelCase{EventID: "deadline-" + caseID}
		}
		if err := workflow.ExecuteActivity(actx, acts.ApplyEventActivity, caseID, ev).Get(actx, nil); err != nil {
			return nil, fmt.Errorf("apply event: %w", err)
		}
		if err := workflow.ExecuteActivity(actx, acts.QueryActivity, caseID).Get(actx, &view); err != nil {
			return nil, fmt.Errorf("query case: %w", err)
		}
	}
	return view, nil
}

// Engine is the Temporal-backed stateful engine variant.
type Engine struct {
	client    client.Client
	ownClient bool
	worker    worker.Worker
	taskQueue string
	acts      *Activities
	log       telemetry.Logger
}

// New dials (if needed) a Temporal client, registers the workflow and
// activities, and starts a worker on opts.TaskQueue.
func New(opts Options, r *runner.Runner) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	c := opts.Client
	ownClient := false
	if c == nil {
		dialed, err := client.NewLazyClient(client.Options{HostPort: opts.HostPort, Namespace: opts.Namespace})
		if err != nil {
			return nil, yerrors.Wrap(yerrors.KindServiceUnavailable, "", err, "create temporal client")
		}
		c = dialed
		ownClient = true
	}

	acts := &Activities{Runner: r, Persist: opts.Persist, Log: log}
	w := worker.New(c, opts.TaskQueue, worker.Options{})
	hardDeadline := opts.HardDeadline
	w.RegisterWorkflowWithOptions(func(ctx workflow.Context, caseID string) (*engine.CaseView, error) {
		return CaseWorkflow(ctx, caseID, hardDeadline)
	}, workflow.RegisterOptions{Name: "CaseWorkflow"})
	w.RegisterActivity(acts.LaunchActivity)
	w.RegisterActivity(acts.ApplyEventActivity)
	w.RegisterActivity(acts.QueryActivity)

	if err := w.Start(); err != nil {
		if ownClient {
			c.Close()
		}
		return nil, yerrors.Wrap(yerrors.KindServiceUnavailable, "", err, "start temporal worker")
	}

	return &Engine{client: c, ownClient: ownClient, worker: w, taskQueue: opts.TaskQueue, acts: acts, log: log}, nil
}

// Variant implements engine.Engine.
func (e *Engine) Variant() engine.Variant { return engine.VariantStateful }

// Healthy implements engine.HealthChecker. The client is lazily connected
// by the Temporal SDK, so readiness here just reflects that the worker
// started successfully; per-call failures surface through ApplyEvent/Launch.
func (e *Engine) Healthy(ctx context.Context) bool { return e.worker != nil }

// Launch implements engine.Engine. It creates the case and runs its initial
// firing pass synchronously against the durable stores, then starts the
// durable CaseWorkflow to supervise it for the rest of its life; it does
// not wait for that workflow to finish (§5 "suspension points" — a case
// with nothing enabled simply waits for its next event).
func (e *Engine) Launch(ctx context.Context, req engine.LaunchRequest) (*engine.CaseView, error) {
	if req.CaseID == "" {
		req.CaseID = uuid.NewString()
	}
	view, err := e.acts.LaunchActivity(ctx, req)
	if err != nil {
		return nil, err
	}
	opts := client.StartWorkflowOptions{
		ID:        "case-" + req.CaseID,
		TaskQueue: e.taskQueue,
	}
	if _, err := e.client.ExecuteWorkflow(ctx, opts, "CaseWorkflow", req.CaseID); err != nil {
		return nil, yerrors.Wrap(yerrors.KindServiceUnavailable, req.CaseID, err, "start case workflow")
	}
	return view, nil
}

// ApplyEvent implements engine.Engine by signalling the running workflow.
func (e *Engine) ApplyEvent(ctx context.Context, caseID string, ev runner.Event) error {
	return e.client.SignalWorkflow(ctx, "case-"+caseID, "", SignalCaseEvent, ev)
}

// GetCase implements engine.Engine by reading the durable stores directly,
// not through the workflow (cheaper than a query and always available even
// if the workflow has already completed).
func (e *Engine) GetCase(ctx context.Context, caseID string) (*engine.CaseView, error) {
	return e.acts.QueryActivity(ctx, caseID)
}

// Cancel implements engine.Engine.
func (e *Engine) Cancel(ctx context.Context, caseID string) error {
	return e.ApplyEvent(ctx, caseID, runner.CancelCase{EventID: "cancel-" + caseID})
}

// Close stops the worker and, if this Engine dialed its own client, closes it.
func (e *Engine) Close(ctx context.Context) error {
	e.worker.Stop()
	if e.ownClient {
		e.client.Close()
	}
	return nil
}
