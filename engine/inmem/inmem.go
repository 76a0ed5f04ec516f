// Package inmem implements the stateless engine variant (§4.6.2): every
// operation is a pure function of the caller-supplied case identity plus
// the event applied to it, executed synchronously against the shared
// marking/work-item stores with no durability guarantee beyond the
// process's lifetime. Unlike the teacher's goroutine-per-run engine (each
// LLM turn can run for minutes), a firing pass here is a short, CPU-bound
// token-game computation, so Launch/ApplyEvent run inline rather than
// through a spawned worker goroutine with a future to await.
package inmem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/yerrors"
)

// Engine is the stateless, in-process engine variant.
type Engine struct {
	Runner *runner.Runner

	mu    sync.Mutex
	known map[string]struct{}
}

// New constructs a stateless engine wrapping the given runner.
func New(r *runner.Runner) *Engine {
	return &Engine{Runner: r, known: make(map[string]struct{})}
}

// Variant implements engine.Engine.
func (e *Engine) Variant() engine.Variant { return engine.VariantStateless }

// Healthy implements engine.HealthChecker; the in-process engine is always
// available once constructed.
func (e *Engine) Healthy(context.Context) bool { return true }

// Launch implements engine.Engine.
func (e *Engine) Launch(ctx context.Context, req engine.LaunchRequest) (*engine.CaseView, error) {
	sp, err := e.Runner.Specs.Resolve(req.SpecID)
	if err != nil {
		return nil, err
	}
	caseID := req.CaseID
	if caseID == "" {
		caseID = uuid.NewString()
	}
	cs, err := e.Runner.Marks.NewWithID(caseID, sp, req.NetName)
	if err != nil {
		return nil, err
	}
	if req.InputData != nil {
		if err := e.Runner.Marks.MutateData(cs.CaseID, func(data map[string]any) {
			for k, v := range req.InputData {
				data[k] = v
			}
		}); err != nil {
			return nil, err
		}
	}
	if req.ParentCase != nil {
		if err := e.Runner.Marks.WithLock(cs.CaseID, func(state *marking.CaseState) error {
			state.Parent = req.ParentCase
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if err := e.Runner.Marks.SetLifecycle(cs.CaseID, marking.Executing); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.known[cs.CaseID] = struct{}{}
	e.mu.Unlock()

	if err := e.Runner.Advance(ctx, cs.CaseID); err != nil {
		return nil, err
	}
	return e.GetCase(ctx, cs.CaseID)
}

// ApplyEvent implements engine.Engine.
func (e *Engine) ApplyEvent(ctx context.Context, caseID string, ev runner.Event) error {
	if !e.owns(caseID) {
		return yerrors.New(yerrors.KindCaseNotFound, caseID, "case not owned by this engine instance")
	}
	return e.Runner.ApplyEvent(ctx, caseID, ev)
}

// GetCase implements engine.Engine.
func (e *Engine) GetCase(ctx context.Context, caseID string) (*engine.CaseView, error) {
	cs, err := e.Runner.Marks.Snapshot(caseID)
	if err != nil {
		return nil, err
	}
	return &engine.CaseView{
		CaseID:          cs.CaseID,
		Lifecycle:       cs.Lifecycle,
		Marking:         cs.Marking,
		Data:            cs.Data,
		LiveItems:       e.Runner.Items.LiveCount(caseID),
		EngineUsed:      engine.Variant(cs.EngineUsed),
		SelectionReason: cs.SelectionReason,
	}, nil
}

// Cancel implements engine.Engine.
func (e *Engine) Cancel(ctx context.Context, caseID string) error {
	return e.Runner.ApplyEvent(ctx, caseID, runner.CancelCase{EventID: "cancel-" + caseID})
}

// Close implements engine.Engine; the in-process engine holds no external
// resources.
func (e *Engine) Close(context.Context) error { return nil }

func (e *Engine) owns(caseID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.known[caseID]
	return ok
}
