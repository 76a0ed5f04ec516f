package facade

import (
	"context"
	"time"

	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/yerrors"
)

// selection is the outcome of the §4.6.1 algorithm: which variant to use
// and why, recorded with the case and surfaced in every query.
type selection struct {
	Variant engine.Variant
	Reason  string
}

// Overrides carries launchCase's optional caller-supplied routing inputs
// (§4.6.1 step 3 "engineOverride").
type Overrides struct {
	// EngineOverride forces a variant regardless of the selection
	// algorithm; only honored when Role is "engine-admin" and the facade's
	// Config.OverrideAllowed is true.
	EngineOverride engine.Variant
	Role           string
}

// selectEngine implements §4.6.1. It never returns an empty selection: a
// rejection is always an error.
func (f *Facade) selectEngine(ctx context.Context, sp *spec.Specification, ov Overrides) (selection, error) {
	if ov.EngineOverride != "" {
		if !f.cfg.OverrideAllowed || ov.Role != "engine-admin" {
			return selection{}, yerrors.New(yerrors.KindRoutingRejected, "", "engine override not permitted for this caller")
		}
		f.auditOverride(ctx, sp.SpecID(), ov)
		return selection{Variant: ov.EngineOverride, Reason: "engineOverride by " + ov.Role}, nil
	}

	if sp.ExecutionProfile == nil {
		return selection{Variant: engine.VariantStateful, Reason: "no executionProfile declared"}, nil
	}
	profile := sp.ExecutionProfile

	if profile.Preferred == spec.PreferStateless {
		if hasDisallowedHumanTask(sp) {
			return selection{}, yerrors.New(yerrors.KindRoutingRejected, "", "RejectedBecauseHumanTasks")
		}
	}

	if f.hasLongTimer(sp) {
		return selection{Variant: engine.VariantStateful, Reason: "task timer exceeds stateless duration threshold"}, nil
	}

	if profile.Preferred != spec.PreferStateless {
		return selection{Variant: engine.VariantStateful, Reason: "executionProfile prefers stateful"}, nil
	}

	if f.statelessAvailable(ctx) {
		return selection{Variant: engine.VariantStateless, Reason: "executionProfile prefers stateless"}, nil
	}
	if profile.FallbackToStateful {
		f.log.Warn(ctx, "stateless runtime unavailable, falling back to stateful", "spec_id", sp.SpecID())
		return selection{Variant: engine.VariantStateful, Reason: "stateless unavailable, fallbackToStateful"}, nil
	}
	return selection{}, yerrors.New(yerrors.KindServiceUnavailable, "", "stateless runtime unavailable and fallbackToStateful is false")
}

// hasDisallowedHumanTask reports whether any task across the specification's
// nets is flagged humanTask while allowHumanTasks is false.
func hasDisallowedHumanTask(sp *spec.Specification) bool {
	if sp.ExecutionProfile.AllowHumanTasks {
		return false
	}
	for _, net := range sp.Nets {
		for _, t := range net.Tasks {
			if t.HumanTask {
				return true
			}
		}
	}
	return false
}

// hasLongTimer reports whether any task declares a lease TTL — the closest
// analogue this model has to a task-level timer duration — longer than the
// configured stateless duration threshold.
func (f *Facade) hasLongTimer(sp *spec.Specification) bool {
	threshold := f.cfg.StatelessMaxDurationHint
	if threshold <= 0 {
		return false
	}
	for _, net := range sp.Nets {
		for _, t := range net.Tasks {
			if t.LeaseTTLMillis > 0 && time.Duration(t.LeaseTTLMillis)*time.Millisecond > threshold {
				return true
			}
		}
	}
	return false
}

func (f *Facade) statelessAvailable(ctx context.Context) bool {
	if !f.cfg.StatelessEnabled || f.stateless == nil {
		return false
	}
	hc, ok := f.stateless.(engine.HealthChecker)
	if !ok {
		return true
	}
	return hc.Healthy(ctx)
}

func (f *Facade) auditOverride(ctx context.Context, specID string, ov Overrides) {
	f.log.Info(ctx, "engine override applied", "spec_id", specID, "role", ov.Role, "variant", string(ov.EngineOverride))
}
