// Package engine defines the dual-engine abstraction behind the Engine
// Selector & Facade (C6, §4.6): one interface implemented by a stateful,
// durable variant (package engine/durable, Temporal-backed) and a
// stateless, in-process variant (package engine/inmem). Both implement the
// same firing semantics; they differ only in state custody (§4.6.2).
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/runner"
)

// ErrVariantMigrationUnsupported is returned when a caller attempts to move
// a case from the engine variant it was launched on to a different one.
// The Engine Selector picks a variant once, at launch, and records it
// durably; a running case's custody never moves between stateful and
// stateless afterward.
var ErrVariantMigrationUnsupported = errors.New("cross-variant case migration is not supported")

// Variant names the two engine implementations, recorded with every case
// and surfaced in every query (§4.6.1 step 3).
type Variant string

const (
	VariantStateful  Variant = "stateful"
	VariantStateless Variant = "stateless"
)

// LaunchRequest starts a new case on the chosen engine.
type LaunchRequest struct {
	CaseID     string // pre-assigned by the facade so both variants agree on identity
	SpecID     string
	NetName    string
	InputData  map[string]any
	ParentCase *marking.Parent
}

// CaseView is the canonical, engine-agnostic view of a case (§4.6.2
// "getState returns a canonical view").
type CaseView struct {
	CaseID          string
	Lifecycle       marking.Lifecycle
	Marking         map[string]int
	Data            map[string]any
	LiveItems       int
	EngineUsed      Variant
	SelectionReason string
}

// Engine is the contract both variants satisfy. Event application always
// goes through ApplyEvent, so idempotent-by-eventId semantics (§4.3.5) are
// enforced in exactly one place: the shared runner.Runner each variant
// wraps.
type Engine interface {
	// Variant reports which engine implementation this is.
	Variant() Variant

	// Launch creates a case and performs its initial firing pass.
	Launch(ctx context.Context, req LaunchRequest) (*CaseView, error)

	// ApplyEvent delivers one external event and advances the case.
	ApplyEvent(ctx context.Context, caseID string, ev runner.Event) error

	// GetCase returns the current canonical view of a case.
	GetCase(ctx context.Context, caseID string) (*CaseView, error)

	// Cancel requests case-level cancellation (§5 "Cancellation semantics").
	Cancel(ctx context.Context, caseID string) error

	// Close releases engine resources (worker pools, client connections).
	Close(ctx context.Context) error
}

// HealthChecker is implemented by engines that can report liveness before
// the selector routes a launch to them (§4.6.1 "stateless runtime is
// unavailable").
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// DeadlineClock abstracts time for case-level hard deadlines (§5
// "Timeouts") so tests can inject a fake clock.
type DeadlineClock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production DeadlineClock.
var RealClock DeadlineClock = realClock{}
