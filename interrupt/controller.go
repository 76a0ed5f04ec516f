// Package interrupt provides workflow signal handling for the durable
// engine variant's case workflow: it exposes a Controller that drains
// CancelCase and TimerFired events delivered as Temporal signals, so the
// case workflow function (engine/durable) can select across them without
// hand-rolling channel plumbing itself.
package interrupt

import (
	"errors"

	"go.temporal.io/sdk/workflow"

	"github.com/yawl-run/yawl/runner"
)

// SignalCaseEvent is the single signal name carrying every runner.Event
// into a case workflow (§4.6.2).
const SignalCaseEvent = "yawl.case_event"

// Controller drains case-event signals for a running case workflow.
type Controller struct {
	ch workflow.ReceiveChannel
}

// NewController builds a controller wired to the workflow's case-event
// signal channel.
func NewController(ctx workflow.Context) *Controller {
	return &Controller{ch: workflow.GetSignalChannel(ctx, SignalCaseEvent)}
}

// PollEvent attempts to dequeue a case event without blocking.
func (c *Controller) PollEvent(ctx workflow.Context) (runner.Event, bool) {
	if c == nil || c.ch == nil {
		return nil, false
	}
	var ev runner.Event
	if !c.ch.ReceiveAsync(&ev) {
		return nil, false
	}
	return ev, true
}

// WaitEvent blocks, via the given selector, until a signalled event
// arrives or the selector's other branches (e.g. a deadline timer) fire
// first. The returned bool reports whether a signal actually won the race.
func (c *Controller) WaitEvent(ctx workflow.Context, sel workflow.Selector) (runner.Event, bool, error) {
	if c == nil || c.ch == nil {
		return nil, false, errors.New("interrupt: case event channel unavailable")
	}
	var ev runner.Event
	var got bool
	sel.AddReceive(c.ch, func(ch workflow.ReceiveChannel, more bool) {
		ch.Receive(ctx, &ev)
		got = true
	})
	sel.Select(ctx)
	return ev, got, nil
}
