package allocator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/telemetry"
	"github.com/yawl-run/yawl/workitem"
	"github.com/yawl-run/yawl/yerrors"
)

// defaultOfferBroadcastRate paces how fast dispatchOfferAll fans an item out
// to eligible workers' inboxes, so a task with a very large eligible set
// cannot storm the queue backend in one call (§4.5.3 "offer-all mode").
const defaultOfferBroadcastRate = 200

// Queue is the FIFO fairness primitive behind ModeQueue dispatch (§4.5.2
// "queue mode preserves arrival order"). A production deployment backs this
// with Redis lists (see RedisQueue); tests can substitute an in-memory one.
type Queue interface {
	// Push enqueues an item id for a given queue key (a stable signature of
	// the task's required capabilities). front=true jumps urgent items to
	// the head of the line (§4.5.2 "urgent items bypass FIFO order").
	Push(ctx context.Context, key, itemID string, front bool) error
	// Pop dequeues the next item id for key, or ("", false) if empty.
	Pop(ctx context.Context, key string) (string, bool, error)
}

// Allocator dispatches Offered work items to eligible workers per each
// task's MatchingRule (§4.5.1).
type Allocator struct {
	Items    *workitem.Store
	Registry *Registry
	Queue    Queue
	Log      telemetry.Logger

	offerLimiter *rate.Limiter

	mu    sync.Mutex
	loads map[string]int // workerID -> currentLoad (§4.5.4), this node's view
}

// New constructs an Allocator and wires it as the work item store's release
// hook, so Checkin/Cancel/ReclaimExpiredLease calls decrement the assigned
// worker's load as soon as an item leaves active custody (§4.5.2 release).
func New(items *workitem.Store, registry *Registry, queue Queue, log telemetry.Logger) *Allocator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	a := &Allocator{
		Items:        items,
		Registry:     registry,
		Queue:        queue,
		Log:          log,
		offerLimiter: rate.NewLimiter(rate.Limit(defaultOfferBroadcastRate), defaultOfferBroadcastRate),
		loads:        make(map[string]int),
	}
	if items != nil {
		items.OnRelease(a.release)
	}
	return a
}

// Dispatch routes a newly Offered work item according to its task's
// matching rule. It never blocks on worker availability: offer-all and
// queue modes simply make the item visible to eligible workers, who pull
// it via Claim; single-pick commits immediately to the best eligible
// worker.
func (a *Allocator) Dispatch(ctx context.Context, item *workitem.Item, t *spec.Task) error {
	rule := t.MatchingRule
	switch rule.Mode {
	case spec.ModeSinglePick:
		return a.dispatchSinglePick(ctx, item, rule)
	case spec.ModeQueue:
		return a.dispatchQueue(ctx, item, rule, t.Urgent)
	case spec.ModeOfferAll, "":
		return a.dispatchOfferAll(ctx, item, rule)
	default:
		return yerrors.New(yerrors.KindInvalidSpecification, item.CaseID, fmt.Sprintf("unknown matching mode %q", rule.Mode)).WithItem(item.ItemID)
	}
}

// dispatchOfferAll makes the item visible to every eligible worker; the
// first to Claim/Checkout wins, all others' Checkout calls fail the
// precondition check naturally (§4.5.2 "first checkout wins").
func (a *Allocator) dispatchOfferAll(ctx context.Context, item *workitem.Item, rule spec.MatchingRule) error {
	workers := a.orderedEligible(rule)
	if len(workers) == 0 {
		a.Log.Warn(ctx, "no eligible workers for offer-all item", "item_id", item.ItemID, "case_id", item.CaseID)
		return nil
	}
	for _, w := range workers {
		if err := a.offerLimiter.Wait(ctx); err != nil {
			return err
		}
		if err := a.Queue.Push(ctx, "worker:"+w.ID, item.ItemID, false); err != nil {
			return err
		}
	}
	return nil
}

// dispatchSinglePick commits the item to exactly one worker: the first in
// orderedEligible's order (PreferenceOrder rank, then worker id). Current
// load is not part of the choice; if that worker is at its concurrentLimit
// the dispatch fails instead of trying the next eligible worker.
func (a *Allocator) dispatchSinglePick(ctx context.Context, item *workitem.Item, rule spec.MatchingRule) error {
	workers := a.orderedEligible(rule)
	if len(workers) == 0 {
		return yerrors.New(yerrors.KindWorkerUnresponsive, item.CaseID, "no eligible worker for single-pick item").WithItem(item.ItemID)
	}
	chosen := workers[0]
	if !a.acquire(chosen.ID) {
		return yerrors.New(yerrors.KindWorkerUnresponsive, item.CaseID, "chosen worker at capacity").WithItem(item.ItemID)
	}
	if _, _, err := a.Items.Checkout(item.ItemID, chosen.ID); err != nil {
		a.release(chosen.ID)
		return err
	}
	return nil
}

// dispatchQueue enqueues the item id on the FIFO list keyed by the task's
// required-capability signature; urgent items join at the head.
func (a *Allocator) dispatchQueue(ctx context.Context, item *workitem.Item, rule spec.MatchingRule, urgent bool) error {
	key := queueKey(rule.RequiredCapabilities)
	return a.Queue.Push(ctx, key, item.ItemID, urgent)
}

// Claim lets a worker pull its next queued item for a capability
// signature, then checks it out on the worker's behalf.
func (a *Allocator) Claim(ctx context.Context, requiredCapabilities []string, workerID string) (*workitem.Item, error) {
	if !a.acquire(workerID) {
		return nil, yerrors.New(yerrors.KindWorkerUnresponsive, "", "worker at capacity")
	}
	itemID, ok, err := a.Queue.Pop(ctx, queueKey(requiredCapabilities))
	if err != nil {
		a.release(workerID)
		return nil, err
	}
	if !ok {
		a.release(workerID)
		return nil, nil
	}
	if _, _, err := a.Items.Checkout(itemID, workerID); err != nil {
		a.release(workerID)
		return nil, err
	}
	return a.Items.Get(itemID)
}

// ClaimOffered lets a worker pull its next offer-all item. Because several
// workers can each be holding the same item id in their personal inbox, a
// stale pop racing a checkout already won elsewhere is expected and simply
// skipped rather than treated as an error (§4.5.2 "first checkout wins").
func (a *Allocator) ClaimOffered(ctx context.Context, workerID string) (*workitem.Item, error) {
	if !a.acquire(workerID) {
		return nil, yerrors.New(yerrors.KindWorkerUnresponsive, "", "worker at capacity")
	}
	itemID, ok, err := a.Queue.Pop(ctx, "worker:"+workerID)
	if err != nil {
		a.release(workerID)
		return nil, err
	}
	if !ok {
		a.release(workerID)
		return nil, nil
	}
	if _, _, err := a.Items.Checkout(itemID, workerID); err != nil {
		a.release(workerID)
		if kind, ok := yerrors.KindOf(err); ok && kind == yerrors.KindPreconditionViolated {
			return nil, nil
		}
		return nil, err
	}
	return a.Items.Get(itemID)
}

// orderedEligible returns the workers holding every required capability,
// sorted best-first: workers named in PreferenceOrder by their rank, then
// the rest by worker id. Current load does not affect the order.
func (a *Allocator) orderedEligible(rule spec.MatchingRule) []Worker {
	workers := a.Registry.Eligible(rule.RequiredCapabilities)
	prefRank := make(map[string]int, len(rule.PreferenceOrder))
	for i, w := range rule.PreferenceOrder {
		prefRank[w] = i
	}
	sort.SliceStable(workers, func(i, j int) bool {
		ri, iok := prefRank[workers[i].ID]
		rj, jok := prefRank[workers[j].ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return workers[i].ID < workers[j].ID
		}
	})
	return workers
}

// acquire enforces §4.5.4: "Worker currentLoad is incremented on Allocated
// ... A worker at concurrentLimit receives no offers." It checks and
// increments the worker's load atomically so two concurrent claims for a
// worker's last free slot cannot both pass; a Checkout that fails after
// acquire succeeds must call release to give the slot back (Invariant 8:
// no worker's load ever exceeds concurrentLimit).
func (a *Allocator) acquire(workerID string) bool {
	limit := 0
	if a.Registry != nil {
		w, ok := a.Registry.Get(workerID)
		if !ok {
			return false
		}
		limit = w.ConcurrentLimit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit > 0 && a.loads[workerID] >= limit {
		return false
	}
	a.loads[workerID]++
	return true
}

// release decrements a worker's currentLoad. It is called directly after a
// failed acquire-then-checkout, and as the work item store's release hook
// once an item reaches Completed/Cancelled/Failed or its lease is reclaimed
// (§4.5.2 release(item, workerId, outcome)).
func (a *Allocator) release(workerID string) {
	if workerID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loads[workerID] > 0 {
		a.loads[workerID]--
	}
}

// CurrentLoad reports a worker's in-flight item count on this allocator
// node, mainly for tests and diagnostics.
func (a *Allocator) CurrentLoad(workerID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads[workerID]
}

func queueKey(requiredCapabilities []string) string {
	if len(requiredCapabilities) == 0 {
		return "default"
	}
	sorted := append([]string(nil), requiredCapabilities...)
	sort.Strings(sorted)
	key := ""
	for i, c := range sorted {
		if i > 0 {
			key += "+"
		}
		key += c
	}
	return key
}
