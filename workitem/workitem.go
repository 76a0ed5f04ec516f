// Package workitem implements the Work Item Lifecycle Manager (C4): the
// per-work-item state machine, multi-instance expansion, lease/retry
// handling, and the checkout/checkin/delegate contract used by the
// Resource Allocator and worker hosts (§4.4).
package workitem

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/yerrors"
)

// State is the closed set of work-item states (§4.4.1).
type State string

const (
	Enabled   State = "Enabled"
	Offered   State = "Offered"
	Allocated State = "Allocated"
	Started   State = "Started"
	Delegated State = "Delegated"
	Completed State = "Completed"
	Cancelled State = "Cancelled"
	Failed    State = "Failed"
	Withdrawn State = "Withdrawn"
)

// Transition is one append-only history entry (§3.3).
type Transition struct {
	From      State
	To        State
	Actor     string // worker id, "system", or "" for enablement
	Timestamp time.Time
}

// Lease is a time-bounded worker reservation (§4.4.3).
type Lease struct {
	WorkerID       string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	MissedBeats    int
}

// Item is a single work item instance (§3.3).
type Item struct {
	ItemID         string
	CaseID         string
	TaskID         string
	InstanceIndex  *int // non-nil only for multi-instance expansions
	State          State
	Data           map[string]any // inputs at enablement; outputs merged in on completion
	Assignee       *string
	Deadlines      *Deadlines
	History        []Transition
	Attempt        int
	Lease          *Lease
	Urgent         bool
	LeaseTTL       time.Duration
	MaxAttempts    int
	ErrorPayload   map[string]any
}

// Deadlines carries optional soft/hard deadlines for a work item.
type Deadlines struct {
	Soft *time.Time
	Hard *time.Time
}

// entry pairs an Item with the lock serializing its own transitions, and
// the task definition used to validate outputs and gate attempts.
type entry struct {
	item *Item
	task *spec.Task
}

// Store owns every work item across every case, held in memory only: it
// does not persist items, and no persistence adapter wraps it.
type Store struct {
	mu        sync.Mutex
	items     map[string]*entry
	byCase    map[string][]string // caseId -> item ids, insertion order
	onRelease func(workerID string)
}

// NewStore constructs an empty work item store.
func NewStore() *Store {
	return &Store{items: make(map[string]*entry), byCase: make(map[string][]string)}
}

// OnRelease registers a hook invoked whenever a work item leaves active
// worker custody: Checkin reaching Completed or a terminal Failed, Cancel
// of an Allocated/Started item, or ReclaimExpiredLease taking back a lease.
// The Resource Allocator wires itself in here to decrement a worker's
// currentLoad (§4.5.2 release(item, workerId, outcome)) without workitem
// importing allocator.
func (s *Store) OnRelease(fn func(workerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelease = fn
}

func (s *Store) fireRelease(workerID string) {
	s.mu.Lock()
	fn := s.onRelease
	s.mu.Unlock()
	if fn != nil {
		fn(workerID)
	}
}

// Create enables a new work item for an atomic task firing (§4.4.1 "Enabled").
func (s *Store) Create(caseID string, task *spec.Task, instanceIndex *int, data map[string]any) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := &Item{
		ItemID:        uuid.NewString(),
		CaseID:        caseID,
		TaskID:        task.ID,
		InstanceIndex: instanceIndex,
		State:         Enabled,
		Data:          data,
		Urgent:        task.Urgent,
		LeaseTTL:      time.Duration(task.LeaseTTLMillis) * time.Millisecond,
		MaxAttempts:   maxAttemptsOrDefault(task.MaxAttempts),
	}
	it.History = append(it.History, Transition{To: Enabled, Actor: "system", Timestamp: now()})
	s.items[it.ItemID] = &entry{item: it, task: task}
	s.byCase[caseID] = append(s.byCase[caseID], it.ItemID)
	return cloneItem(it), nil
}

func maxAttemptsOrDefault(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}

// Get returns a copy of the item's current state.
func (s *Store) Get(itemID string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[itemID]
	if !ok {
		return nil, yerrors.New(yerrors.KindItemNotFound, "", "work item not found").WithItem(itemID)
	}
	return cloneItem(e.item), nil
}

// ListByCase returns every item belonging to a case, in creation order.
func (s *Store) ListByCase(caseID string) []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byCase[caseID]
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.items[id]; ok {
			out = append(out, cloneItem(e.item))
		}
	}
	return out
}

// LiveCount returns the number of non-terminal items in a case, used by the
// Net Runner's termination check (§4.3.4, §3.2 Invariant).
func (s *Store) LiveCount(caseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.byCase[caseID] {
		if isLive(s.items[id].item.State) {
			n++
		}
	}
	return n
}

// ListLive returns every non-terminal item across every case, or just those
// belonging to caseID when it is non-empty (§6.1 "listLiveWorkItems(caseId?)").
func (s *Store) ListLive(caseID string) []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	if caseID != "" {
		ids = s.byCase[caseID]
	} else {
		for _, v := range s.byCase {
			ids = append(ids, v...)
		}
	}
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.items[id]; ok && isLive(e.item.State) {
			out = append(out, cloneItem(e.item))
		}
	}
	return out
}

func isLive(st State) bool {
	switch st {
	case Completed, Cancelled, Failed, Withdrawn:
		return false
	default:
		return true
	}
}

// MarkOffered transitions Enabled -> Offered, called by the allocator once
// it has computed the eligible worker set.
func (s *Store) MarkOffered(itemID string) (*Item, error) {
	return s.transition(itemID, "", func(it *Item, task *spec.Task) (State, error) {
		if it.State != Enabled {
			return "", preconditionErr(itemID, "MarkOffered requires Enabled")
		}
		return Offered, nil
	})
}

// Checkout reserves an Offered item for workerID, returning its inputs and
// the granted lease (§4.4.4).
func (s *Store) Checkout(itemID, workerID string) (map[string]any, *Lease, error) {
	var inputs map[string]any
	var lease *Lease
	_, err := s.transition(itemID, workerID, func(it *Item, task *spec.Task) (State, error) {
		if it.State != Offered {
			return "", yerrors.New(yerrors.KindPreconditionViolated, it.CaseID, "item not offered").WithItem(itemID)
		}
		it.Assignee = &workerID
		it.Lease = &Lease{WorkerID: workerID, GrantedAt: now(), ExpiresAt: now().Add(it.LeaseTTL)}
		inputs = it.Data
		lease = it.Lease
		return Allocated, nil
	})
	return inputs, lease, err
}

// Start records that an allocated worker has acknowledged the item.
func (s *Store) Start(itemID, workerID string) error {
	_, err := s.transition(itemID, workerID, func(it *Item, task *spec.Task) (State, error) {
		if it.State != Allocated || !sameAssignee(it, workerID) {
			return "", preconditionErr(itemID, "Start requires Allocated by the same worker")
		}
		return Started, nil
	})
	return err
}

// Heartbeat renews an Allocated or Started item's lease.
func (s *Store) Heartbeat(itemID, workerID string) (*Lease, error) {
	var lease *Lease
	_, err := s.transition(itemID, workerID, func(it *Item, task *spec.Task) (State, error) {
		if (it.State != Allocated && it.State != Started) || !sameAssignee(it, workerID) {
			return "", preconditionErr(itemID, "heartbeat requires Allocated/Started by the same worker")
		}
		it.Lease.ExpiresAt = now().Add(it.LeaseTTL)
		it.Lease.MissedBeats = 0
		lease = it.Lease
		return it.State, nil
	})
	return lease, err
}

// Delegate atomically reassigns an item from one worker to another,
// resetting its lease (§4.4.4).
func (s *Store) Delegate(itemID, fromWorker, toWorker string) error {
	_, err := s.transition(itemID, fromWorker, func(it *Item, task *spec.Task) (State, error) {
		if (it.State != Allocated && it.State != Started) || !sameAssignee(it, fromWorker) {
			return "", preconditionErr(itemID, "delegate requires Allocated/Started by fromWorker")
		}
		it.History = append(it.History, Transition{From: it.State, To: Delegated, Actor: fromWorker, Timestamp: now()})
		it.Assignee = &toWorker
		it.Lease = &Lease{WorkerID: toWorker, GrantedAt: now(), ExpiresAt: now().Add(it.LeaseTTL)}
		return Allocated, nil
	})
	return err
}

// CheckinResult reports the outcome of a Checkin call so the Net Runner can
// decide whether to resume the firing.
type CheckinResult struct {
	Item      *Item
	Completed bool
	Failed    bool
}

// Checkin submits outputs (success) or an error payload (failure) for an
// Allocated or Started item (§4.4.4). On success, outputs are validated
// against the task's out-parameters; failure moves the item through the
// retry budget before a terminal Failed.
func (s *Store) Checkin(itemID, workerID string, outputs map[string]any, checkinErr error) (CheckinResult, error) {
	var res CheckinResult
	item, err := s.transition(itemID, workerID, func(it *Item, task *spec.Task) (State, error) {
		if (it.State != Allocated && it.State != Started) || !sameAssignee(it, workerID) {
			return "", preconditionErr(itemID, "checkin requires Allocated/Started by the same worker")
		}
		if checkinErr != nil {
			it.ErrorPayload = map[string]any{"error": checkinErr.Error()}
			it.Attempt++
			if it.Attempt >= it.MaxAttempts {
				res.Failed = true
				return Failed, nil
			}
			return Allocated, nil
		}
		if err := validateOutputs(task, outputs); err != nil {
			it.ErrorPayload = map[string]any{"error": err.Error()}
			it.Attempt++
			if it.Attempt >= it.MaxAttempts {
				res.Failed = true
				return Failed, yerrors.Wrap(yerrors.KindOutputValidationFailed, it.CaseID, err, "output validation failed, retry budget exhausted").WithItem(itemID)
			}
			return Allocated, yerrors.Wrap(yerrors.KindOutputValidationFailed, it.CaseID, err, "output validation failed, retrying").WithItem(itemID)
		}
		for k, v := range outputs {
			it.Data[k] = v
		}
		res.Completed = true
		return Completed, nil
	})
	res.Item = item
	if res.Completed || res.Failed {
		s.fireRelease(workerID)
	}
	return res, err
}

func validateOutputs(task *spec.Task, outputs map[string]any) error {
	for _, p := range task.Params {
		if p.Direction == spec.DirIn {
			continue
		}
		v, ok := outputs[p.Name]
		if !ok {
			return yerrors.New(yerrors.KindOutputValidationFailed, "", "missing required output "+p.Name)
		}
		if err := p.Schema.Validate(v); err != nil {
			return yerrors.Wrap(yerrors.KindOutputValidationFailed, "", err, "output "+p.Name+" failed schema validation")
		}
	}
	return nil
}

// Cancel forces a non-terminal item to Withdrawn (never allocated) or
// Cancelled (allocated or started), per §4.4.1.
func (s *Store) Cancel(itemID string) (*Item, error) {
	var released string
	it, err := s.transition(itemID, "", func(it *Item, task *spec.Task) (State, error) {
		switch it.State {
		case Enabled, Offered:
			return Withdrawn, nil
		case Allocated, Started:
			if it.Assignee != nil {
				released = *it.Assignee
			}
			return Cancelled, nil
		default:
			return it.State, nil // already terminal: cancellation is a no-op
		}
	})
	if released != "" {
		s.fireRelease(released)
	}
	return it, err
}

// ReclaimExpiredLease returns an Allocated/Started item to Enabled with an
// incremented attempt after two missed heartbeats, or to Failed once
// MaxAttempts is exhausted (§4.4.3). Call from a periodic sweeper.
func (s *Store) ReclaimExpiredLease(itemID string, at time.Time) (*Item, bool, error) {
	var reclaimed bool
	var released string
	it, err := s.transition(itemID, "", func(it *Item, task *spec.Task) (State, error) {
		if (it.State != Allocated && it.State != Started) || it.Lease == nil {
			return it.State, nil
		}
		if at.Before(it.Lease.ExpiresAt) {
			return it.State, nil
		}
		it.Lease.MissedBeats++
		if it.Lease.MissedBeats < 2 {
			// first missed beat: extend by one more TTL before reclaiming.
			it.Lease.ExpiresAt = at.Add(it.LeaseTTL)
			return it.State, nil
		}
		reclaimed = true
		if it.Assignee != nil {
			released = *it.Assignee
		}
		it.Attempt++
		it.Assignee = nil
		it.Lease = nil
		if it.Attempt >= it.MaxAttempts {
			return Failed, nil
		}
		return Enabled, nil
	})
	if released != "" {
		s.fireRelease(released)
	}
	return it, reclaimed, err
}

func sameAssignee(it *Item, workerID string) bool {
	return it.Assignee != nil && *it.Assignee == workerID
}

func preconditionErr(itemID, msg string) error {
	return yerrors.New(yerrors.KindPreconditionViolated, "", msg).WithItem(itemID)
}

// transition runs fn under the store lock, records a history entry if the
// state changed, and returns a copy of the resulting item.
func (s *Store) transition(itemID, actor string, fn func(it *Item, task *spec.Task) (State, error)) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[itemID]
	if !ok {
		return nil, yerrors.New(yerrors.KindItemNotFound, "", "work item not found").WithItem(itemID)
	}
	from := e.item.State
	to, err := fn(e.item, e.task)
	if to != "" && to != from {
		e.item.State = to
		e.item.History = append(e.item.History, Transition{From: from, To: to, Actor: actor, Timestamp: now()})
	}
	return cloneItem(e.item), err
}

func cloneItem(it *Item) *Item {
	cp := *it
	cp.Data = cloneMap(it.Data)
	cp.ErrorPayload = cloneMap(it.ErrorPayload)
	cp.History = append([]Transition(nil), it.History...)
	if it.Lease != nil {
		l := *it.Lease
		cp.Lease = &l
	}
	if it.Assignee != nil {
		a := *it.Assignee
		cp.Assignee = &a
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var now = time.Now
