// Package marking implements the Marking & Token Store (C2): case state —
// the distribution of tokens across conditions and per-case data variables
// — with snapshot/restore and atomic consume/produce/mutateData operations.
// Work-item records (§3.3) are owned by package workitem, keyed by the same
// case id, so that C2 and C4 remain independently testable components that
// compose in the runner rather than a single entangled type.
package marking

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/yerrors"
)

// Lifecycle is the case-level state machine (§3.2).
type Lifecycle string

const (
	Launching  Lifecycle = "Launching"
	Executing  Lifecycle = "Executing"
	Suspended  Lifecycle = "Suspended"
	Completing Lifecycle = "Completing"
	Completed  Lifecycle = "Completed"
	Cancelled  Lifecycle = "Cancelled"
	Failed     Lifecycle = "Failed"
)

// Parent identifies the enclosing case and work item for a sub-net case
// (§3.2, §9 "Cyclic and back-reference structures" — stored by id, not by
// reference).
type Parent struct {
	CaseID string
	ItemID string
}

// CaseState is the mutable per-case marking and data (§3.2). Every field is
// only ever mutated through the owning Store's methods, which serialize
// concurrent access per case id.
type CaseState struct {
	CaseID    string
	SpecID    string
	NetName   string
	Marking   map[string]int // condition id -> token count
	Data      map[string]any
	Lifecycle Lifecycle
	Parent    *Parent
	// SeenEvents tracks applied external event ids for idempotence (§4.3.5,
	// §8 "Idempotence"); it is part of the persisted state.
	SeenEvents map[string]struct{}
	// EngineUsed and SelectionReason record the Engine Selector's routing
	// decision (§4.6.1 step 3 "the chosen engine is recorded with the case
	// and surfaced in every query"), so any facade replica can answer
	// getCase without keeping its own in-memory routing table.
	EngineUsed      string
	SelectionReason string
	// LaunchedAt records when the case was created, for the case-level hard
	// deadline a sweeper enforces against Config.CaseDeadlineDefault (§5
	// "Timeouts").
	LaunchedAt time.Time
}

// clone deep-copies a CaseState so that snapshots and readers never observe
// a mutation in progress.
func (c *CaseState) clone() *CaseState {
	cp := &CaseState{
		CaseID:          c.CaseID,
		SpecID:          c.SpecID,
		NetName:         c.NetName,
		Lifecycle:       c.Lifecycle,
		Marking:         make(map[string]int, len(c.Marking)),
		Data:            make(map[string]any, len(c.Data)),
		SeenEvents:      make(map[string]struct{}, len(c.SeenEvents)),
		EngineUsed:      c.EngineUsed,
		SelectionReason: c.SelectionReason,
		LaunchedAt:      c.LaunchedAt,
	}
	for k, v := range c.Marking {
		cp.Marking[k] = v
	}
	for k, v := range c.Data {
		cp.Data[k] = v
	}
	for k := range c.SeenEvents {
		cp.SeenEvents[k] = struct{}{}
	}
	if c.Parent != nil {
		p := *c.Parent
		cp.Parent = &p
	}
	return cp
}

// caseEntry pairs a CaseState with the per-case lock that serializes
// consume/produce/mutateData/snapshot against each other (§4.2 guarantee,
// §5 "per-case single-writer").
type caseEntry struct {
	mu    sync.Mutex
	state *CaseState
}

// Store is an in-memory, concurrency-safe token/data store for cases. It
// does not log its own mutations; the durable engine variant
// (engine/durable) appends the whole case state to a persistence.Log after
// each launch and each applied event instead.
type Store struct {
	mu    sync.RWMutex
	cases map[string]*caseEntry
}

// NewStore constructs an empty in-memory marking store.
func NewStore() *Store {
	return &Store{cases: make(map[string]*caseEntry)}
}

// New creates the initial marking for a case with a freshly generated case
// id: one token in the net's input condition, lifecycle Launching (§4.2).
func (s *Store) New(sp *spec.Specification, netName string) (*CaseState, error) {
	return s.NewWithID(uuid.NewString(), sp, netName)
}

// NewWithID creates the initial marking for a case using a caller-supplied
// case id, so a facade can hand the same id to both engine variants before
// either has run (§4.6.1 "both variants agree on identity").
func (s *Store) NewWithID(caseID string, sp *spec.Specification, netName string) (*CaseState, error) {
	net, err := sp.GetNet(netName)
	if err != nil {
		return nil, err
	}
	cs := &CaseState{
		CaseID:     caseID,
		SpecID:     sp.SpecID(),
		NetName:    netName,
		Marking:    map[string]int{net.InputCondition: 1},
		Data:       make(map[string]any),
		Lifecycle:  Launching,
		SeenEvents: make(map[string]struct{}),
		LaunchedAt: time.Now(),
	}
	s.mu.Lock()
	s.cases[cs.CaseID] = &caseEntry{state: cs.clone()}
	s.mu.Unlock()
	return cs.clone(), nil
}

// Put inserts or overwrites a case's state, used by the restore path and by
// sub-case creation where the caller has already assigned a case id.
func (s *Store) Put(cs *CaseState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[cs.CaseID] = &caseEntry{state: cs.clone()}
}

func (s *Store) entry(caseID string) (*caseEntry, error) {
	s.mu.RLock()
	e, ok := s.cases[caseID]
	s.mu.RUnlock()
	if !ok {
		return nil, yerrors.New(yerrors.KindCaseNotFound, caseID, "case not found")
	}
	return e, nil
}

// Snapshot returns a consistent, deep copy of the case's state — never
// observed mid-firing, per the §4.2 guarantee that it serializes against
// any in-flight consume/produce/mutateData.
func (s *Store) Snapshot(caseID string) (*CaseState, error) {
	e, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), nil
}

// Restore installs a previously snapshotted state, used on process startup
// to rehydrate a durable case (§6.3, §9 "Persistence and recovery").
func (s *Store) Restore(cs *CaseState) {
	s.Put(cs)
}

// Consume removes one token from each of the given conditions. Only the Net
// Runner invokes this, as part of a firing (§4.3.3 step 1).
func (s *Store) Consume(caseID string, conditions []string) error {
	e, err := s.entry(caseID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range conditions {
		if e.state.Marking[c] < 1 {
			return yerrors.New(yerrors.KindInternalInvariantBroken, caseID, "consume from unmarked condition "+c)
		}
	}
	for _, c := range conditions {
		e.state.Marking[c]--
		if e.state.Marking[c] == 0 {
			delete(e.state.Marking, c)
		}
	}
	return nil
}

// Produce adds one token to each of the given conditions (§4.3.3 step 5).
func (s *Store) Produce(caseID string, conditions []string) error {
	e, err := s.entry(caseID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range conditions {
		e.state.Marking[c]++
	}
	return nil
}

// MutateData applies transform to the case's data atomically with respect
// to any concurrent marking mutation on the same case (§4.2).
func (s *Store) MutateData(caseID string, transform func(data map[string]any)) error {
	e, err := s.entry(caseID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	transform(e.state.Data)
	return nil
}

// SetLifecycle transitions the case's lifecycle field.
func (s *Store) SetLifecycle(caseID string, l Lifecycle) error {
	e, err := s.entry(caseID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Lifecycle = l
	return nil
}

// SetEngineSelection records which engine variant the Engine Selector
// routed a case to and why (§4.6.1 step 3), so every subsequent query can
// surface it regardless of which facade replica answers.
func (s *Store) SetEngineSelection(caseID, engineUsed, reason string) error {
	e, err := s.entry(caseID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.EngineUsed = engineUsed
	e.state.SelectionReason = reason
	return nil
}

// MarkEventSeen records eventID as applied and reports whether it was
// already seen, implementing idempotent event application (§4.3.5, §8).
func (s *Store) MarkEventSeen(caseID, eventID string) (alreadySeen bool, err error) {
	e, err := s.entry(caseID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.SeenEvents[eventID]; ok {
		return true, nil
	}
	e.state.SeenEvents[eventID] = struct{}{}
	return false, nil
}

// WithLock runs fn with the case's single-writer lock held, exposing a
// consistent *CaseState for the runner to read and mutate in place across a
// multi-step firing. fn must not retain state beyond the call.
func (s *Store) WithLock(caseID string, fn func(state *CaseState) error) error {
	e, err := s.entry(caseID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// Delete removes a case's state, used when a case is fully archived to a
// durable store and no longer needs an in-memory copy.
func (s *Store) Delete(caseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cases, caseID)
}

// ListCaseIDs returns every case id currently held in memory, for a sweeper
// to walk when enforcing case-level hard deadlines (§5 "Timeouts").
func (s *Store) ListCaseIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cases))
	for id := range s.cases {
		ids = append(ids, id)
	}
	return ids
}
