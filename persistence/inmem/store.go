// Package inmem provides an in-memory implementation of persistence.Log,
// for tests and local development only; see package persistence/mongo for
// the durable implementation.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/yawl-run/yawl/persistence"
)

// Store implements persistence.Log in memory.
type Store struct {
	mu        sync.Mutex
	nextSeq   map[string]int64
	entries   map[string][]persistence.Entry
	snapshots map[string]persistence.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextSeq:   make(map[string]int64),
		entries:   make(map[string][]persistence.Entry),
		snapshots: make(map[string]persistence.Snapshot),
	}
}

// Append implements persistence.Log.
func (s *Store) Append(_ context.Context, caseID string, payload []byte) (persistence.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[caseID] + 1
	s.nextSeq[caseID] = seq
	e := persistence.Entry{
		CaseID:    caseID,
		Seq:       seq,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}
	s.entries[caseID] = append(s.entries[caseID], e)
	return e, nil
}

// Snapshot implements persistence.Log.
func (s *Store) Snapshot(_ context.Context, caseID string, payload []byte, asOfSeq int64) (persistence.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := persistence.Snapshot{
		CaseID:    caseID,
		Payload:   append([]byte(nil), payload...),
		AsOfSeq:   asOfSeq,
		Timestamp: time.Now().UTC(),
	}
	s.snapshots[caseID] = snap
	return snap, nil
}

// Read implements persistence.Log.
func (s *Store) Read(_ context.Context, caseID string) (persistence.Snapshot, []persistence.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshots[caseID]
	var out []persistence.Entry
	for _, e := range s.entries[caseID] {
		if e.Seq > snap.AsOfSeq {
			out = append(out, e)
		}
	}
	return snap, out, nil
}
