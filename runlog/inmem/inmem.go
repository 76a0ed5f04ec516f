// Package inmem provides an in-memory implementation of runlog.Store.
//
// The in-memory store is intended for tests and local development. It is
// not durable and should not be used in production; see package
// runlog/mongo for the durable implementation.
package inmem

import (
	"context"
	"strconv"
	"sync"

	"github.com/yawl-run/yawl/runlog"
)

// Store implements runlog.Store in memory.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64      // per-case monotonically increasing sequence
	events  map[string][]*runlog.Event // per-case ordered events
}

// New returns a new in-memory run log store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		events:  make(map[string][]*runlog.Event),
	}
}

// Append implements runlog.Store.
func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[e.CaseID] + 1
	s.nextSeq[e.CaseID] = seq

	e.ID = strconv.FormatInt(seq, 10)
	ev := *e
	s.events[e.CaseID] = append(s.events[e.CaseID], &ev)
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, caseID string, cursor string, limit int) (runlog.Page, error) {
	if limit <= 0 {
		limit = 100
	}

	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return runlog.Page{}, err
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[caseID]
	if len(all) == 0 {
		return runlog.Page{}, nil
	}

	start := 0
	if after > 0 {
		start = int(after) // IDs are 1-based sequence numbers
		if start >= len(all) {
			return runlog.Page{}, nil
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	events := append([]*runlog.Event(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = events[len(events)-1].ID
	}
	return runlog.Page{Events: events, NextCursor: next}, nil
}
