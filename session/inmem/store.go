// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// should use the durable implementation in package session/mongo.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yawl-run/yawl/session"
)

// Store is an in-memory implementation of session.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	cases    map[string]session.CaseMeta
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		cases:    make(map[string]session.CaseMeta),
	}
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(_ context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if ok {
		if existing.Status == session.StatusEnded {
			return session.Session{}, session.ErrSessionEnded
		}
		return cloneSession(existing), nil
	}
	out := session.Session{ID: sessionID, Status: session.StatusActive, CreatedAt: createdAt.UTC()}
	s.sessions[sessionID] = out
	return cloneSession(out), nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	return cloneSession(existing), nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	if existing.Status == session.StatusEnded {
		return cloneSession(existing), nil
	}
	at := endedAt.UTC()
	existing.Status = session.StatusEnded
	existing.EndedAt = &at
	s.sessions[sessionID] = existing
	return cloneSession(existing), nil
}

// UpsertCase implements session.Store.
func (s *Store) UpsertCase(_ context.Context, c session.CaseMeta) error {
	if c.CaseID == "" {
		return errors.New("case id is required")
	}
	if c.SessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.cases[c.CaseID]
	if ok && !existing.StartedAt.IsZero() {
		if c.StartedAt.IsZero() {
			c.StartedAt = existing.StartedAt
		}
	} else if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	c.UpdatedAt = now
	s.cases[c.CaseID] = cloneCaseMeta(c)
	return nil
}

// LoadCase implements session.Store.
func (s *Store) LoadCase(_ context.Context, caseID string) (session.CaseMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return session.CaseMeta{}, session.ErrCaseNotFound
	}
	return cloneCaseMeta(c), nil
}

// ListCasesBySession implements session.Store.
func (s *Store) ListCasesBySession(_ context.Context, sessionID string, statuses []session.CaseStatus) ([]session.CaseMeta, error) {
	var allowed map[session.CaseStatus]struct{}
	if len(statuses) > 0 {
		allowed = make(map[session.CaseStatus]struct{}, len(statuses))
		for _, st := range statuses {
			allowed[st] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.CaseMeta, 0, len(s.cases))
	for _, c := range s.cases {
		if c.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[c.Status]; !ok {
				continue
			}
		}
		out = append(out, cloneCaseMeta(c))
	}
	return out, nil
}

func cloneSession(in session.Session) session.Session {
	out := in
	if in.EndedAt != nil {
		at := *in.EndedAt
		out.EndedAt = &at
	}
	return out
}

func cloneCaseMeta(in session.CaseMeta) session.CaseMeta {
	out := in
	if len(in.Labels) > 0 {
		out.Labels = make(map[string]string, len(in.Labels))
		for k, v := range in.Labels {
			out.Labels[k] = v
		}
	}
	return out
}
