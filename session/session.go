// Package session groups related case launches under one external caller
// context, the way the teacher groups agent runs into conversational
// sessions. This is additive to the core engine: a case can run without
// ever belonging to a session, but when a caller launches several
// interdependent cases (e.g. a composite task's sub-case plus its parent)
// it is useful to list and audit them together.
package session

import (
	"context"
	"errors"
	"time"
)

// Session captures durable session lifecycle state.
//
// Contract:
//   - Session IDs are stable and caller-provided.
//   - Sessions are created explicitly (CreateSession) and ended explicitly
//     (EndSession).
//   - Ended sessions are terminal: new cases must not be registered under
//     an ended session.
type Session struct {
	ID        string
	Status    Status
	CreatedAt time.Time
	EndedAt   *time.Time
}

// CaseMeta captures persistent metadata associating a case with a session,
// separate from the case's own marking/lifecycle (owned by package marking).
type CaseMeta struct {
	CaseID    string
	SessionID string
	SpecID    string
	Status    CaseStatus
	StartedAt time.Time
	UpdatedAt time.Time
	Labels    map[string]string
}

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// CaseStatus mirrors marking.Lifecycle for the subset of states a session
// listing cares about, kept as its own type so this package never imports
// package marking for a label it only ever copies, not mutates.
type CaseStatus string

const (
	CaseLaunching CaseStatus = "Launching"
	CaseExecuting CaseStatus = "Executing"
	CaseSuspended CaseStatus = "Suspended"
	CaseCompleted CaseStatus = "Completed"
	CaseCancelled CaseStatus = "Cancelled"
	CaseFailed    CaseStatus = "Failed"
)

// Store persists session lifecycle state and case metadata.
// Implementations must be durable: failures are surfaced to callers so the
// facade can fail fast when session/case metadata is unavailable.
type Store interface {
	// CreateSession creates (or idempotently returns) an active session.
	// Returns ErrSessionEnded when the session exists but is terminal.
	CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
	// LoadSession loads an existing session, or ErrSessionNotFound.
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	// EndSession ends a session; idempotent on an already-ended session.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

	// UpsertCase inserts or updates a case's session membership metadata.
	UpsertCase(ctx context.Context, c CaseMeta) error
	// LoadCase loads case metadata, or ErrCaseNotFound.
	LoadCase(ctx context.Context, caseID string) (CaseMeta, error)
	// ListCasesBySession lists cases for a session; when statuses is
	// non-empty, only cases matching one of the given statuses are returned.
	ListCasesBySession(ctx context.Context, sessionID string, statuses []CaseStatus) ([]CaseMeta, error)
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session ended")
	ErrCaseNotFound    = errors.New("case not found")
)
