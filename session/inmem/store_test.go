package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-run/yawl/session"
)

func TestCreateSessionIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	s1, err := s.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, s1.Status)

	s2, err := s.CreateSession(ctx, "sess-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, s1.CreatedAt, s2.CreatedAt)
}

func TestCreateSessionAfterEndIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	_, err := s.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)
	_, err = s.EndSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, "sess-1", now.Add(time.Hour))
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestLoadSessionNotFound(t *testing.T) {
	s := New()
	_, err := s.LoadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	_, err := s.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)

	first, err := s.EndSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, first.EndedAt)

	second, err := s.EndSession(ctx, "sess-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, *first.EndedAt, *second.EndedAt)
}

func TestUpsertCasePreservesStartedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	started := time.Now().Add(-time.Hour)

	require.NoError(t, s.UpsertCase(ctx, session.CaseMeta{
		CaseID: "case-1", SessionID: "sess-1", Status: session.CaseLaunching, StartedAt: started,
	}))
	require.NoError(t, s.UpsertCase(ctx, session.CaseMeta{
		CaseID: "case-1", SessionID: "sess-1", Status: session.CaseExecuting,
	}))

	c, err := s.LoadCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, session.CaseExecuting, c.Status)
	assert.WithinDuration(t, started, c.StartedAt, 0)
}

func TestUpsertCaseRequiresIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.Error(t, s.UpsertCase(ctx, session.CaseMeta{SessionID: "sess-1"}))
	assert.Error(t, s.UpsertCase(ctx, session.CaseMeta{CaseID: "case-1"}))
}

func TestLoadCaseNotFound(t *testing.T) {
	s := New()
	_, err := s.LoadCase(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrCaseNotFound)
}

func TestListCasesBySessionFiltersByStatusAndSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertCase(ctx, session.CaseMeta{CaseID: "a", SessionID: "sess-1", Status: session.CaseExecuting}))
	require.NoError(t, s.UpsertCase(ctx, session.CaseMeta{CaseID: "b", SessionID: "sess-1", Status: session.CaseCompleted}))
	require.NoError(t, s.UpsertCase(ctx, session.CaseMeta{CaseID: "c", SessionID: "sess-2", Status: session.CaseExecuting}))

	all, err := s.ListCasesBySession(ctx, "sess-1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	executing, err := s.ListCasesBySession(ctx, "sess-1", []session.CaseStatus{session.CaseExecuting})
	require.NoError(t, err)
	require.Len(t, executing, 1)
	assert.Equal(t, "a", executing[0].CaseID)
}

func TestCloneCaseMetaDoesNotAliasLabels(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertCase(ctx, session.CaseMeta{
		CaseID: "a", SessionID: "sess-1", Status: session.CaseExecuting,
		Labels: map[string]string{"k": "v"},
	}))

	c, err := s.LoadCase(ctx, "a")
	require.NoError(t, err)
	c.Labels["k"] = "mutated"

	reloaded, err := s.LoadCase(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", reloaded.Labels["k"])
}
