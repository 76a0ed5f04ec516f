package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yawl-run/yawl/session"
)

func TestEnsureIndexes(t *testing.T) {
	sessions := newFakeSessionsCollection()
	cases := newFakeCasesCollection()
	err := ensureIndexes(context.Background(), sessions, cases)
	require.NoError(t, err)
	require.Equal(t, 1, sessions.indexCreated)
	require.Equal(t, 2, cases.indexCreated)
}

func TestClientCreateLoadEndSession(t *testing.T) {
	cl := mustNewTestClient()
	now := time.Now().UTC()
	sess, err := cl.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, session.StatusActive, sess.Status)
	require.True(t, sess.CreatedAt.Equal(now))

	loaded, err := cl.LoadSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, sess, loaded)

	end := now.Add(time.Minute)
	ended, err := cl.EndSession(context.Background(), "sess-1", end)
	require.NoError(t, err)
	require.Equal(t, session.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.True(t, ended.EndedAt.UTC().Equal(end))
}

func TestClientCreateSessionIsIdempotent(t *testing.T) {
	cl := mustNewTestClient()
	now := time.Now().UTC()
	sess, err := cl.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)

	later := now.Add(10 * time.Second)
	again, err := cl.CreateSession(context.Background(), "sess-1", later)
	require.NoError(t, err)
	require.Equal(t, sess.CreatedAt, again.CreatedAt)
}

func TestClientUpsertAndLoadCase(t *testing.T) {
	cl := mustNewTestClient()
	cm := session.CaseMeta{
		CaseID:    "case-1",
		SessionID: "sess-1",
		SpecID:    "spec.order",
		Status:    session.CaseLaunching,
		Labels:    map[string]string{"org": "demo"},
	}
	require.NoError(t, cl.UpsertCase(context.Background(), cm))

	stored, err := cl.LoadCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, cm.CaseID, stored.CaseID)
	require.Equal(t, cm.SessionID, stored.SessionID)
	require.Equal(t, cm.Status, stored.Status)
	require.Equal(t, "demo", stored.Labels["org"])

	cm.Status = session.CaseCompleted
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cl.UpsertCase(context.Background(), cm))
	updated, err := cl.LoadCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, session.CaseCompleted, updated.Status)
	require.True(t, updated.UpdatedAt.After(updated.StartedAt) || updated.UpdatedAt.Equal(updated.StartedAt))
}

func TestClientListCasesBySession(t *testing.T) {
	cl := mustNewTestClient()
	now := time.Now().UTC()
	require.NoError(t, cl.UpsertCase(context.Background(), session.CaseMeta{
		CaseID: "case-1", SessionID: "sess-1", Status: session.CaseExecuting, StartedAt: now,
	}))
	require.NoError(t, cl.UpsertCase(context.Background(), session.CaseMeta{
		CaseID: "case-2", SessionID: "sess-1", Status: session.CaseLaunching, StartedAt: now,
	}))
	require.NoError(t, cl.UpsertCase(context.Background(), session.CaseMeta{
		CaseID: "case-3", SessionID: "sess-2", Status: session.CaseExecuting, StartedAt: now,
	}))

	out, err := cl.ListCasesBySession(context.Background(), "sess-1", []session.CaseStatus{session.CaseExecuting})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "case-1", out[0].CaseID)
}

func TestClientUpsertCaseValidation(t *testing.T) {
	cl := mustNewTestClient()
	err := cl.UpsertCase(context.Background(), session.CaseMeta{SessionID: "sess-1"})
	require.EqualError(t, err, "case id is required")
	err = cl.UpsertCase(context.Background(), session.CaseMeta{CaseID: "case-1"})
	require.EqualError(t, err, "session id is required")
}

func TestClientLoadCaseMissingReturnsNotFound(t *testing.T) {
	cl := mustNewTestClient()
	_, err := cl.LoadCase(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrCaseNotFound)
}

func TestClientLoadCaseRequiresID(t *testing.T) {
	cl := mustNewTestClient()
	_, err := cl.LoadCase(context.Background(), "")
	require.EqualError(t, err, "case id is required")
}

func mustNewTestClient() *client {
	sessions := newFakeSessionsCollection()
	cases := newFakeCasesCollection()
	return &client{sessions: sessions, cases: cases, timeout: time.Second}
}

type fakeCasesCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]caseDocument
}

func newFakeCasesCollection() *fakeCasesCollection {
	return &fakeCasesCollection{docs: make(map[string]caseDocument)}
}

func (c *fakeCasesCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	caseID := filter.(bson.M)["case_id"].(string)
	doc, ok := c.docs[caseID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeCasesCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := filter.(bson.M)
	sessionID, _ := f["session_id"].(string)
	var allowed map[session.CaseStatus]struct{}
	if raw, ok := f["status"].(bson.M); ok {
		if in, ok := raw["$in"].([]session.CaseStatus); ok {
			allowed = make(map[session.CaseStatus]struct{}, len(in))
			for _, st := range in {
				allowed[st] = struct{}{}
			}
		}
	}
	docs := make([]any, 0, len(c.docs))
	for _, doc := range c.docs {
		if doc.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[doc.Status]; !ok {
				continue
			}
		}
		copyDoc := doc
		docs = append(docs, &copyDoc)
	}
	return newFakeCursor(docs), nil
}

func (c *fakeCasesCollection) UpdateOne(_ context.Context, filter any, update any, _ ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	caseID := filter.(bson.M)["case_id"].(string)
	doc, ok := c.docs[caseID]
	if !ok {
		doc = caseDocument{}
	}
	up := update.(bson.M)
	if set, ok := up["$set"].(bson.M); ok {
		if v, ok := set["case_id"].(string); ok {
			doc.CaseID = v
		}
		if v, ok := set["session_id"].(string); ok {
			doc.SessionID = v
		}
		if v, ok := set["spec_id"].(string); ok {
			doc.SpecID = v
		}
		if v, ok := set["status"].(session.CaseStatus); ok {
			doc.Status = v
		}
		if v, ok := set["updated_at"].(time.Time); ok {
			doc.UpdatedAt = v
		}
		if v, ok := set["labels"].(map[string]string); ok {
			doc.Labels = v
		}
	}
	if soi, ok := up["$setOnInsert"].(bson.M); ok && doc.StartedAt.IsZero() {
		if ts, ok := soi["started_at"].(time.Time); ok {
			doc.StartedAt = ts
		}
	}
	c.docs[caseID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeCasesCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel, _ ...*options.CreateIndexesOptions) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "idx", nil
}

type fakeSingleResult struct {
	doc any
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	switch typed := val.(type) {
	case *caseDocument:
		*typed = *(r.doc.(*caseDocument))
	case *sessionDocument:
		*typed = *(r.doc.(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

type fakeSessionsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]sessionDocument
}

func newFakeSessionsCollection() *fakeSessionsCollection {
	return &fakeSessionsCollection{docs: make(map[string]sessionDocument)}
}

func (c *fakeSessionsCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionID := filter.(bson.M)["session_id"].(string)
	doc, ok := c.docs[sessionID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeSessionsCollection) Find(_ context.Context, _ any, _ ...*options.FindOptions) (cursor, error) {
	return newFakeCursor(nil), nil
}

func (c *fakeSessionsCollection) UpdateOne(_ context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID := filter.(bson.M)["session_id"].(string)
	doc, ok := c.docs[sessionID]
	if !ok {
		doc = sessionDocument{}
	}

	up := update.(bson.M)
	upsert := false
	if len(opts) > 0 && opts[0] != nil && opts[0].Upsert != nil {
		upsert = *opts[0].Upsert
	}

	if !ok && upsert {
		if soi, ok := up["$setOnInsert"].(bson.M); ok {
			if v, ok := soi["session_id"].(string); ok {
				doc.SessionID = v
			}
			if v, ok := soi["status"].(session.Status); ok {
				doc.Status = v
			}
			if v, ok := soi["created_at"].(time.Time); ok {
				doc.CreatedAt = v
			}
			if v, ok := soi["updated_at"].(time.Time); ok {
				doc.UpdatedAt = v
			}
		}
	}

	if setAny, ok := up["$set"]; ok {
		switch set := setAny.(type) {
		case bson.M:
			if v, ok := set["session_id"].(string); ok {
				doc.SessionID = v
			}
			if v, ok := set["status"].(session.Status); ok {
				doc.Status = v
			}
			if v, ok := set["ended_at"].(time.Time); ok {
				doc.EndedAt = &v
			}
			if v, ok := set["updated_at"].(time.Time); ok {
				doc.UpdatedAt = v
			}
		default:
			return nil, errors.New("unsupported $set payload")
		}
	}

	c.docs[sessionID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeSessionsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeCursor struct {
	docs []any
	idx  int
}

func newFakeCursor(docs []any) *fakeCursor {
	return &fakeCursor{docs: docs, idx: -1}
}

func (c *fakeCursor) Close(context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	switch typed := val.(type) {
	case *caseDocument:
		*typed = *(c.docs[c.idx].(*caseDocument))
	case *sessionDocument:
		*typed = *(c.docs[c.idx].(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	next := c.idx + 1
	if next >= len(c.docs) {
		return false
	}
	c.idx = next
	return true
}
