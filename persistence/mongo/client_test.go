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
)

func TestClientAppendAssignsIncreasingSeq(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()

	e1, err := cl.Append(ctx, "case-1", []byte("one"))
	require.NoError(t, err)
	require.EqualValues(t, 1, e1.Seq)

	e2, err := cl.Append(ctx, "case-1", []byte("two"))
	require.NoError(t, err)
	require.EqualValues(t, 2, e2.Seq)

	e3, err := cl.Append(ctx, "case-2", []byte("other-case"))
	require.NoError(t, err)
	require.EqualValues(t, 1, e3.Seq)
}

func TestClientReadReturnsEntriesAfterSnapshot(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()

	_, err := cl.Append(ctx, "case-1", []byte("one"))
	require.NoError(t, err)
	_, err = cl.Append(ctx, "case-1", []byte("two"))
	require.NoError(t, err)

	_, err = cl.Snapshot(ctx, "case-1", []byte("snap-at-2"), 2)
	require.NoError(t, err)

	_, err = cl.Append(ctx, "case-1", []byte("three"))
	require.NoError(t, err)

	snap, entries, err := cl.Read(ctx, "case-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, snap.AsOfSeq)
	require.Equal(t, []byte("snap-at-2"), snap.Payload)
	require.Len(t, entries, 1)
	require.EqualValues(t, 3, entries[0].Seq)
	require.Equal(t, []byte("three"), entries[0].Payload)
}

func TestClientReadWithNoSnapshotReturnsAllEntries(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()
	_, err := cl.Append(ctx, "case-1", []byte("one"))
	require.NoError(t, err)
	_, err = cl.Append(ctx, "case-1", []byte("two"))
	require.NoError(t, err)

	snap, entries, err := cl.Read(ctx, "case-1")
	require.NoError(t, err)
	require.Zero(t, snap.AsOfSeq)
	require.Len(t, entries, 2)
}

func mustNewTestClient() *client {
	return &client{
		entries:   newFakeEntriesCollection(),
		snapshots: newFakeSnapshotsCollection(),
		counters:  newFakeCountersCollection(),
		timeout:   time.Second,
	}
}

type fakeEntriesCollection struct {
	mu   sync.Mutex
	docs []entryDocument
}

func newFakeEntriesCollection() *fakeEntriesCollection {
	return &fakeEntriesCollection{}
}

func (c *fakeEntriesCollection) InsertOne(_ context.Context, document any, _ ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := document.(entryDocument)
	c.docs = append(c.docs, doc)
	return &mongodriver.InsertOneResult{}, nil
}

func (c *fakeEntriesCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	caseID, _ := f["case_id"].(string)
	var minSeq int64
	if seqFilter, ok := f["seq"].(bson.M); ok {
		if gt, ok := seqFilter["$gt"].(int64); ok {
			minSeq = gt
		}
	}
	var out []any
	for _, doc := range c.docs {
		if doc.CaseID != caseID || doc.Seq <= minSeq {
			continue
		}
		d := doc
		out = append(out, &d)
	}
	return &fakeEntryCursor{docs: out, idx: -1}, nil
}

func (c *fakeEntriesCollection) FindOne(context.Context, any, ...*options.FindOneOptions) singleResult {
	return fakeSingleResult{err: errors.New("not supported")}
}

func (c *fakeEntriesCollection) FindOneAndUpdate(context.Context, any, any, ...*options.FindOneAndUpdateOptions) singleResult {
	return fakeSingleResult{err: errors.New("not supported")}
}

func (c *fakeEntriesCollection) UpdateOne(context.Context, any, any, ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return nil, errors.New("not supported")
}

func (c *fakeEntriesCollection) Indexes() indexView { return fakeIndexView{} }

type fakeSnapshotsCollection struct {
	mu   sync.Mutex
	docs map[string]snapshotDocument
}

func newFakeSnapshotsCollection() *fakeSnapshotsCollection {
	return &fakeSnapshotsCollection{docs: make(map[string]snapshotDocument)}
}

func (c *fakeSnapshotsCollection) InsertOne(context.Context, any, ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return nil, errors.New("not supported")
}

func (c *fakeSnapshotsCollection) Find(context.Context, any, ...*options.FindOptions) (cursor, error) {
	return nil, errors.New("not supported")
}

func (c *fakeSnapshotsCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
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

func (c *fakeSnapshotsCollection) FindOneAndUpdate(context.Context, any, any, ...*options.FindOneAndUpdateOptions) singleResult {
	return fakeSingleResult{err: errors.New("not supported")}
}

func (c *fakeSnapshotsCollection) UpdateOne(_ context.Context, filter any, update any, _ ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	caseID := filter.(bson.M)["case_id"].(string)
	doc := c.docs[caseID]
	set := update.(bson.M)["$set"].(bson.M)
	if v, ok := set["case_id"].(string); ok {
		doc.CaseID = v
	}
	if v, ok := set["payload"].([]byte); ok {
		doc.Payload = v
	}
	if v, ok := set["as_of_seq"].(int64); ok {
		doc.AsOfSeq = v
	}
	if v, ok := set["timestamp"].(time.Time); ok {
		doc.Timestamp = v
	}
	c.docs[caseID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeSnapshotsCollection) Indexes() indexView { return fakeIndexView{} }

type fakeCountersCollection struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func newFakeCountersCollection() *fakeCountersCollection {
	return &fakeCountersCollection{seqs: make(map[string]int64)}
}

func (c *fakeCountersCollection) InsertOne(context.Context, any, ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return nil, errors.New("not supported")
}

func (c *fakeCountersCollection) Find(context.Context, any, ...*options.FindOptions) (cursor, error) {
	return nil, errors.New("not supported")
}

func (c *fakeCountersCollection) FindOne(context.Context, any, ...*options.FindOneOptions) singleResult {
	return fakeSingleResult{err: errors.New("not supported")}
}

func (c *fakeCountersCollection) FindOneAndUpdate(_ context.Context, filter any, _ any, _ ...*options.FindOneAndUpdateOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	caseID := filter.(bson.M)["case_id"].(string)
	c.seqs[caseID]++
	return fakeSingleResult{doc: &counterDocument{CaseID: caseID, Seq: c.seqs[caseID]}}
}

func (c *fakeCountersCollection) UpdateOne(context.Context, any, any, ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return nil, errors.New("not supported")
}

func (c *fakeCountersCollection) Indexes() indexView { return fakeIndexView{} }

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...*options.CreateIndexesOptions) (string, error) {
	return "", nil
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
	case *snapshotDocument:
		*typed = *(r.doc.(*snapshotDocument))
	case *counterDocument:
		*typed = *(r.doc.(*counterDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

type fakeEntryCursor struct {
	docs []any
	idx  int
}

func (c *fakeEntryCursor) Next(context.Context) bool {
	next := c.idx + 1
	if next >= len(c.docs) {
		return false
	}
	c.idx = next
	return true
}

func (c *fakeEntryCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	*val.(*entryDocument) = *(c.docs[c.idx].(*entryDocument))
	return nil
}

func (c *fakeEntryCursor) Err() error { return nil }

func (c *fakeEntryCursor) Close(context.Context) error { return nil }
