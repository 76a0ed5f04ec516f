// Package mongo implements the durable persistence.Log backed by MongoDB,
// following the same client/collection wrapper shape as the teacher's
// run log and session clients: a small testable collection/cursor seam
// around the mongo-driver v1 API and a goa.design/clue health.Pinger.
//
// Sequence numbers are assigned by an atomic $inc against a counters
// collection (FindOneAndUpdate with upsert), the standard mongo-driver
// idiom for a durable per-key monotonic counter; the teacher's own Mongo
// clients don't need one (their run/session ids are caller-supplied), so
// this piece is grounded on the ecosystem's FindOneAndUpdate pattern
// rather than directly on teacher code.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/yawl-run/yawl/persistence"
)

const (
	defaultEntriesCollection   = "case_log_entries"
	defaultSnapshotsCollection = "case_log_snapshots"
	defaultCountersCollection  = "case_log_counters"
	defaultTimeout             = 5 * time.Second
	clientName                 = "persistence-mongo"
)

// Client exposes Mongo-backed operations for the case persistence log.
type Client interface {
	health.Pinger
	persistence.Log
}

// Options configures the Mongo client implementation.
type Options struct {
	Client              *mongodriver.Client
	Database            string
	EntriesCollection   string
	SnapshotsCollection string
	CountersCollection  string
	Timeout             time.Duration
}

type client struct {
	mongo     *mongodriver.Client
	entries   collection
	snapshots collection
	counters  collection
	timeout   time.Duration
}

type entryDocument struct {
	CaseID    string    `bson:"case_id"`
	Seq       int64     `bson:"seq"`
	Payload   []byte    `bson:"payload"`
	Timestamp time.Time `bson:"timestamp"`
}

type snapshotDocument struct {
	CaseID    string    `bson:"case_id"`
	Payload   []byte    `bson:"payload"`
	AsOfSeq   int64     `bson:"as_of_seq"`
	Timestamp time.Time `bson:"timestamp"`
}

type counterDocument struct {
	CaseID string `bson:"case_id"`
	Seq    int64  `bson:"seq"`
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	entriesColl := opts.EntriesCollection
	if entriesColl == "" {
		entriesColl = defaultEntriesCollection
	}
	snapshotsColl := opts.SnapshotsCollection
	if snapshotsColl == "" {
		snapshotsColl = defaultSnapshotsCollection
	}
	countersColl := opts.CountersCollection
	if countersColl == "" {
		countersColl = defaultCountersCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	entries := mongoCollection{coll: db.Collection(entriesColl)}
	snapshots := mongoCollection{coll: db.Collection(snapshotsColl)}
	counters := mongoCollection{coll: db.Collection(countersColl)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, entries, snapshots); err != nil {
		return nil, err
	}

	return &client{mongo: opts.Client, entries: entries, snapshots: snapshots, counters: counters, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Append implements persistence.Log.
func (c *client) Append(ctx context.Context, caseID string, payload []byte) (persistence.Entry, error) {
	if caseID == "" {
		return persistence.Entry{}, errors.New("case id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	seq, err := c.nextSeq(ctx, caseID)
	if err != nil {
		return persistence.Entry{}, err
	}
	doc := entryDocument{
		CaseID:    caseID,
		Seq:       seq,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}
	if _, err := c.entries.InsertOne(ctx, doc); err != nil {
		return persistence.Entry{}, err
	}
	return persistence.Entry{CaseID: caseID, Seq: seq, Payload: doc.Payload, Timestamp: doc.Timestamp}, nil
}

// Snapshot implements persistence.Log.
func (c *client) Snapshot(ctx context.Context, caseID string, payload []byte, asOfSeq int64) (persistence.Snapshot, error) {
	if caseID == "" {
		return persistence.Snapshot{}, errors.New("case id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{"case_id": caseID}
	update := bson.M{"$set": bson.M{
		"case_id":   caseID,
		"payload":   append([]byte(nil), payload...),
		"as_of_seq": asOfSeq,
		"timestamp": now,
	}}
	if _, err := c.snapshots.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return persistence.Snapshot{}, err
	}
	return persistence.Snapshot{CaseID: caseID, Payload: append([]byte(nil), payload...), AsOfSeq: asOfSeq, Timestamp: now}, nil
}

// Read implements persistence.Log.
func (c *client) Read(ctx context.Context, caseID string) (snap persistence.Snapshot, out []persistence.Entry, err error) {
	if caseID == "" {
		return persistence.Snapshot{}, nil, errors.New("case id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var sdoc snapshotDocument
	if derr := c.snapshots.FindOne(ctx, bson.M{"case_id": caseID}).Decode(&sdoc); derr != nil {
		if !errors.Is(derr, mongodriver.ErrNoDocuments) {
			return persistence.Snapshot{}, nil, derr
		}
	} else {
		snap = persistence.Snapshot{CaseID: sdoc.CaseID, Payload: sdoc.Payload, AsOfSeq: sdoc.AsOfSeq, Timestamp: sdoc.Timestamp}
	}

	cur, ferr := c.entries.Find(ctx, bson.M{"case_id": caseID, "seq": bson.M{"$gt": snap.AsOfSeq}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if ferr != nil {
		return persistence.Snapshot{}, nil, ferr
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for cur.Next(ctx) {
		var doc entryDocument
		if derr := cur.Decode(&doc); derr != nil {
			return persistence.Snapshot{}, nil, derr
		}
		out = append(out, persistence.Entry{CaseID: doc.CaseID, Seq: doc.Seq, Payload: doc.Payload, Timestamp: doc.Timestamp})
	}
	if cerr := cur.Err(); cerr != nil {
		return persistence.Snapshot{}, nil, cerr
	}
	return snap, out, nil
}

func (c *client) nextSeq(ctx context.Context, caseID string) (int64, error) {
	filter := bson.M{"case_id": caseID}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	var doc counterDocument
	err := c.counters.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, entries, snapshots collection) error {
	entryIndex := mongodriver.IndexModel{
		Keys: bson.D{{Key: "case_id", Value: 1}, {Key: "seq", Value: 1}},
	}
	if _, err := entries.Indexes().CreateOne(ctx, entryIndex); err != nil {
		return err
	}
	snapIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "case_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := snapshots.Indexes().CreateOne(ctx, snapIndex)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...*options.FindOneAndUpdateOptions) singleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...*options.FindOneAndUpdateOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOneAndUpdate(ctx, filter, update, opts...)}
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error { return r.res.Decode(val) }

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool  { return c.cur.Next(ctx) }
func (c mongoCursor) Decode(val any) error           { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                     { return c.cur.Err() }
func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
