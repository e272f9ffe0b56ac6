// Package mongo is the MongoDB client behind the run log store. Each turn
// event is one document; pages are read in _id order.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/runlog"
)

type (
	// Client reads and writes thread logs.
	Client interface {
		health.Pinger

		Append(ctx context.Context, e *runlog.Event) error
		List(ctx context.Context, q runlog.Query) (runlog.Page, error)
	}

	// Options configures New.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	eventDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		ThreadID  string        `bson:"thread_id"`
		TurnID    string        `bson:"turn_id"`
		Type      string        `bson:"type"`
		Node      string        `bson:"node,omitempty"`
		Status    string        `bson:"status,omitempty"`
		Payload   []byte        `bson:"payload"`
		Timestamp time.Time     `bson:"timestamp"`
	}
)

const (
	defaultCollection = "tripgraph_turn_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "runlog-mongo"
)

// New connects the client to its collection and creates the indexes.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, coll, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, e *runlog.Event) error {
	doc, err := newEventDocument(e)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	id, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("runlog: append %s event of thread %q: %w", e.Type, e.ThreadID, err)
	}
	oid, ok := id.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("runlog: unexpected inserted id type %T", id)
	}
	e.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, q runlog.Query) (page runlog.Page, err error) {
	filter, err := queryFilter(q)
	if err != nil {
		return runlog.Page{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// One extra document tells whether another page exists.
	cur, err := c.coll.Find(ctx, filter, int64(q.Limit+1))
	if err != nil {
		return runlog.Page{}, fmt.Errorf("runlog: list thread %q: %w", q.ThreadID, err)
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for cur.Next(ctx) {
		if len(page.Events) == q.Limit {
			page.NextCursor = page.Events[q.Limit-1].ID
			break
		}
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return runlog.Page{}, err
		}
		page.Events = append(page.Events, doc.event())
	}
	if err := cur.Err(); err != nil {
		return runlog.Page{}, err
	}
	return page, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func newEventDocument(e *runlog.Event) (eventDocument, error) {
	switch {
	case e == nil:
		return eventDocument{}, errors.New("runlog: event is required")
	case e.ThreadID == "":
		return eventDocument{}, runlog.ErrThreadIDRequired
	case e.Type == "":
		return eventDocument{}, errors.New("runlog: event type is required")
	case e.Timestamp.IsZero():
		return eventDocument{}, errors.New("runlog: event timestamp is required")
	}
	return eventDocument{
		ThreadID:  e.ThreadID,
		TurnID:    e.TurnID,
		Type:      string(e.Type),
		Node:      e.Node,
		Status:    string(e.Status),
		Payload:   append([]byte(nil), e.Payload...),
		Timestamp: e.Timestamp.UTC(),
	}, nil
}

func (d eventDocument) event() *runlog.Event {
	return &runlog.Event{
		ID:        d.ID.Hex(),
		ThreadID:  d.ThreadID,
		TurnID:    d.TurnID,
		Type:      hooks.Type(d.Type),
		Node:      d.Node,
		Status:    hooks.Status(d.Status),
		Payload:   append([]byte(nil), d.Payload...),
		Timestamp: d.Timestamp,
	}
}

// queryFilter translates q into a filter served by the
// (thread_id, turn_id, _id) index.
func queryFilter(q runlog.Query) (bson.M, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter := bson.M{"thread_id": q.ThreadID}
	if q.TurnID != "" {
		filter["turn_id"] = q.TurnID
	}
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		filter["type"] = bson.M{"$in": types}
	}
	if q.Cursor != "" {
		oid, err := bson.ObjectIDFromHex(q.Cursor)
		if err != nil {
			return nil, fmt.Errorf("runlog: invalid cursor %q: %w", q.Cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}
	return filter, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	for _, keys := range []bson.D{
		{{Key: "thread_id", Value: 1}, {Key: "_id", Value: 1}},
		{{Key: "thread_id", Value: 1}, {Key: "turn_id", Value: 1}, {Key: "_id", Value: 1}},
	} {
		if err := coll.CreateIndex(ctx, mongodriver.IndexModel{Keys: keys}); err != nil {
			return fmt.Errorf("runlog: create index: %w", err)
		}
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}, nil
}

// collection is the subset of *mongo.Collection used by the client. Find
// returns documents sorted by _id ascending.
type collection interface {
	InsertOne(ctx context.Context, document any) (any, error)
	Find(ctx context.Context, filter any, limit int64) (cursor, error)
	CreateIndex(ctx context.Context, model mongodriver.IndexModel) error
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

func (c mongoCollection) InsertOne(ctx context.Context, document any) (any, error) {
	res, err := c.coll.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c mongoCollection) Find(ctx context.Context, filter any, limit int64) (cursor, error) {
	return c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit),
	)
}

func (c mongoCollection) CreateIndex(ctx context.Context, model mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateOne(ctx, model)
	return err
}
