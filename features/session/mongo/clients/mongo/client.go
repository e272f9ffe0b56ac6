// Package mongo hosts the MongoDB client used by the session store.
//
// Checkpoints are stored one document per thread. The state itself is kept
// as a JSON payload next to a few indexed summary fields so the document
// layout does not depend on the shape of session.State.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/tripgraph/tripgraph/runtime/session"
)

const (
	defaultCheckpointsCollection = "tripgraph_checkpoints"
	defaultOpTimeout             = 5 * time.Second
	sessionClientName            = "session-mongo"
)

type (
	// Client exposes Mongo-backed operations for thread checkpoints.
	Client interface {
		health.Pinger

		LoadCheckpoint(ctx context.Context, threadID string) (session.State, error)
		SaveCheckpoint(ctx context.Context, state session.State) error
	}

	// Options configures the Mongo session client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo       *mongodriver.Client
		checkpoints collection
		timeout     time.Duration
	}

	checkpointDocument struct {
		ThreadID  string    `bson:"thread_id"`
		TurnID    string    `bson:"turn_id"`
		Next      string    `bson:"next"`
		Done      bool      `bson:"done"`
		Revision  int       `bson:"plan_revision"`
		State     []byte    `bson:"state"`
		Version   int64     `bson:"version"`
		UpdatedAt time.Time `bson:"updated_at"`
	}
)

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCheckpointsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
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
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadCheckpoint(ctx context.Context, threadID string) (session.State, error) {
	if threadID == "" {
		return session.State{}, session.ErrThreadIDRequired
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc checkpointDocument
	if err := c.checkpoints.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.State{}, session.ErrNotFound
		}
		return session.State{}, err
	}
	var st session.State
	if err := json.Unmarshal(doc.State, &st); err != nil {
		return session.State{}, fmt.Errorf("decode checkpoint %q: %w", threadID, err)
	}
	return st, nil
}

func (c *client) SaveCheckpoint(ctx context.Context, state session.State) error {
	if state.ThreadID == "" {
		return session.ErrThreadIDRequired
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	expected := state.Version
	state.Version++
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %q: %w", state.ThreadID, err)
	}
	doc := checkpointDocument{
		ThreadID:  state.ThreadID,
		TurnID:    state.TurnID,
		Next:      state.Next,
		Done:      state.Done,
		Revision:  state.PlanRevision,
		State:     payload,
		Version:   state.Version,
		UpdatedAt: state.UpdatedAt.UTC(),
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var written bool
	if expected == 0 {
		written, err = c.checkpoints.Insert(ctx, doc)
	} else {
		written, err = c.checkpoints.Replace(ctx, bson.M{"thread_id": state.ThreadID, "version": expected}, doc)
	}
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", state.ThreadID, err)
	}
	if !written {
		return fmt.Errorf("save checkpoint %q: %w", state.ThreadID, session.ErrConflict)
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	return coll.CreateIndex(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, checkpoints: coll, timeout: timeout}, nil
}

// collection is the subset of *mongo.Collection used by the client.
type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	// Insert creates doc. It returns false when a document with the same
	// thread already exists.
	Insert(ctx context.Context, doc any) (bool, error)
	// Replace replaces the document matching filter. It returns false when
	// nothing matched.
	Replace(ctx context.Context, filter any, doc any) (bool, error)
	CreateIndex(ctx context.Context, model mongodriver.IndexModel) error
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) Insert(ctx context.Context, doc any) (bool, error) {
	_, err := c.coll.InsertOne(ctx, doc)
	if mongodriver.IsDuplicateKeyError(err) {
		return false, nil
	}
	return err == nil, err
}

func (c mongoCollection) Replace(ctx context.Context, filter any, doc any) (bool, error) {
	res, err := c.coll.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (c mongoCollection) CreateIndex(ctx context.Context, model mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateOne(ctx, model)
	return err
}
