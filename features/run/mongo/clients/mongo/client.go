// Package mongo hosts the MongoDB client used by the run record store.
package mongo

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
)

const (
	defaultRunsCollection = "agui_runs"
	defaultOpTimeout      = 5 * time.Second
	runClientName         = "run-mongo"
)

// Client exposes Mongo-backed operations for run records.
type Client interface {
	health.Pinger

	UpsertRun(ctx context.Context, rec run.Record) error
	LoadRun(ctx context.Context, threadID, runID string) (run.Record, error)
	ListThreadRuns(ctx context.Context, threadID string) ([]run.Record, error)
}

// Options configures the Mongo run client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
	now     func() time.Time
}

// New returns a Client backed by MongoDB. It creates the unique
// (thread_id, run_id) index when missing.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return runClientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client is not configured")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) UpsertRun(ctx context.Context, rec run.Record) error {
	if rec.ThreadID == "" {
		return errors.New("thread id is required")
	}
	if rec.RunID == "" {
		return errors.New("run id is required")
	}
	now := c.now().UTC()
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	doc := fromRun(rec)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"status":               doc.Status,
			"pending_interrupt_id": doc.PendingInterruptID,
			"pending_reason":       doc.PendingReason,
			"attempts":             doc.Attempts,
			"error":                doc.Error,
			"updated_at":           doc.UpdatedAt,
			"labels":               doc.Labels,
		},
		"$setOnInsert": bson.M{
			"started_at": startedAt.UTC(),
		},
	}
	_, err := c.coll.UpdateOne(ctx, runFilter(rec.ThreadID, rec.RunID), update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) LoadRun(ctx context.Context, threadID, runID string) (run.Record, error) {
	if threadID == "" || runID == "" {
		return run.Record{}, errors.New("thread id and run id are required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := c.coll.FindOne(ctx, runFilter(threadID, runID)).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return run.Record{}, run.ErrNotFound
		}
		return run.Record{}, err
	}
	return doc.toRun(), nil
}

func (c *client) ListThreadRuns(ctx context.Context, threadID string) ([]run.Record, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "run_id", Value: 1}})
	cur, err := c.coll.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []runDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]run.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRun())
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type runDocument struct {
	ThreadID           string            `bson:"thread_id"`
	RunID              string            `bson:"run_id"`
	Status             run.Status        `bson:"status"`
	PendingInterruptID string            `bson:"pending_interrupt_id,omitempty"`
	PendingReason      string            `bson:"pending_reason,omitempty"`
	Attempts           int               `bson:"attempts"`
	Error              string            `bson:"error,omitempty"`
	StartedAt          time.Time         `bson:"started_at"`
	UpdatedAt          time.Time         `bson:"updated_at"`
	Labels             map[string]string `bson:"labels,omitempty"`
}

func runFilter(threadID, runID string) bson.M {
	return bson.M{"thread_id": threadID, "run_id": runID}
}

func fromRun(rec run.Record) runDocument {
	return runDocument{
		ThreadID:           rec.ThreadID,
		RunID:              rec.RunID,
		Status:             rec.Status,
		PendingInterruptID: rec.PendingInterruptID,
		PendingReason:      rec.PendingReason,
		Attempts:           rec.Attempts,
		Error:              rec.Error,
		StartedAt:          rec.StartedAt.UTC(),
		UpdatedAt:          rec.UpdatedAt.UTC(),
		Labels:             maps.Clone(rec.Labels),
	}
}

func (doc runDocument) toRun() run.Record {
	return run.Record{
		ThreadID:           doc.ThreadID,
		RunID:              doc.RunID,
		Status:             doc.Status,
		PendingInterruptID: doc.PendingInterruptID,
		PendingReason:      doc.PendingReason,
		Attempts:           doc.Attempts,
		Error:              doc.Error,
		StartedAt:          doc.StartedAt,
		UpdatedAt:          doc.UpdatedAt,
		Labels:             maps.Clone(doc.Labels),
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
