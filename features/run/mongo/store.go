package mongo

import (
	"context"
	"errors"

	mongoc "github.com/umbraco/Umbraco.AI-sub013/features/run/mongo/clients/mongo"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
)

// Options configures a Store.
type Options struct {
	Client mongoc.Client
}

// Store implements run.Store by delegating to the Mongo client.
type Store struct {
	client mongoc.Client
}

var _ run.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo builds the Mongo client from opts and wraps it in a Store.
func NewStoreFromMongo(opts mongoc.Options) (*Store, error) {
	client, err := mongoc.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Client returns the underlying client, for health checks.
func (s *Store) Client() mongoc.Client {
	return s.client
}

// Upsert stores the run record.
func (s *Store) Upsert(ctx context.Context, rec run.Record) error {
	return s.client.UpsertRun(ctx, rec)
}

// Load retrieves a run record.
func (s *Store) Load(ctx context.Context, threadID, runID string) (run.Record, error) {
	return s.client.LoadRun(ctx, threadID, runID)
}

// ListThread returns the runs of a thread, oldest first.
func (s *Store) ListThread(ctx context.Context, threadID string) ([]run.Record, error) {
	return s.client.ListThreadRuns(ctx, threadID)
}
