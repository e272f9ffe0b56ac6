package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/tripgraph/tripgraph/features/runlog/mongo/clients/mongo"
	"github.com/tripgraph/tripgraph/runtime/runlog"
)

// Store implements runlog.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed run log store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, e *runlog.Event) error {
	return s.client.Append(ctx, e)
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, q runlog.Query) (runlog.Page, error) {
	return s.client.List(ctx, q)
}

// Name implements health.Pinger.
func (s *Store) Name() string { return s.client.Name() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }
