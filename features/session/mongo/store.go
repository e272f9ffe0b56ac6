package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/tripgraph/tripgraph/features/session/mongo/clients/mongo"
	"github.com/tripgraph/tripgraph/runtime/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Load retrieves the latest checkpoint of the thread.
func (s *Store) Load(ctx context.Context, threadID string) (session.State, error) {
	return s.client.LoadCheckpoint(ctx, threadID)
}

// Save replaces the checkpoint of the thread.
func (s *Store) Save(ctx context.Context, state session.State) error {
	return s.client.SaveCheckpoint(ctx, state)
}

// Name implements health.Pinger.
func (s *Store) Name() string { return s.client.Name() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }
