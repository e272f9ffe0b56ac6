package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/session"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "tripgraph.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "thread-1")
	require.ErrorIs(t, err, session.ErrNotFound)

	st := session.State{ThreadID: "thread-1", TurnID: "turn-1", Query: "Rome", Next: "plan"}
	require.NoError(t, s.Save(ctx, st))
	st.Version = 1
	st.Next = "router"
	st.Done = true
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, "router", got.Next)
	require.True(t, got.Done)
	require.Equal(t, "Rome", got.Query)
	require.EqualValues(t, 2, got.Version)
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, session.State{ThreadID: "t", Next: "plan"}))
	require.ErrorIs(t, s.Save(ctx, session.State{ThreadID: "t", Next: "plan"}), session.ErrConflict)

	first, err := s.Load(ctx, "t")
	require.NoError(t, err)
	stale := first
	first.Next = "router"
	require.NoError(t, s.Save(ctx, first))
	stale.Next = "repair"
	require.ErrorIs(t, s.Save(ctx, stale), session.ErrConflict)

	got, err := s.Load(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "router", got.Next)
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	s, path := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, session.State{ThreadID: "t", Query: "Paris"}))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	got, err := reopened.Load(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "Paris", got.Query)
}

func TestThreadsOrderedByUpdate(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, session.State{ThreadID: "old", UpdatedAt: base}))
	require.NoError(t, s.Save(ctx, session.State{ThreadID: "new", Next: "verify", UpdatedAt: base.Add(time.Hour)}))

	threads, err := s.Threads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, "new", threads[0].ThreadID)
	require.Equal(t, "verify", threads[0].Next)
	require.True(t, threads[0].UpdatedAt.Equal(base.Add(time.Hour)))

	threads, err = s.Threads(ctx, 1)
	require.NoError(t, err)
	require.Len(t, threads, 1)
}

func TestValidation(t *testing.T) {
	t.Parallel()
	_, err := New("")
	require.Error(t, err)

	s, _ := newStore(t)
	_, err = s.Load(context.Background(), "")
	require.ErrorIs(t, err, session.ErrThreadIDRequired)
	require.ErrorIs(t, s.Save(context.Background(), session.State{}), session.ErrThreadIDRequired)
	require.NoError(t, s.Ping(context.Background()))
}
