package sqlitestore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curiobid/go-marketplace-client/session"
	"github.com/curiobid/go-marketplace-client/session/sqlitestore"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.New(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPersistReadClearRoundTrip(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Persist(session.SnapshotKey, []byte(`{"refresh_token":"r1"}`)))

	value, err := store.Read(session.SnapshotKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"refresh_token":"r1"}`, string(value))

	require.NoError(t, store.Clear(session.SnapshotKey))
	_, err = store.Read(session.SnapshotKey)
	require.ErrorIs(t, err, session.ErrSnapshotNotFound)
}

func TestPersistUpserts(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Persist(session.SnapshotKey, []byte("old")))
	require.NoError(t, store.Persist(session.SnapshotKey, []byte("new")))

	value, err := store.Read(session.SnapshotKey)
	require.NoError(t, err)
	require.Equal(t, "new", string(value))
}

func TestReadMissingKey(t *testing.T) {
	store := newStore(t)

	_, err := store.Read("never-written")
	require.ErrorIs(t, err, session.ErrSnapshotNotFound)
}

func TestClearMissingKeyIsNoOp(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Clear("never-written"))
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")

	first, err := sqlitestore.New(path)
	require.NoError(t, err)
	require.NoError(t, first.Persist(session.SnapshotKey, []byte("durable")))
	require.NoError(t, first.Close())

	second, err := sqlitestore.New(path)
	require.NoError(t, err)
	defer second.Close()

	value, err := second.Read(session.SnapshotKey)
	require.NoError(t, err)
	require.Equal(t, "durable", string(value))
}
