package securestore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curiobid/go-marketplace-client/session"
	"github.com/curiobid/go-marketplace-client/session/securestore"
)

func TestNewRequiresSecret(t *testing.T) {
	_, err := securestore.New(t.TempDir(), nil)
	require.Error(t, err)
}

func TestPersistReadClearRoundTrip(t *testing.T) {
	store, err := securestore.New(t.TempDir(), []byte("installation-secret"))
	require.NoError(t, err)

	require.NoError(t, store.Persist(session.SnapshotKey, []byte(`{"access_token":"abc"}`)))

	value, err := store.Read(session.SnapshotKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"access_token":"abc"}`, string(value))

	require.NoError(t, store.Clear(session.SnapshotKey))
	_, err = store.Read(session.SnapshotKey)
	require.ErrorIs(t, err, session.ErrSnapshotNotFound)
}

func TestReadMissingKey(t *testing.T) {
	store, err := securestore.New(t.TempDir(), []byte("installation-secret"))
	require.NoError(t, err)

	_, err = store.Read("never-written")
	require.ErrorIs(t, err, session.ErrSnapshotNotFound)
}

func TestWrongSecretCannotDecrypt(t *testing.T) {
	dir := t.TempDir()

	writer, err := securestore.New(dir, []byte("right-secret"))
	require.NoError(t, err)
	require.NoError(t, writer.Persist(session.SnapshotKey, []byte("tokens")))

	reader, err := securestore.New(dir, []byte("wrong-secret"))
	require.NoError(t, err)
	_, err = reader.Read(session.SnapshotKey)
	require.Error(t, err)
	require.NotErrorIs(t, err, session.ErrSnapshotNotFound)
}

func TestClearMissingKeyIsNoOp(t *testing.T) {
	store, err := securestore.New(t.TempDir(), []byte("installation-secret"))
	require.NoError(t, err)
	require.NoError(t, store.Clear("never-written"))
}

func TestPersistOverwrites(t *testing.T) {
	store, err := securestore.New(t.TempDir(), []byte("installation-secret"))
	require.NoError(t, err)

	require.NoError(t, store.Persist(session.SnapshotKey, []byte("old")))
	require.NoError(t, store.Persist(session.SnapshotKey, []byte("new")))

	value, err := store.Read(session.SnapshotKey)
	require.NoError(t, err)
	require.Equal(t, "new", string(value))
}
