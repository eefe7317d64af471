package session

import "errors"

// ErrSnapshotNotFound is returned by Store.Read when no value is persisted
// under the requested key.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

// Store is durable local key-value storage for session snapshots. A store
// survives process restarts within the same client installation. Only the
// lifecycle Manager writes or clears the snapshot slot.
type Store interface {
	Persist(key string, value []byte) error
	Read(key string) ([]byte, error)
	Clear(key string) error
}
