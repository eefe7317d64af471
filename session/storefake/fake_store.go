package storefake

import (
	"sync"

	"github.com/curiobid/go-marketplace-client/session"
)

var _ session.Store = (*FakeStore)(nil)

// FakeStore is an in-memory snapshot store for tests.
type FakeStore struct {
	lock   sync.RWMutex
	values map[string][]byte

	// PersistErr and ClearErr, when set, are returned by the corresponding
	// operation to simulate storage failures.
	PersistErr error
	ClearErr   error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		values: make(map[string][]byte),
	}
}

func (fs *FakeStore) Persist(key string, value []byte) error {
	if fs.PersistErr != nil {
		return fs.PersistErr
	}
	fs.lock.Lock()
	defer fs.lock.Unlock()

	copied := make([]byte, len(value))
	copy(copied, value)
	fs.values[key] = copied
	return nil
}

func (fs *FakeStore) Read(key string) ([]byte, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	value, ok := fs.values[key]
	if !ok {
		return nil, session.ErrSnapshotNotFound
	}
	return value, nil
}

func (fs *FakeStore) Clear(key string) error {
	if fs.ClearErr != nil {
		return fs.ClearErr
	}
	fs.lock.Lock()
	defer fs.lock.Unlock()

	delete(fs.values, key)
	return nil
}

// Has reports whether a value is persisted under key.
func (fs *FakeStore) Has(key string) bool {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	_, ok := fs.values[key]
	return ok
}
