package backendfake

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/session"
)

var _ backend.Client = (*FakeBackend)(nil)

// FakeBackend is a controllable in-memory backend for tests. Behavior is
// injected through the exported fields; call counters let tests assert how
// often each remote operation was invoked.
type FakeBackend struct {
	lock      sync.Mutex
	session   *session.Session
	rows      map[string]*backend.ProfileRow
	listeners map[int]backend.AuthChangeFunc
	nextID    int

	// Injected behavior. When a func field is nil the default in-memory
	// behavior applies; when an error field is set the operation fails.
	GetSessionErr   error
	GetSessionDelay time.Duration
	RefreshFunc     func(ctx context.Context) (*session.Session, error)
	SignOutErr      error
	SignOutBlock    chan struct{} // when set, SignOut waits until it is closed
	FetchRowErr     error
	UpdateRowErr    error
	ProcedureFunc   func(name string, args map[string]any) (json.RawMessage, error)

	getSessionCalls atomic.Int32
	refreshCalls    atomic.Int32
	signOutCalls    atomic.Int32
	fetchRowCalls   atomic.Int32
	procedureCalls  atomic.Int32
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		rows:      make(map[string]*backend.ProfileRow),
		listeners: make(map[int]backend.AuthChangeFunc),
	}
}

// SetSession seeds the current session without emitting an event.
func (fb *FakeBackend) SetSession(s *session.Session) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.session = s
}

// SetRow seeds a profile row.
func (fb *FakeBackend) SetRow(row *backend.ProfileRow) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.rows[row.ID] = row
}

// Emit delivers an auth event to every registered listener, in
// registration order.
func (fb *FakeBackend) Emit(event backend.AuthEvent, sess *session.Session) {
	fb.lock.Lock()
	cbs := make([]backend.AuthChangeFunc, 0, len(fb.listeners))
	for id := 0; id < fb.nextID; id++ {
		if cb, ok := fb.listeners[id]; ok {
			cbs = append(cbs, cb)
		}
	}
	fb.lock.Unlock()

	for _, cb := range cbs {
		cb(event, sess)
	}
}

func (fb *FakeBackend) GetCurrentSession(ctx context.Context) (*session.Session, error) {
	fb.getSessionCalls.Add(1)
	if fb.GetSessionDelay > 0 {
		select {
		case <-time.After(fb.GetSessionDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fb.GetSessionErr != nil {
		return nil, fb.GetSessionErr
	}
	fb.lock.Lock()
	defer fb.lock.Unlock()
	return fb.session, nil
}

func (fb *FakeBackend) OnAuthChange(cb backend.AuthChangeFunc) func() {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	id := fb.nextID
	fb.nextID++
	fb.listeners[id] = cb
	return func() {
		fb.lock.Lock()
		defer fb.lock.Unlock()
		delete(fb.listeners, id)
	}
}

// ListenerCount reports how many auth listeners are registered.
func (fb *FakeBackend) ListenerCount() int {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	return len(fb.listeners)
}

func (fb *FakeBackend) RefreshSession(ctx context.Context) (*session.Session, error) {
	fb.refreshCalls.Add(1)
	if fb.RefreshFunc != nil {
		return fb.RefreshFunc(ctx)
	}
	fb.lock.Lock()
	defer fb.lock.Unlock()
	if fb.session == nil {
		return nil, backend.ErrNotAuthenticated
	}
	return fb.session, nil
}

func (fb *FakeBackend) SignOut(ctx context.Context) error {
	fb.signOutCalls.Add(1)
	if fb.SignOutBlock != nil {
		<-fb.SignOutBlock
	}
	if fb.SignOutErr != nil {
		return fb.SignOutErr
	}
	fb.lock.Lock()
	fb.session = nil
	fb.lock.Unlock()
	fb.Emit(backend.EventSignedOut, nil)
	return nil
}

func (fb *FakeBackend) FetchUserRow(ctx context.Context, userID string) (*backend.ProfileRow, error) {
	fb.fetchRowCalls.Add(1)
	if fb.FetchRowErr != nil {
		return nil, fb.FetchRowErr
	}
	fb.lock.Lock()
	defer fb.lock.Unlock()
	row, ok := fb.rows[userID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return row, nil
}

func (fb *FakeBackend) UpdateUserRow(ctx context.Context, userID string, patch map[string]any) (*backend.ProfileRow, error) {
	if fb.UpdateRowErr != nil {
		return nil, fb.UpdateRowErr
	}
	fb.lock.Lock()
	defer fb.lock.Unlock()

	row, ok := fb.rows[userID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	if username, ok := patch["username"].(string); ok {
		row.Username = username
	}
	if fullName, ok := patch["full_name"].(string); ok {
		row.FullName = &fullName
	}
	if bio, ok := patch["bio"].(string); ok {
		row.Bio = &bio
	}
	return row, nil
}

func (fb *FakeBackend) CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	fb.procedureCalls.Add(1)
	if fb.ProcedureFunc != nil {
		return fb.ProcedureFunc(name, args)
	}
	return json.RawMessage(`{"success":true}`), nil
}

func (fb *FakeBackend) GetSessionCalls() int { return int(fb.getSessionCalls.Load()) }
func (fb *FakeBackend) RefreshCalls() int    { return int(fb.refreshCalls.Load()) }
func (fb *FakeBackend) SignOutCalls() int    { return int(fb.signOutCalls.Load()) }
func (fb *FakeBackend) FetchRowCalls() int   { return int(fb.fetchRowCalls.Load()) }
func (fb *FakeBackend) ProcedureCalls() int  { return int(fb.procedureCalls.Load()) }
