// Package authstate holds the canonical "who is signed in" state for the
// whole running process and fans it out to subscribers. One Manager is
// constructed at application start and injected everywhere a consumer
// needs auth state; it is not a package-level global.
package authstate

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/session"
)

// State is the broadcast auth state. IsAuthenticated mirrors session
// presence and is independent of whether the profile fetch succeeded.
type State struct {
	User            *UserProfile
	Session         *session.Session
	Loading         bool
	Initialized     bool
	IsAuthenticated bool
}

// Listener receives every state transition with the full new state.
type Listener func(State)

// Option modifies a Manager at construction.
type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// Manager is the broadcast singleton. Subscribers are notified
// synchronously, in registration order, with state snapshots. Concurrent
// initialization attempts and overlapping profile fetches are collapsed
// into single backend calls.
type Manager struct {
	backend backend.Client
	log     zerolog.Logger

	mu           sync.Mutex
	state        State
	listeners    map[int]Listener
	order        []int
	nextID       int
	fetchingUser bool

	initOnce   sync.Once
	initErr    error
	eventsOnce sync.Once
}

// NewManager creates the broadcast manager. The initial state is loading
// and uninitialized; initialization is triggered lazily by the first
// Subscribe (or explicitly via Initialize).
func NewManager(b backend.Client, options ...Option) (*Manager, error) {
	if b == nil {
		return nil, errors.New("[authstate.NewManager] backend client is required")
	}

	m := &Manager{
		backend:   b,
		log:       zerolog.Nop(),
		state:     State{Loading: true},
		listeners: make(map[int]Listener),
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// Subscribe registers a listener, immediately invokes it once with the
// current state, and lazily triggers initialization. The returned function
// unregisters the listener.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.order = append(m.order, id)
	snap := snapshotLocked(m.state)
	m.mu.Unlock()

	m.notify(fn, snap)

	go func() {
		if err := m.Initialize(context.Background()); err != nil {
			m.log.Warn().Err(err).Msg("[Manager.Subscribe] initialization failed")
		}
	}()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Initialize resolves the initial auth state exactly once per process.
// Concurrent callers share the single underlying GetCurrentSession call;
// later callers observe the memoized outcome.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.doInitialize(ctx)
	})
	return m.initErr
}

func (m *Manager) doInitialize(ctx context.Context) error {
	sess, err := m.backend.GetCurrentSession(ctx)
	if err != nil || sess == nil {
		if err != nil {
			m.log.Warn().Err(err).Msg("[Manager.doInitialize] session fetch failed, starting signed out")
		}
		m.publish(State{Loading: false, Initialized: true})
		m.registerAuthEvents()
		return nil
	}

	m.loadProfile(ctx, sess)
	m.registerAuthEvents()
	return nil
}

// registerAuthEvents registers the persistent backend auth listener exactly
// once, never duplicated across re-initialization attempts.
func (m *Manager) registerAuthEvents() {
	m.eventsOnce.Do(func() {
		m.backend.OnAuthChange(m.handleAuthEvent)
	})
}

func (m *Manager) handleAuthEvent(event backend.AuthEvent, sess *session.Session) {
	switch event {
	case backend.EventSignedOut:
		m.clearToSignedOut()
	case backend.EventSignedIn, backend.EventTokenRefreshed, backend.EventUserUpdated:
		if sess == nil {
			m.clearToSignedOut()
			return
		}
		m.loadProfile(context.Background(), sess)
	default:
		m.log.Debug().Str("event", string(event)).Msg("[Manager.handleAuthEvent] ignoring unknown event")
	}
}

// loadProfile fetches the profile row for the session's user and publishes
// the authenticated state. The fetchingUser guard makes overlapping calls
// (rapid successive auth events) no-ops: the second call returns without
// fetching or publishing. Fetch failures degrade to a fallback profile,
// never to an error state.
func (m *Manager) loadProfile(ctx context.Context, sess *session.Session) {
	m.mu.Lock()
	if m.fetchingUser {
		m.mu.Unlock()
		return
	}
	m.fetchingUser = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.fetchingUser = false
		m.mu.Unlock()
	}()

	var profile *UserProfile
	row, err := m.backend.FetchUserRow(ctx, sess.User.ID)
	switch {
	case err == nil && row != nil:
		profile = profileFromRow(row)
	default:
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			m.log.Warn().Err(err).Str("user_id", sess.User.ID).Msg("[Manager.loadProfile] profile fetch failed, using fallback")
		}
		profile = fallbackProfile(sess.User)
	}

	m.publish(State{
		User:            profile,
		Session:         sess,
		Loading:         false,
		Initialized:     true,
		IsAuthenticated: true,
	})
}

// GetState returns a snapshot copy of the current state, never a live
// reference.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotLocked(m.state)
}

// RefreshUser re-runs profile loading for the currently held session and
// returns the resulting profile. Returns nil when no session is held.
func (m *Manager) RefreshUser(ctx context.Context) (*UserProfile, error) {
	m.mu.Lock()
	sess := m.state.Session
	m.mu.Unlock()

	if sess == nil {
		return nil, nil
	}

	m.loadProfile(ctx, sess)
	return m.GetState().User, nil
}

// SignOut clears the local state synchronously, then revokes the grant
// remotely (best effort, failures logged). A signed-out user observes the
// clear before the remote round trip resolves; the backend's SIGNED_OUT
// event arrives later and re-clears, which is idempotent.
func (m *Manager) SignOut(ctx context.Context) {
	m.clearToSignedOut()
	if err := m.backend.SignOut(ctx); err != nil {
		m.log.Warn().Err(err).Msg("[Manager.SignOut] remote sign-out failed")
	}
}

// UpdateProfile applies a partial row update for the signed-in user and
// re-fetches the profile, so callers observe the backend's canonical state
// rather than an optimistic local mutation. Duplicate usernames surface as
// backend.ErrConflict.
func (m *Manager) UpdateProfile(ctx context.Context, patch map[string]any) (*UserProfile, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, err
	}

	if _, err := m.backend.UpdateUserRow(ctx, userID, patch); err != nil {
		return nil, errors.Wrap(err, "[Manager.UpdateProfile] update user row")
	}
	return m.RefreshUser(ctx)
}

// UpdatePreferences replaces the signed-in user's marketplace preferences.
func (m *Manager) UpdatePreferences(ctx context.Context, prefs Preferences) (*UserProfile, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, err
	}

	args := map[string]any{
		"p_user_id":             userID,
		"p_favorite_characters": prefs.FavoriteCharacters,
		"p_collection_focus":    prefs.CollectionFocus,
		"p_price_range_min":     prefs.PriceRange.Min,
		"p_price_range_max":     prefs.PriceRange.Max,
	}
	if _, err := m.backend.CallProcedure(ctx, "update_user_preferences", args); err != nil {
		return nil, errors.Wrap(err, "[Manager.UpdatePreferences] call procedure")
	}
	return m.RefreshUser(ctx)
}

// AddFavoriteCharacter adds a character to the signed-in user's favorites.
func (m *Manager) AddFavoriteCharacter(ctx context.Context, character string) (*UserProfile, error) {
	return m.favoriteMutation(ctx, "add_favorite_character", character)
}

// RemoveFavoriteCharacter removes a character from the favorites.
func (m *Manager) RemoveFavoriteCharacter(ctx context.Context, character string) (*UserProfile, error) {
	return m.favoriteMutation(ctx, "remove_favorite_character", character)
}

func (m *Manager) favoriteMutation(ctx context.Context, procedure, character string) (*UserProfile, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, err
	}

	args := map[string]any{
		"p_user_id":   userID,
		"p_character": character,
	}
	if _, err := m.backend.CallProcedure(ctx, procedure, args); err != nil {
		return nil, errors.Wrapf(err, "[Manager.favoriteMutation] call %s", procedure)
	}
	return m.RefreshUser(ctx)
}

// AddXP grants experience points to the signed-in user. Level progression
// is computed server-side; the refreshed profile carries the result.
func (m *Manager) AddXP(ctx context.Context, amount int) (*UserProfile, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, err
	}

	args := map[string]any{
		"p_user_id":   userID,
		"p_xp_amount": amount,
	}
	if _, err := m.backend.CallProcedure(ctx, "increment_user_xp", args); err != nil {
		return nil, errors.Wrap(err, "[Manager.AddXP] call procedure")
	}
	return m.RefreshUser(ctx)
}

func (m *Manager) requireUser() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil || m.state.Session == nil {
		return "", backend.ErrNotAuthenticated
	}
	return m.state.User.ID, nil
}

func (m *Manager) clearToSignedOut() {
	m.publish(State{Loading: false, Initialized: true})
}

// publish replaces the state and notifies every listener synchronously, in
// registration order, with a snapshot of the new state. A panicking
// listener is recovered and logged so the remaining listeners are still
// notified.
func (m *Manager) publish(st State) {
	m.mu.Lock()
	m.state = st
	cbs := make([]Listener, 0, len(m.listeners))
	for _, id := range m.order {
		if fn, ok := m.listeners[id]; ok {
			cbs = append(cbs, fn)
		}
	}
	snap := snapshotLocked(st)
	m.mu.Unlock()

	for _, fn := range cbs {
		m.notify(fn, snap)
	}
}

func (m *Manager) notify(fn Listener, st State) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("[Manager.notify] listener panicked")
		}
	}()
	fn(st)
}

// snapshotLocked copies the state so consumers never hold references into
// the manager's own mutable fields.
func snapshotLocked(st State) State {
	out := st
	if st.User != nil {
		user := *st.User
		user.Preferences.FavoriteCharacters = append([]string(nil), st.User.Preferences.FavoriteCharacters...)
		user.Preferences.CollectionFocus = append([]string(nil), st.User.Preferences.CollectionFocus...)
		out.User = &user
	}
	if st.Session != nil {
		sess := *st.Session
		out.Session = &sess
	}
	return out
}
