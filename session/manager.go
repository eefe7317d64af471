package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Default thresholds, measured back from the session deadline.
const (
	DefaultRefreshThreshold = 15 * time.Minute
	DefaultWarningThreshold = 5 * time.Minute
)

// Refresher is the slice of the backend the lifecycle manager needs: a way
// to exchange the current grant for a fresh one and a way to revoke it.
type Refresher interface {
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
}

// Callbacks are the application hooks invoked on lifecycle transitions.
// All fields are optional.
type Callbacks struct {
	// OnWarning fires once per adopted session when the warning threshold
	// is crossed, with the whole minutes remaining until expiry.
	OnWarning func(minutesLeft int)
	// OnRefreshed fires after a successful refresh with the replacement
	// session. The application is expected to Adopt it, re-arming timers.
	OnRefreshed func(s *Session)
	// OnExpired fires on terminal expiry: the deadline passed or a refresh
	// attempt failed. Local state and the snapshot are already cleared.
	OnExpired func()
}

// Config controls the manager's timer scheduling and persistence.
type Config struct {
	RefreshThreshold time.Duration // how long before expiry to attempt a refresh
	WarningThreshold time.Duration // how long before expiry to warn the application
	AutoRefresh      bool          // disables the refresh timer entirely when false
	PersistSession   bool          // controls whether the snapshot slot is written/cleared
}

func defaultConfig() Config {
	return Config{
		RefreshThreshold: DefaultRefreshThreshold,
		WarningThreshold: DefaultWarningThreshold,
		AutoRefresh:      true,
		PersistSession:   true,
	}
}

// Option modifies a Manager, either at construction or via UpdateConfig.
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) {
		m.cfg.RefreshThreshold = d
	}
}

func WithWarningThreshold(d time.Duration) Option {
	return func(m *Manager) {
		m.cfg.WarningThreshold = d
	}
}

func WithAutoRefresh(enabled bool) Option {
	return func(m *Manager) {
		m.cfg.AutoRefresh = enabled
	}
}

func WithPersistSession(enabled bool) Option {
	return func(m *Manager) {
		m.cfg.PersistSession = enabled
	}
}

// Manager owns one active session's timers. Three transitions are armed
// together against the session deadline: refresh, warning, and expiry.
// Every Adopt cancels the previous set before arming the next, so stale
// timers never act on a superseded session.
type Manager struct {
	backend Refresher
	store   Store
	cb      Callbacks
	log     zerolog.Logger
	nowTime func() time.Time

	mu           sync.Mutex
	cfg          Config
	sess         *Session
	active       bool
	warningShown bool
	refreshing   bool
	generation   uint64
	refreshTimer *time.Timer
	warningTimer *time.Timer
	expiryTimer  *time.Timer
}

// NewManager creates a session lifecycle manager. backend and store are
// required; callbacks are optional.
func NewManager(backend Refresher, store Store, cb Callbacks, options ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("[NewManager] backend refresher is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] snapshot store is required")
	}

	m := &Manager{
		backend: backend,
		store:   store,
		cb:      cb,
		cfg:     defaultConfig(),
		log:     zerolog.Nop(),
		nowTime: time.Now,
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// Adopt takes ownership of a new session: cancels any pending timers,
// resets the warning and refresh guards, persists the snapshot, and arms
// the refresh/warning/expiry timers against the session deadline. Calling
// Adopt with the session already held simply re-arms.
func (m *Manager) Adopt(s *Session) {
	if s == nil {
		return
	}
	if s.ExpiresAt <= 0 {
		m.log.Warn().Msg("[Manager.Adopt] session has no expiry, not adopting")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	gen := m.generation
	m.cancelTimersLocked()

	m.sess = s
	m.active = true
	m.warningShown = false
	m.refreshing = false

	if m.cfg.PersistSession {
		m.persistLocked(s)
	}

	untilExpiry := time.Unix(s.ExpiresAt, 0).Sub(m.nowTime())

	if m.cfg.AutoRefresh {
		m.refreshTimer = time.AfterFunc(clampDuration(untilExpiry-m.cfg.RefreshThreshold), func() {
			m.refreshTick(gen)
		})
	}
	m.warningTimer = time.AfterFunc(clampDuration(untilExpiry-m.cfg.WarningThreshold), func() {
		m.warningTick(gen)
	})
	m.expiryTimer = time.AfterFunc(clampDuration(untilExpiry), func() {
		m.expire(gen)
	})
}

// Extend attempts exactly one refresh now, regardless of timer state, and
// reports whether it succeeded. If a refresh is already in flight the call
// is a no-op returning false.
func (m *Manager) Extend(ctx context.Context) bool {
	m.mu.Lock()
	if !m.active || m.sess == nil || m.refreshing {
		m.mu.Unlock()
		return false
	}
	m.refreshing = true
	gen := m.generation
	m.mu.Unlock()

	return m.doRefresh(ctx, gen)
}

// Terminate signs out: an unconditional local clear, then best-effort
// remote revocation. The clear happens before the remote call is issued, so
// local state never remains active after Terminate no matter how the
// network behaves, including a revocation that hangs.
func (m *Manager) Terminate(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	m.cancelTimersLocked()
	m.clearLocked()
	m.mu.Unlock()

	if err := m.backend.SignOut(ctx); err != nil {
		m.log.Warn().Err(err).Msg("[Manager.Terminate] remote sign-out failed")
	}
}

// Destroy tears the manager down without firing any callbacks: timers are
// cancelled, the snapshot is cleared, and the in-memory session dropped.
func (m *Manager) Destroy() {
	m.mu.Lock()
	m.generation++
	m.cancelTimersLocked()
	m.clearLocked()
	m.mu.Unlock()
}

// IsValid reports whether a session is held, active, and not yet past its
// deadline.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.sess != nil && !m.sess.Expired(m.nowTime())
}

// TimeUntilExpiry returns the live remaining lifetime of the held session.
// The second return is false when no active session is held.
func (m *Manager) TimeUntilExpiry() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.sess == nil {
		return 0, false
	}
	return time.Unix(m.sess.ExpiresAt, 0).Sub(m.nowTime()), true
}

// Session returns the currently held session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// UpdateConfig merges the given options into the configuration. If a
// session is active its timers are re-armed under the new configuration.
func (m *Manager) UpdateConfig(options ...Option) {
	m.mu.Lock()
	for _, opt := range options {
		opt(m)
	}
	sess := m.sess
	active := m.active
	m.mu.Unlock()

	if active && sess != nil {
		m.Adopt(sess)
	}
}

// RestoreSnapshot reads the persisted snapshot and rebuilds its session.
// Expired snapshots are cleared and reported as ErrSnapshotNotFound so a
// stale grant is never re-adopted.
func (m *Manager) RestoreSnapshot() (*Session, error) {
	raw, err := m.store.Read(SnapshotKey)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.RestoreSnapshot] store.Read")
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrap(err, "[Manager.RestoreSnapshot] unmarshal snapshot")
	}

	sess := snap.Session()
	if sess.Expired(m.nowTime()) {
		if err := m.store.Clear(SnapshotKey); err != nil {
			m.log.Warn().Err(err).Msg("[Manager.RestoreSnapshot] failed to clear stale snapshot")
		}
		return nil, ErrSnapshotNotFound
	}
	return sess, nil
}

// refreshTick is the timer-driven refresh. The refreshing guard ensures
// overlapping timers and explicit Extend calls cannot double-fire.
func (m *Manager) refreshTick(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.active || m.refreshing {
		m.mu.Unlock()
		return
	}
	m.refreshing = true
	m.mu.Unlock()

	m.doRefresh(context.Background(), gen)
}

// doRefresh performs one refresh attempt. Failure is terminal expiry; there
// is no retry loop. A session superseded while the backend call was in
// flight (Terminate, Destroy, or a newer Adopt) discards the result: the
// fresh grant must never be delivered for a session the owner already
// dropped.
func (m *Manager) doRefresh(ctx context.Context, gen uint64) bool {
	fresh, err := m.backend.RefreshSession(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("[Manager.doRefresh] refresh failed, treating as expiry")
		m.expire(gen)
		return false
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	m.refreshing = false
	m.mu.Unlock()

	if m.cb.OnRefreshed != nil {
		m.cb.OnRefreshed(fresh)
	}
	return true
}

func (m *Manager) warningTick(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.active || m.warningShown || m.sess == nil {
		m.mu.Unlock()
		return
	}
	m.warningShown = true
	minutesLeft := int(time.Unix(m.sess.ExpiresAt, 0).Sub(m.nowTime()).Minutes())
	m.mu.Unlock()

	if m.cb.OnWarning != nil {
		m.cb.OnWarning(minutesLeft)
	}
}

// expire is the terminal transition: clear local state and the persisted
// snapshot, then notify the application. A stale generation is a no-op, so
// a timer that was already queued when its session was superseded does
// nothing.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.active {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.cancelTimersLocked()
	m.clearLocked()
	m.mu.Unlock()

	if m.cb.OnExpired != nil {
		m.cb.OnExpired()
	}
}

func (m *Manager) cancelTimersLocked() {
	for _, t := range []*time.Timer{m.refreshTimer, m.warningTimer, m.expiryTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.refreshTimer, m.warningTimer, m.expiryTimer = nil, nil, nil
}

func (m *Manager) clearLocked() {
	m.sess = nil
	m.active = false
	m.warningShown = false
	m.refreshing = false
	if m.cfg.PersistSession {
		if err := m.store.Clear(SnapshotKey); err != nil {
			m.log.Warn().Err(err).Msg("[Manager.clearLocked] failed to clear snapshot")
		}
	}
}

func (m *Manager) persistLocked(s *Session) {
	snap := Snapshot{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         s.User,
		CapturedAt:   m.nowTime(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		m.log.Warn().Err(err).Msg("[Manager.persistLocked] failed to marshal snapshot")
		return
	}
	if err := m.store.Persist(SnapshotKey, raw); err != nil {
		m.log.Warn().Err(err).Msg("[Manager.persistLocked] failed to persist snapshot")
	}
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
