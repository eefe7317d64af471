// Package session holds the authenticated session type and the lifecycle
// manager that schedules refresh, warning, and expiry transitions against
// the session's absolute deadline.
package session

import "time"

// SnapshotKey is the single named slot under which the local session
// snapshot is persisted.
const SnapshotKey = "curiobid.session"

// Identity is the raw authenticated identity issued by the backend,
// before any application profile is layered on top.
type Identity struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Session represents one credential grant. ExpiresAt is absolute epoch
// seconds; once it has passed the session must not be used for
// authenticated calls. Sessions are replaced wholesale on refresh, never
// mutated in place.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	User         Identity `json:"user"`
}

// Expired reports whether the session's deadline has passed at the given
// instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(time.Unix(s.ExpiresAt, 0))
}

// Snapshot is the locally persisted copy of a session, written whenever a
// session is adopted and cleared on sign-out or expiry.
type Snapshot struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at"`
	User         Identity  `json:"user"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Session rebuilds the session the snapshot was captured from.
func (sn *Snapshot) Session() *Session {
	return &Session{
		AccessToken:  sn.AccessToken,
		RefreshToken: sn.RefreshToken,
		ExpiresAt:    sn.ExpiresAt,
		User:         sn.User,
	}
}
