// Package backend abstracts the hosted marketplace backend: auth grants,
// profile rows, and remote procedures. The client core only depends on this
// interface; backend/rest is the HTTP implementation and
// backend/backendfake the test double.
package backend

import (
	"context"
	"encoding/json"

	"github.com/curiobid/go-marketplace-client/session"
)

// AuthEvent identifies a transition on the backend's auth event stream.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthChangeFunc receives auth events. session is nil for EventSignedOut.
type AuthChangeFunc func(event AuthEvent, sess *session.Session)

// ProfileRow is the raw application user row as stored by the backend.
// Optional columns are pointers so absent values can be distinguished from
// zero values when mapping to a profile.
type ProfileRow struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	Username            string    `json:"username"`
	FullName            *string   `json:"full_name,omitempty"`
	Bio                 *string   `json:"bio,omitempty"`
	AvatarURL           *string   `json:"avatar_url,omitempty"`
	Level               *int      `json:"level,omitempty"`
	XP                  *int      `json:"xp,omitempty"`
	XPToNext            *int      `json:"xp_to_next,omitempty"`
	FavoriteCharacters  []string  `json:"favorite_characters,omitempty"`
	CollectionFocus     []string  `json:"collection_focus,omitempty"`
	PriceRangeMin       *float64  `json:"price_range_min,omitempty"`
	PriceRangeMax       *float64  `json:"price_range_max,omitempty"`
	OnboardingCompleted *bool     `json:"onboarding_completed,omitempty"`
}

// Client is the remote surface the core needs from the hosted backend.
type Client interface {
	// GetCurrentSession returns the current session, or nil when signed
	// out. Transport failures are reported as an error.
	GetCurrentSession(ctx context.Context) (*session.Session, error)

	// OnAuthChange registers a persistent listener for auth events and
	// returns a function that removes it.
	OnAuthChange(cb AuthChangeFunc) (unsubscribe func())

	// RefreshSession exchanges the current grant for a fresh session.
	RefreshSession(ctx context.Context) (*session.Session, error)

	// SignOut revokes the current grant. Best effort; callers clear local
	// state regardless of the outcome.
	SignOut(ctx context.Context) error

	// FetchUserRow returns the profile row for userID, or ErrNotFound.
	FetchUserRow(ctx context.Context, userID string) (*ProfileRow, error)

	// UpdateUserRow applies a partial update to the profile row and
	// returns the updated row. Unique-constraint violations surface as
	// ErrConflict.
	UpdateUserRow(ctx context.Context, userID string, patch map[string]any) (*ProfileRow, error)

	// CallProcedure invokes a named remote procedure with the given
	// arguments and returns the raw result.
	CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}
