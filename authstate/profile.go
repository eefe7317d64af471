package authstate

import (
	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/internal/utils"
	"github.com/curiobid/go-marketplace-client/session"
)

// Defaults applied when the backend row omits gamification fields, and used
// wholesale for fallback profiles.
const (
	defaultLevel    = 1
	defaultXP       = 0
	defaultXPToNext = 1000
	defaultUsername = "user"
)

// Source tags where a profile came from, so downstream code can tell a
// degraded-mode profile from a real one. Both satisfy the same read
// interface.
type Source string

const (
	// SourceFetched marks a profile mapped from a backend row.
	SourceFetched Source = "fetched"
	// SourceFallback marks a profile synthesized locally because the row
	// was unavailable.
	SourceFallback Source = "fallback"
)

// PriceRange is the collector's preferred price band.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Preferences are the collector's marketplace preferences.
type Preferences struct {
	FavoriteCharacters []string   `json:"favorite_characters"`
	CollectionFocus    []string   `json:"collection_focus"`
	PriceRange         PriceRange `json:"price_range"`
}

// UserProfile is the application-level user record layered over the raw
// authenticated identity. While a session is held the broadcast state
// always carries a non-nil profile, falling back to synthesized defaults
// when the backend row cannot be fetched.
type UserProfile struct {
	ID                  string      `json:"id"`
	Email               string      `json:"email"`
	Username            string      `json:"username"`
	FullName            string      `json:"full_name,omitempty"`
	Bio                 string      `json:"bio,omitempty"`
	AvatarURL           string      `json:"avatar_url,omitempty"`
	Level               int         `json:"level"`
	XP                  int         `json:"xp"`
	XPToNext            int         `json:"xp_to_next"`
	Preferences         Preferences `json:"preferences"`
	OnboardingCompleted bool        `json:"onboarding_completed"`
	Source              Source      `json:"source"`
}

// profileFromRow maps a backend row to a profile, supplying defaults for
// absent gamification fields.
func profileFromRow(row *backend.ProfileRow) *UserProfile {
	p := &UserProfile{
		ID:        row.ID,
		Email:     row.Email,
		Username:  row.Username,
		FullName:  utils.Value(row.FullName),
		Bio:       utils.Value(row.Bio),
		AvatarURL: utils.Value(row.AvatarURL),
		Level:     defaultLevel,
		XP:        utils.Value(row.XP),
		XPToNext:  defaultXPToNext,
		Preferences: Preferences{
			FavoriteCharacters: append([]string(nil), row.FavoriteCharacters...),
			CollectionFocus:    append([]string(nil), row.CollectionFocus...),
			PriceRange: PriceRange{
				Min: utils.Value(row.PriceRangeMin),
				Max: utils.Value(row.PriceRangeMax),
			},
		},
		OnboardingCompleted: utils.Value(row.OnboardingCompleted),
		Source:              SourceFetched,
	}
	// Level and XPToNext default to non-zero values, so a missing column
	// cannot be collapsed into the zero value.
	if row.Level != nil {
		p.Level = *row.Level
	}
	if row.XPToNext != nil {
		p.XPToNext = *row.XPToNext
	}
	return p
}

// fallbackProfile synthesizes a default profile from the raw identity so
// the UI never observes a nil profile while authenticated. The username
// comes from the identity metadata when present.
func fallbackProfile(id session.Identity) *UserProfile {
	username := id.Metadata["username"]
	if username == "" {
		username = defaultUsername
	}
	return &UserProfile{
		ID:       id.ID,
		Email:    id.Email,
		Username: username,
		Level:    defaultLevel,
		XP:       defaultXP,
		XPToNext: defaultXPToNext,
		Source:   SourceFallback,
	}
}
