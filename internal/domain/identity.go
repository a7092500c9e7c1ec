package domain

import (
	"strings"
	"time"
)

type UserID string

// Identity is the authenticated user as reported by the backend. A zero
// Identity means "not logged in".
type Identity struct {
	ID          UserID
	DisplayName string
	Email       string
	AvatarURL   string
	Bio         string
	Location    string
	Onboarded   bool
}

func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i.ID)) == ""
}

// Summary projects the identity onto the shape used by the friend graph.
func (i Identity) Summary() UserSummary {
	return UserSummary{
		ID:        i.ID,
		FullName:  i.DisplayName,
		AvatarURL: i.AvatarURL,
		Bio:       i.Bio,
		Location:  i.Location,
	}
}

// ClientState is what survives between invocations: the last known identity
// and a reference to where the bearer token is kept.
type ClientState struct {
	Identity Identity
	TokenRef string
	SavedAt  time.Time
}

func (s ClientState) LoggedIn() bool {
	return s.TokenRef != "" && !s.Identity.IsZero()
}

type Credentials struct {
	Email    string
	Password string
}

type SignupRequest struct {
	FullName string
	Email    string
	Password string
}

type Profile struct {
	FullName  string
	Bio       string
	Location  string
	AvatarURL string
}

type LoginResult struct {
	Token    string
	Identity Identity
}
