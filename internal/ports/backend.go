package ports

import (
	"context"

	"github.com/bnema/homiez-cli/internal/domain"
)

// Backend is the request/response API behind the client. Every method except
// Login and Signup needs the bearer token attached by the implementation.
type Backend interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error)
	Signup(ctx context.Context, req domain.SignupRequest) (domain.LoginResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (domain.Identity, error)
	Onboard(ctx context.Context, profile domain.Profile) (domain.Identity, error)

	Friends(ctx context.Context) ([]domain.UserSummary, error)
	Recommended(ctx context.Context) ([]domain.UserSummary, error)
	OutgoingRequests(ctx context.Context) ([]domain.OutgoingRequest, error)
	FriendRequests(ctx context.Context) (domain.FriendRequests, error)
	SendFriendRequest(ctx context.Context, to domain.UserID) error
	AcceptFriendRequest(ctx context.Context, from domain.UserID) error

	StreamToken(ctx context.Context) (string, error)
}

// TokenSource hands out the bearer token for the current identity.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
