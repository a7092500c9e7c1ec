package ports

import (
	"context"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
)

// ChatUser is the identity a chat connection is opened as.
type ChatUser struct {
	ID        domain.UserID
	Name      string
	AvatarURL string
}

type ChatMessage struct {
	ID        string
	ChannelID string
	UserID    domain.UserID
	Text      string
	CreatedAt time.Time
}

// ChatTransport creates user connections to the chat service. Connect must
// leave nothing behind when it fails.
type ChatTransport interface {
	Connect(ctx context.Context, user ChatUser, token string) (ChatConn, error)
}

type ChatConn interface {
	// Channel watches a channel of the given type, creating it with members
	// when it does not exist yet.
	Channel(ctx context.Context, channelType, channelID string, members []domain.UserID) (ChatChannel, error)
	Disconnect(ctx context.Context) error
}

type ChatChannel interface {
	ID() string
	Send(ctx context.Context, text string) (ChatMessage, error)
	Messages() <-chan ChatMessage
	StopWatching(ctx context.Context) error
}

type VideoUser struct {
	ID        domain.UserID
	Name      string
	AvatarURL string
}

type JoinOptions struct {
	Create bool
}

type VideoTransport interface {
	Connect(ctx context.Context, user VideoUser, token string) (VideoClient, error)
}

type VideoClient interface {
	Call(callType, callID string) VideoCall
	Disconnect(ctx context.Context) error
}

type VideoCall interface {
	ID() string
	Join(ctx context.Context, opts JoinOptions) error
	Leave(ctx context.Context) error
	States() <-chan domain.CallingState
}

// MediaDevices hands out camera and microphone access. Release must be
// called on every grant, including after a failed join.
type MediaDevices interface {
	Acquire(ctx context.Context) (MediaGrant, error)
}

type MediaGrant interface {
	Release()
}
