package realtime

import (
	"context"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
)

type EventKind string

const (
	EventMessage   EventKind = "message"
	EventCallState EventKind = "call_state"
)

type Event struct {
	Kind      EventKind
	Message   ports.ChatMessage
	CallState domain.CallingState
}

// Link is a live connection held by a ready session. Close releases every
// resource behind it and is safe to call more than once.
type Link interface {
	Send(ctx context.Context, text string) error
	Events() <-chan Event
	Close(ctx context.Context) error
}

// Resource is what a session is opened against: a chat channel or a call.
type Resource struct {
	ID      string
	Members []domain.UserID
}

// Connector builds a Link for one feature. When Connect fails it must have
// released whatever it created. Errors wrapping domain.ErrJoin are reported
// as join failures; everything else as connection failures.
type Connector interface {
	Feature() domain.Feature
	Connect(ctx context.Context, identity domain.Identity, token string, resource Resource) (Link, error)
}
