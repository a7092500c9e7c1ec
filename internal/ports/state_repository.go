package ports

import (
	"context"

	"github.com/bnema/homiez-cli/internal/domain"
)

// StateRepository persists ClientState between invocations. Load returns
// domain.ErrNotFound when nothing was saved yet.
type StateRepository interface {
	Load(ctx context.Context) (domain.ClientState, error)
	Save(ctx context.Context, state domain.ClientState) error
	Clear(ctx context.Context) error
}
