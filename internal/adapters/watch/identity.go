// Package watch notices when another hz process logs in, logs out or
// switches accounts by watching the persisted client state.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// IdentityWatcher reports the new identity each time the state file ends up
// naming a different user than before. A cleared state reports the zero
// Identity.
type IdentityWatcher struct {
	path     string
	repo     ports.StateRepository
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	changes chan domain.Identity
	dirty   atomic.Bool
}

type Option func(*IdentityWatcher)

func WithDebounce(d time.Duration) Option {
	return func(w *IdentityWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *IdentityWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewIdentityWatcher(path string, repo ports.StateRepository, opts ...Option) (*IdentityWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create state watcher: %w", err)
	}
	w := &IdentityWatcher{
		path:     filepath.Clean(path),
		repo:     repo,
		logger:   slog.New(slog.DiscardHandler),
		debounce: defaultDebounce,
		watcher:  fsw,
		changes:  make(chan domain.Identity, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *IdentityWatcher) Changes() <-chan domain.Identity {
	return w.changes
}

// Start watches the directory holding the state file, since saves replace the
// file by rename. current is the identity the caller is acting as.
func (w *IdentityWatcher) Start(ctx context.Context, current domain.Identity) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.run(ctx, current.ID)
	w.logger.Debug("state watcher started", "path", w.path)
	return nil
}

// Stop ends the watch. Changes is closed once the watch loop exits.
func (w *IdentityWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *IdentityWatcher) run(ctx context.Context, last domain.UserID) {
	defer close(w.changes)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == w.path {
				w.dirty.Store(true)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state watcher error", "error", err)

		case <-ticker.C:
			if !w.dirty.Swap(false) {
				continue
			}
			identity, err := w.load(ctx)
			if err != nil {
				w.logger.Warn("reload client state", "error", err)
				continue
			}
			if identity.ID == last {
				continue
			}
			last = identity.ID
			w.logger.Debug("identity changed on disk", "identity", identity.ID)
			select {
			case w.changes <- identity:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *IdentityWatcher) load(ctx context.Context) (domain.Identity, error) {
	state, err := w.repo.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, nil
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if state.TokenRef == "" {
		return domain.Identity{}, nil
	}
	return state.Identity, nil
}
