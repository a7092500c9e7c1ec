package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bnema/homiez-cli/internal/cache"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/metrics"
	"github.com/bnema/homiez-cli/internal/mutation"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/bnema/homiez-cli/internal/realtime"
)

var ErrUnexpectedValue = errors.New("unexpected cached value type")

// Runtime is the process-wide context every service is handed explicitly:
// one cache, one mutation coordinator and one session manager.
type Runtime struct {
	Cache       *cache.Store
	Coordinator *mutation.Coordinator
	Sessions    *realtime.Manager
	Metrics     *metrics.Recorder

	clock  ports.Clock
	logger *slog.Logger
}

type RuntimeConfig struct {
	Backend    ports.Backend
	Connectors []realtime.Connector
	Clock      ports.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store := cache.NewStore(
		cache.WithClock(clock),
		cache.WithLogger(logger),
		cache.WithMetrics(cfg.Metrics),
	)
	registerFetchers(store, cfg.Backend, logger)

	sessions := realtime.NewManager(
		&streamTokens{store: store, clock: clock},
		cfg.Connectors,
		realtime.WithClock(clock),
		realtime.WithLogger(logger),
		realtime.WithMetrics(cfg.Metrics),
	)

	return &Runtime{
		Cache:       store,
		Coordinator: mutation.NewCoordinator(store, clock, logger, cfg.Metrics),
		Sessions:    sessions,
		Metrics:     cfg.Metrics,
		clock:       clock,
		logger:      logger,
	}
}

func registerFetchers(store *cache.Store, backend ports.Backend, logger *slog.Logger) {
	store.Register(rootAuthUser, func(ctx context.Context, _ cache.Key) (any, error) {
		identity, err := backend.Me(ctx)
		if err != nil {
			// Any failure reads as logged out.
			logger.Debug("current user lookup failed", "error", err)
			return domain.Identity{}, nil
		}
		return identity, nil
	})
	store.Register(rootFriends, func(ctx context.Context, _ cache.Key) (any, error) {
		return backend.Friends(ctx)
	})
	store.Register(rootRecommended, func(ctx context.Context, _ cache.Key) (any, error) {
		return backend.Recommended(ctx)
	})
	store.Register(rootOutgoing, func(ctx context.Context, _ cache.Key) (any, error) {
		return backend.OutgoingRequests(ctx)
	})
	store.Register(rootFriendRequests, func(ctx context.Context, _ cache.Key) (any, error) {
		return backend.FriendRequests(ctx)
	})
	store.Register(rootStreamToken, func(ctx context.Context, _ cache.Key) (any, error) {
		return backend.StreamToken(ctx)
	})
}

// IdentityChanged drops everything that belonged to the previous identity and
// closes realtime sessions opened as anyone other than identity.
func (r *Runtime) IdentityChanged(ctx context.Context, identity domain.Identity) error {
	dropped := r.Cache.RemoveWhere(identityScoped)
	r.Cache.Invalidate(KeyAuthUser)
	r.logger.Debug("identity changed", "identity", identity.ID, "dropped_keys", dropped)
	if err := r.Sessions.Rebind(ctx, identity); err != nil {
		return fmt.Errorf("rebind realtime sessions: %w", err)
	}
	return nil
}

// Close tears down every realtime session and stops background refetches.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.Sessions.Shutdown(ctx)
	r.Cache.Close()
	if err != nil {
		return fmt.Errorf("shutdown realtime sessions: %w", err)
	}
	return nil
}

func query[T any](ctx context.Context, store *cache.Store, key cache.Key) (T, cache.Snapshot, error) {
	var zero T
	snap, err := store.Query(ctx, key)
	if err != nil {
		return zero, snap, err
	}
	if snap.Present && snap.Entry.Value == nil {
		return zero, snap, nil
	}
	v, ok := cache.Value[T](snap)
	if !ok {
		return zero, snap, fmt.Errorf("read %s: %w", key, ErrUnexpectedValue)
	}
	return v, snap, nil
}

// streamTokens serves realtime tokens out of the cache. An expired cached
// token is refetched once.
type streamTokens struct {
	store *cache.Store
	clock ports.Clock
}

func (s *streamTokens) Token(ctx context.Context, identity domain.Identity) (string, error) {
	key := StreamTokenKey(identity.ID)
	token, _, err := query[string](ctx, s.store, key)
	if err != nil {
		return "", fmt.Errorf("get stream token: %w", err)
	}
	if !errors.Is(realtime.CheckToken(token, s.clock.Now()), realtime.ErrTokenExpired) {
		return token, nil
	}

	s.store.Invalidate(key)
	token, _, err = query[string](ctx, s.store, key)
	if err != nil {
		return "", fmt.Errorf("refresh stream token: %w", err)
	}
	return token, nil
}
