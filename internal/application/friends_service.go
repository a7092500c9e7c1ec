package application

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bnema/homiez-cli/internal/cache"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/mutation"
	"github.com/bnema/homiez-cli/internal/ports"
	"golang.org/x/sync/errgroup"
)

// Dashboard is the home view: friends plus suggestions annotated with the
// requests already sent.
type Dashboard struct {
	Friends     []domain.UserSummary
	Recommended []domain.Recommendation
	// Stale is set when any list is showing a value that failed to refresh.
	Stale bool
}

type FriendsService struct {
	rt      *Runtime
	backend ports.Backend
}

func NewFriendsService(rt *Runtime, backend ports.Backend) *FriendsService {
	return &FriendsService{rt: rt, backend: backend}
}

func (s *FriendsService) Friends(ctx context.Context) ([]domain.UserSummary, error) {
	friends, _, err := query[[]domain.UserSummary](ctx, s.rt.Cache, KeyFriends)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

func (s *FriendsService) Recommended(ctx context.Context) ([]domain.UserSummary, error) {
	users, _, err := query[[]domain.UserSummary](ctx, s.rt.Cache, KeyRecommended)
	if err != nil {
		return nil, fmt.Errorf("list recommended users: %w", err)
	}
	return users, nil
}

func (s *FriendsService) Outgoing(ctx context.Context) ([]domain.OutgoingRequest, error) {
	outgoing, _, err := query[[]domain.OutgoingRequest](ctx, s.rt.Cache, KeyOutgoing)
	if err != nil {
		return nil, fmt.Errorf("list outgoing friend requests: %w", err)
	}
	return outgoing, nil
}

func (s *FriendsService) Requests(ctx context.Context) (domain.FriendRequests, error) {
	requests, _, err := query[domain.FriendRequests](ctx, s.rt.Cache, KeyFriendRequests)
	if err != nil {
		return domain.FriendRequests{}, fmt.Errorf("list friend requests: %w", err)
	}
	return requests, nil
}

// Dashboard loads the three lists concurrently. A list that fails but still
// has a cached value is shown with Stale set; one with nothing cached fails
// the whole load.
func (s *FriendsService) Dashboard(ctx context.Context) (Dashboard, error) {
	var (
		friends     []domain.UserSummary
		recommended []domain.UserSummary
		outgoing    []domain.OutgoingRequest
		snaps       [3]cache.Snapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friends, snaps[0], err = lastKnown[[]domain.UserSummary](gctx, s.rt.Cache, KeyFriends)
		return err
	})
	g.Go(func() error {
		var err error
		recommended, snaps[1], err = lastKnown[[]domain.UserSummary](gctx, s.rt.Cache, KeyRecommended)
		return err
	})
	g.Go(func() error {
		var err error
		outgoing, snaps[2], err = lastKnown[[]domain.OutgoingRequest](gctx, s.rt.Cache, KeyOutgoing)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("load dashboard: %w", err)
	}

	d := Dashboard{
		Friends:     friends,
		Recommended: domain.Recommend(recommended, outgoing),
	}
	for _, snap := range snaps {
		if snap.Entry.Stale || snap.Entry.State == cache.StateError {
			d.Stale = true
		}
	}
	return d, nil
}

// lastKnown is query that falls back to the previously cached value when the
// refetch fails.
func lastKnown[T any](ctx context.Context, store *cache.Store, key cache.Key) (T, cache.Snapshot, error) {
	v, snap, err := query[T](ctx, store, key)
	if err == nil {
		return v, snap, nil
	}
	if prev, ok := cache.Value[T](snap); ok {
		return prev, snap, nil
	}
	return v, snap, err
}

// SendRequest asks to befriend to. The receiver shows up in the outgoing list
// right away and disappears again if the request fails.
func (s *FriendsService) SendRequest(ctx context.Context, to domain.UserID) error {
	if to == "" {
		return errors.New("send friend request: user id is required")
	}
	placeholder := domain.OutgoingRequest{
		ID:       "pending-" + s.rt.Coordinator.NewID(),
		Receiver: domain.UserSummary{ID: to},
	}
	if summary, ok := s.knownUser(to); ok {
		placeholder.Receiver = summary
	}

	m := mutation.Mutation{
		Target: KeyOutgoing,
		Apply: func(current any) (any, bool) {
			list, ok := current.([]domain.OutgoingRequest)
			if !ok && current != nil {
				return nil, false
			}
			if slices.ContainsFunc(list, func(r domain.OutgoingRequest) bool { return r.Receiver.ID == to }) {
				return nil, false
			}
			next := make([]domain.OutgoingRequest, 0, len(list)+1)
			next = append(next, list...)
			return append(next, placeholder), true
		},
		Revert: func(current any) any {
			list, _ := current.([]domain.OutgoingRequest)
			return slices.DeleteFunc(slices.Clone(list), func(r domain.OutgoingRequest) bool {
				return r.ID == placeholder.ID
			})
		},
		Dependents: []cache.Key{KeyRecommended},
	}

	err := s.rt.Coordinator.Run(ctx, m, func(ctx context.Context) error {
		return s.backend.SendFriendRequest(ctx, to)
	})
	if err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	return nil
}

// AcceptRequest accepts the pending request from sender. The request moves to
// the accepted list immediately and moves back if the backend refuses.
func (s *FriendsService) AcceptRequest(ctx context.Context, sender domain.UserID) error {
	if sender == "" {
		return errors.New("accept friend request: sender id is required")
	}

	var move domain.AcceptedMove
	m := mutation.Mutation{
		Target: KeyFriendRequests,
		Apply: func(current any) (any, bool) {
			requests, ok := current.(domain.FriendRequests)
			if !ok {
				return nil, false
			}
			next, moved, ok := requests.Accept(sender)
			if !ok {
				return nil, false
			}
			move = moved
			return next, true
		},
		Revert: func(current any) any {
			requests, _ := current.(domain.FriendRequests)
			return requests.Revert(move)
		},
		Dependents: []cache.Key{KeyFriends, KeyRecommended},
	}

	err := s.rt.Coordinator.Run(ctx, m, func(ctx context.Context) error {
		return s.backend.AcceptFriendRequest(ctx, sender)
	})
	if err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	return nil
}

// knownUser looks id up in the cached user lists without fetching.
func (s *FriendsService) knownUser(id domain.UserID) (domain.UserSummary, bool) {
	for _, key := range []cache.Key{KeyRecommended, KeyFriends} {
		users, ok := cache.Value[[]domain.UserSummary](s.rt.Cache.Read(key))
		if !ok {
			continue
		}
		if i := slices.IndexFunc(users, func(u domain.UserSummary) bool { return u.ID == id }); i >= 0 {
			return users[i], true
		}
	}
	return domain.UserSummary{}, false
}
