package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/homiez-cli/internal/cache"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingFrom(id string, sender domain.UserSummary) domain.FriendRequestRecord {
	return domain.FriendRequestRecord{ID: id, Sender: sender, Direction: domain.RequestPending}
}

func cachedRequests(t *testing.T, store *cache.Store) domain.FriendRequests {
	t.Helper()
	v, ok := cache.Value[domain.FriendRequests](store.Read(KeyFriendRequests))
	require.True(t, ok, "friend requests not cached")
	return v
}

func TestFriendsServiceDashboardMarksSentRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&fakeBackend{
		friends:     []domain.UserSummary{grace},
		recommended: []domain.UserSummary{linus, ken},
		outgoing:    []domain.OutgoingRequest{{ID: "o1", Receiver: linus}},
	})

	d, err := env.friends.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.UserSummary{grace}, d.Friends)
	assert.Equal(t, []domain.Recommendation{
		{User: linus, RequestSent: true},
		{User: ken},
	}, d.Recommended)
	assert.False(t, d.Stale)
}

func TestFriendsServiceDashboardFallsBackToCachedLists(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&fakeBackend{friends: []domain.UserSummary{grace}})
	ctx := context.Background()

	_, err := env.friends.Dashboard(ctx)
	require.NoError(t, err)

	env.backend.set(func(b *fakeBackend) { b.friendsErr = errors.New("timeout") })
	env.rt.Cache.Invalidate(KeyFriends)

	d, err := env.friends.Dashboard(ctx)
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, []domain.UserSummary{grace}, d.Friends)
}

func TestFriendsServiceDashboardFailsWithoutCachedValue(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("timeout")
	env := newTestEnv(&fakeBackend{friendsErr: fetchErr})

	_, err := env.friends.Dashboard(context.Background())
	require.ErrorIs(t, err, fetchErr)
}

func TestFriendsServiceQueriesShareTheCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&fakeBackend{friends: []domain.UserSummary{grace}})
	ctx := context.Background()

	for range 3 {
		friends, err := env.friends.Friends(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.UserSummary{grace}, friends)
	}
	assert.Equal(t, 1, env.backend.count("Friends"))
}

func TestFriendsServiceAcceptRequestAppliesOptimistically(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{requests: domain.FriendRequests{
		Pending: []domain.FriendRequestRecord{pendingFrom("r1", grace), pendingFrom("r2", linus)},
	}}
	env := newTestEnv(backend)
	ctx := context.Background()

	_, err := env.friends.Requests(ctx)
	require.NoError(t, err)
	_, err = env.friends.Friends(ctx)
	require.NoError(t, err)

	backend.onAccept = func(context.Context, domain.UserID) error {
		during := cachedRequests(t, env.rt.Cache)
		assert.Equal(t, []domain.FriendRequestRecord{pendingFrom("r2", linus)}, during.Pending)
		require.Len(t, during.Accepted, 1)
		assert.Equal(t, domain.RequestAccepted, during.Accepted[0].Direction)
		return nil
	}

	require.NoError(t, env.friends.AcceptRequest(ctx, grace.ID))

	assert.Equal(t, 1, backend.count("AcceptFriendRequest"))
	assert.True(t, env.rt.Cache.Read(KeyFriendRequests).Entry.Stale)
	assert.True(t, env.rt.Cache.Read(KeyFriends).Entry.Stale)
}

func TestFriendsServiceAcceptRequestRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	original := domain.FriendRequests{
		Pending:  []domain.FriendRequestRecord{pendingFrom("r1", grace)},
		Accepted: []domain.FriendRequestRecord{},
	}
	backend := &fakeBackend{requests: original}
	env := newTestEnv(backend)
	ctx := context.Background()

	_, err := env.friends.Requests(ctx)
	require.NoError(t, err)
	before := env.rt.Cache.Read(KeyFriendRequests)

	callErr := &domain.NetworkError{Op: "accept", Status: 500, Err: errors.New("internal")}
	backend.onAccept = func(context.Context, domain.UserID) error { return callErr }

	err = env.friends.AcceptRequest(ctx, grace.ID)
	require.ErrorIs(t, err, domain.ErrNetwork)

	after := env.rt.Cache.Read(KeyFriendRequests)
	assert.Equal(t, before.Entry.Version, after.Entry.Version)
	assert.Equal(t, original, cachedRequests(t, env.rt.Cache))
	assert.False(t, after.Entry.Stale)
}

func TestFriendsServiceOverlappingAcceptsRevertOnlyTheFailedOne(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{requests: domain.FriendRequests{
		Pending: []domain.FriendRequestRecord{pendingFrom("r1", grace), pendingFrom("r2", linus)},
	}}
	env := newTestEnv(backend)
	ctx := context.Background()

	_, err := env.friends.Requests(ctx)
	require.NoError(t, err)

	started := make(chan domain.UserID, 2)
	release := map[domain.UserID]chan error{
		grace.ID: make(chan error, 1),
		linus.ID: make(chan error, 1),
	}
	backend.onAccept = func(_ context.Context, from domain.UserID) error {
		started <- from
		return <-release[from]
	}

	first := make(chan error, 1)
	go func() { first <- env.friends.AcceptRequest(ctx, grace.ID) }()
	require.Equal(t, grace.ID, <-started)

	second := make(chan error, 1)
	go func() { second <- env.friends.AcceptRequest(ctx, linus.ID) }()
	require.Equal(t, linus.ID, <-started)

	both := cachedRequests(t, env.rt.Cache)
	assert.Empty(t, both.Pending)
	assert.Len(t, both.Accepted, 2)

	release[grace.ID] <- errors.New("rejected")
	select {
	case err := <-first:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first accept did not settle")
	}

	reverted := cachedRequests(t, env.rt.Cache)
	assert.Equal(t, []domain.FriendRequestRecord{pendingFrom("r1", grace)}, reverted.Pending)
	require.Len(t, reverted.Accepted, 1)
	assert.Equal(t, linus.ID, reverted.Accepted[0].Sender.ID)

	release[linus.ID] <- nil
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second accept did not settle")
	}
}

func TestFriendsServiceFailedAcceptAfterRefetchDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{requests: domain.FriendRequests{
		Pending: []domain.FriendRequestRecord{pendingFrom("r1", grace), pendingFrom("r2", linus)},
	}}
	env := newTestEnv(backend)
	ctx := context.Background()

	_, err := env.friends.Requests(ctx)
	require.NoError(t, err)

	started := make(chan domain.UserID, 2)
	release := map[domain.UserID]chan error{
		grace.ID: make(chan error, 1),
		linus.ID: make(chan error, 1),
	}
	backend.onAccept = func(_ context.Context, from domain.UserID) error {
		started <- from
		return <-release[from]
	}

	first := make(chan error, 1)
	go func() { first <- env.friends.AcceptRequest(ctx, grace.ID) }()
	require.Equal(t, grace.ID, <-started)

	second := make(chan error, 1)
	go func() { second <- env.friends.AcceptRequest(ctx, linus.ID) }()
	require.Equal(t, linus.ID, <-started)

	accepted := pendingFrom("r2", linus)
	accepted.Direction = domain.RequestAccepted
	backend.set(func(b *fakeBackend) {
		b.requests = domain.FriendRequests{
			Pending:  []domain.FriendRequestRecord{pendingFrom("r1", grace)},
			Accepted: []domain.FriendRequestRecord{accepted},
		}
	})

	release[linus.ID] <- nil
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second accept did not settle")
	}

	// The invalidated list is refetched before the first accept fails.
	refreshed, err := env.friends.Requests(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.FriendRequestRecord{pendingFrom("r1", grace)}, refreshed.Pending)

	release[grace.ID] <- errors.New("rejected")
	select {
	case err := <-first:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first accept did not settle")
	}

	reverted := cachedRequests(t, env.rt.Cache)
	assert.Equal(t, []domain.FriendRequestRecord{pendingFrom("r1", grace)}, reverted.Pending)
	assert.Equal(t, []domain.FriendRequestRecord{accepted}, reverted.Accepted)
}

func TestFriendsServiceAcceptWithoutCachedRequestsStillCallsBackend(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&fakeBackend{})

	require.NoError(t, env.friends.AcceptRequest(context.Background(), grace.ID))
	assert.Equal(t, 1, env.backend.count("AcceptFriendRequest"))
	assert.False(t, env.rt.Cache.Read(KeyFriendRequests).Present)
}

func TestFriendsServiceSendRequestAddsPlaceholder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{recommended: []domain.UserSummary{linus}}
	env := newTestEnv(backend)
	ctx := context.Background()

	_, err := env.friends.Dashboard(ctx)
	require.NoError(t, err)

	backend.onSend = func(context.Context, domain.UserID) error {
		outgoing, ok := cache.Value[[]domain.OutgoingRequest](env.rt.Cache.Read(KeyOutgoing))
		require.True(t, ok)
		require.Len(t, outgoing, 1)
		assert.Equal(t, linus, outgoing[0].Receiver)
		return nil
	}

	require.NoError(t, env.friends.SendRequest(ctx, linus.ID))
	assert.True(t, env.rt.Cache.Read(KeyOutgoing).Entry.Stale)
	assert.True(t, env.rt.Cache.Read(KeyRecommended).Entry.Stale)
}

func TestFriendsServiceSendRequestFailureRemovesPlaceholder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{outgoing: []domain.OutgoingRequest{{ID: "o1", Receiver: ken}}}
	env := newTestEnv(backend)
	ctx := context.Background()

	_, err := env.friends.Outgoing(ctx)
	require.NoError(t, err)

	backend.onSend = func(context.Context, domain.UserID) error { return domain.ErrUnauthenticated }

	err = env.friends.SendRequest(ctx, linus.ID)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	outgoing, err := env.friends.Outgoing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.OutgoingRequest{{ID: "o1", Receiver: ken}}, outgoing)
}

func TestFriendsServiceRejectsEmptyIDs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&fakeBackend{})

	require.Error(t, env.friends.SendRequest(context.Background(), ""))
	require.Error(t, env.friends.AcceptRequest(context.Background(), ""))
	assert.Zero(t, env.backend.count("SendFriendRequest"))
	assert.Zero(t, env.backend.count("AcceptFriendRequest"))
}
