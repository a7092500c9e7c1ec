package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/homiez-cli/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan fetchResult
}

type fetchResult struct {
	value any
	err   error
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		started: make(chan struct{}, 8),
		release: make(chan fetchResult),
	}
}

func (f *gatedFetcher) fetch(ctx context.Context, _ Key) (any, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	select {
	case res := <-f.release:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitStarted(t *testing.T, f *gatedFetcher) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
	}
}

func TestKeyParts(t *testing.T) {
	t.Parallel()

	key := NewKey("streamToken", "u1")
	assert.Equal(t, Key("streamToken/u1"), key)
	assert.Equal(t, "streamToken", key.Root())
	assert.Equal(t, []string{"streamToken", "u1"}, key.Parts())
	assert.Equal(t, "friends", NewKey("friends").Root())
}

func TestKeyPartsKeepSlashesInsideSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
		root  string
	}{
		{name: "slash in id", parts: []string{"streamToken", "u1/admin"}, root: "streamToken"},
		{name: "slash in root", parts: []string{"a/b", "c"}, root: "a/b"},
		{name: "percent in id", parts: []string{"friends", "100%"}, root: "friends"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key := NewKey(tt.parts...)
			assert.Equal(t, tt.root, key.Root())
			assert.Equal(t, tt.parts, key.Parts())
		})
	}

	assert.NotEqual(t, NewKey("streamToken", "u1/admin"), NewKey("streamToken", "u1", "admin"))
}

func TestStoreWriteReplacesEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := mocks.NewMockClock(t)
	clock.EXPECT().Now().Return(now)
	store := NewStore(WithClock(clock))
	t.Cleanup(store.Close)

	key := NewKey("friends")
	assert.False(t, store.Read(key).Present)

	first := store.Write(key, []string{"a"})
	second := store.Write(key, []string{"b"})

	snap := store.Read(key)
	require.True(t, snap.Present)
	assert.Equal(t, []string{"b"}, snap.Entry.Value)
	assert.Equal(t, StateIdle, snap.Entry.State)
	assert.Equal(t, now, snap.Entry.LastUpdated)
	assert.Greater(t, second.Version, first.Version)
}

func TestStoreWriteIsConfinedToItsKey(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	store.Write("a", 1)
	other := store.Subscribe("b")
	<-other.C()

	store.Write("a", 2)
	store.Invalidate("a")

	assert.False(t, store.Read("b").Present)
	select {
	case snap := <-other.C():
		t.Fatalf("unexpected notification for b: %+v", snap)
	default:
	}
}

func TestSubscriptionCoalescesToLatest(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	sub := store.Subscribe("k")
	initial := <-sub.C()
	assert.False(t, initial.Present)

	store.Write("k", 1)
	store.Write("k", 2)
	store.Write("k", 3)

	got := <-sub.C()
	v, ok := Value[int](got)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	select {
	case extra := <-sub.C():
		t.Fatalf("expected a single coalesced notification, got extra %+v", extra)
	default:
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	sub := store.Subscribe("k")
	<-sub.C()
	sub.Close()
	sub.Close()

	store.Write("k", 1)
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestInvalidateWithoutSubscribersDefersToQuery(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	var calls atomic.Int32
	store.Register("friends", func(context.Context, Key) (any, error) {
		calls.Add(1)
		return []string{"server"}, nil
	})

	store.Write("friends", []string{"local"})
	store.Invalidate("friends")
	store.Invalidate("friends")

	snap := store.Read("friends")
	assert.True(t, snap.Entry.Stale)
	assert.Equal(t, []string{"local"}, snap.Entry.Value)
	assert.Zero(t, calls.Load())

	got, err := store.Query(context.Background(), "friends")
	require.NoError(t, err)
	assert.Equal(t, []string{"server"}, got.Entry.Value)
	assert.False(t, got.Entry.Stale)
	assert.EqualValues(t, 1, calls.Load())

	_, err = store.Query(context.Background(), "friends")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "fresh entry must not refetch")
}

func TestRepeatedInvalidationHasOneAuthoritativeRefetch(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	fetcher := newGatedFetcher()
	store.Register("friendRequests", fetcher.fetch)

	sub := store.Subscribe("friendRequests")
	defer sub.Close()

	store.Invalidate("friendRequests")
	waitStarted(t, fetcher)

	store.Invalidate("friendRequests")
	store.Invalidate("friendRequests")

	fetcher.release <- fetchResult{value: "outdated"}
	waitStarted(t, fetcher)
	fetcher.release <- fetchResult{value: "authoritative"}

	require.Eventually(t, func() bool {
		snap := store.Read("friendRequests")
		return snap.Present && !snap.Entry.Stale && snap.Entry.State == StateIdle
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "authoritative", store.Read("friendRequests").Entry.Value)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestWriteDuringFetchWins(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	fetcher := newGatedFetcher()
	store.Register("outgoing", fetcher.fetch)

	done := make(chan Snapshot, 1)
	go func() {
		snap, err := store.Query(context.Background(), "outgoing")
		assert.NoError(t, err)
		done <- snap
	}()
	waitStarted(t, fetcher)

	store.Write("outgoing", "optimistic")
	fetcher.release <- fetchResult{value: "server"}

	got := <-done
	assert.Equal(t, "optimistic", got.Entry.Value)
	assert.Equal(t, "optimistic", store.Read("outgoing").Entry.Value)
}

func TestConcurrentQueriesShareFetch(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	fetcher := newGatedFetcher()
	store.Register("recommended", fetcher.fetch)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Query(context.Background(), "recommended")
			assert.NoError(t, err)
		}()
	}
	waitStarted(t, fetcher)
	fetcher.release <- fetchResult{value: "users"}
	wg.Wait()

	assert.EqualValues(t, 1, fetcher.calls.Load())
	assert.Equal(t, "users", store.Read("recommended").Entry.Value)
}

func TestCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	fetcher := newGatedFetcher()
	store.Register("recommended", fetcher.fetch)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.Query(firstCtx, "recommended")
		firstErr <- err
	}()
	waitStarted(t, fetcher)

	secondErr := make(chan error, 1)
	go func() {
		_, err := store.Query(context.Background(), "recommended")
		secondErr <- err
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled query did not return")
	}

	fetcher.release <- fetchResult{value: "users"}
	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second query did not return")
	}

	assert.EqualValues(t, 1, fetcher.calls.Load())
	assert.Equal(t, "users", store.Read("recommended").Entry.Value)
}

func TestFetchErrorKeepsLastValue(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	boom := errors.New("backend down")
	store.Register("friends", func(context.Context, Key) (any, error) { return nil, boom })
	store.Write("friends", "cached")
	store.Invalidate("friends")

	_, err := store.Query(context.Background(), "friends")
	require.ErrorIs(t, err, boom)

	snap := store.Read("friends")
	assert.Equal(t, "cached", snap.Entry.Value)
	assert.Equal(t, StateError, snap.Entry.State)
	assert.ErrorIs(t, snap.Entry.Err, boom)
}

func TestQueryWithoutFetcher(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	_, err := store.Query(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNoFetcher)
}

func TestMutateAndReplace(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	store.Write("count", 1)

	before, after := store.Mutate("count", func(cur Snapshot) (any, bool) {
		v, _ := Value[int](cur)
		return v + 1, true
	})
	assert.Equal(t, 1, before.Entry.Value)
	assert.Equal(t, 2, after.Entry.Value)

	unchanged, same := store.Mutate("count", func(Snapshot) (any, bool) { return nil, false })
	assert.Equal(t, unchanged, same)

	restored := store.Replace("count", func(Snapshot) (Snapshot, bool) { return before, true })
	assert.Equal(t, before, restored)
	assert.Equal(t, before, store.Read("count"))

	store.Replace("count", func(Snapshot) (Snapshot, bool) { return Snapshot{}, true })
	assert.False(t, store.Read("count").Present)
}

func TestRemoveWhereDropsMatchingKeys(t *testing.T) {
	t.Parallel()

	store := NewStore()
	t.Cleanup(store.Close)

	store.Write(NewKey("streamToken", "u1"), "t1")
	store.Write(NewKey("streamToken", "u2"), "t2")
	store.Write(NewKey("friends"), "f")

	removed := store.RemoveWhere(func(k Key) bool { return k.Root() == "streamToken" })
	assert.Equal(t, 2, removed)
	assert.False(t, store.Read(NewKey("streamToken", "u1")).Present)
	assert.True(t, store.Read(NewKey("friends")).Present)

	assert.Equal(t, 1, store.Clear())
}

func TestCloseClosesSubscriptions(t *testing.T) {
	t.Parallel()

	store := NewStore()
	sub := store.Subscribe("k")
	<-sub.C()

	store.Close()
	store.Close()

	_, open := <-sub.C()
	assert.False(t, open)

	_, err := store.Query(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
}
