package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bnema/homiez-cli/internal/metrics"
	"github.com/bnema/homiez-cli/internal/ports"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoFetcher = errors.New("no fetcher registered for key")
	ErrClosed    = errors.New("cache store closed")
)

// Fetcher loads the authoritative value for a key.
type Fetcher func(ctx context.Context, key Key) (any, error)

// Store maps keys to entries. Each key has its own lock; operations on
// different keys never wait on each other.
type Store struct {
	slots    sync.Map // Key -> *slot
	fetchers sync.Map // root -> Fetcher

	group   singleflight.Group
	version atomic.Uint64

	clock   ports.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type slot struct {
	mu      sync.Mutex
	snap    Snapshot
	gen     uint64
	dirty   bool
	subs    map[*Subscription]struct{}
	running bool
}

type Option func(*Store)

func WithClock(clock ports.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = recorder }
}

func NewStore(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		clock:  ports.SystemClock{},
		logger: slog.New(slog.DiscardHandler),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register sets the fetcher for every key whose Root is root.
func (s *Store) Register(root string, fetcher Fetcher) {
	s.fetchers.Store(root, fetcher)
}

func (s *Store) slot(key Key) *slot {
	if existing, ok := s.slots.Load(key); ok {
		return existing.(*slot)
	}
	created := &slot{snap: absent(key)}
	actual, _ := s.slots.LoadOrStore(key, created)
	return actual.(*slot)
}

// Read returns the last known entry without blocking on any fetch.
func (s *Store) Read(key Key) Snapshot {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.snap
}

// Write replaces the entry for key and notifies subscribers before returning.
func (s *Store) Write(key Key, value any) Entry {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	entry := s.newEntry(key, value)
	s.commit(sl, Snapshot{Entry: entry, Present: true})
	return entry
}

// Mutate runs fn against the current snapshot and, when fn reports a change,
// writes its value as a fresh entry. Reading and writing happen under the
// key's lock, so no other write can slip in between.
func (s *Store) Mutate(key Key, fn func(current Snapshot) (next any, changed bool)) (before Snapshot, after Snapshot) {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	before = sl.snap
	next, changed := fn(before)
	if !changed {
		return before, before
	}
	after = Snapshot{Entry: s.newEntry(key, next), Present: true}
	s.commit(sl, after)
	return before, after
}

// Replace installs whatever snapshot fn returns, verbatim. An absent result
// removes the entry. A present result with a zero Version is stamped as a new
// write.
func (s *Store) Replace(key Key, fn func(current Snapshot) (next Snapshot, changed bool)) Snapshot {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next, changed := fn(sl.snap)
	if !changed {
		return sl.snap
	}
	if !next.Present {
		next = absent(key)
	} else {
		next.Entry.Key = key
		if next.Entry.Version == 0 {
			next.Entry.Version = s.version.Add(1)
			next.Entry.LastUpdated = s.clock.Now()
		}
	}
	s.commit(sl, next)
	return next
}

// Remove drops the entry for key, leaving it absent.
func (s *Store) Remove(key Key) {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.snap.Present {
		return
	}
	s.commit(sl, absent(key))
}

// RemoveWhere drops every entry whose key matches.
func (s *Store) RemoveWhere(match func(Key) bool) int {
	removed := 0
	s.slots.Range(func(k, v any) bool {
		key := k.(Key)
		if !match(key) {
			return true
		}
		sl := v.(*slot)
		sl.mu.Lock()
		if sl.snap.Present {
			s.commit(sl, absent(key))
			removed++
		}
		sl.mu.Unlock()
		return true
	})
	return removed
}

func (s *Store) Clear() int {
	return s.RemoveWhere(func(Key) bool { return true })
}

// Invalidate marks the entry stale. Keys with subscribers are refetched in
// the background; others are refetched by the next Query. Invalidating again
// while a refetch is running makes that refetch start over, so only the last
// one commits.
func (s *Store) Invalidate(key Key) {
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.gen++
	sl.dirty = true
	if sl.snap.Present {
		sl.snap.Entry.Stale = true
		s.notify(sl)
	}
	if len(sl.subs) == 0 || sl.running || s.closed.Load() {
		return
	}
	if _, ok := s.fetcher(key); !ok {
		return
	}
	sl.running = true
	s.wg.Add(1)
	go s.refresh(key, sl)
}

func (s *Store) refresh(key Key, sl *slot) {
	defer s.wg.Done()
	for {
		if _, err := s.load(s.ctx, key, true); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("background refetch failed", "key", key, "error", err)
		}

		sl.mu.Lock()
		again := sl.dirty && len(sl.subs) > 0 && s.ctx.Err() == nil
		if !again {
			sl.running = false
		}
		sl.mu.Unlock()
		if !again {
			return
		}
	}
}

// Query returns a fresh entry, fetching it when the key is absent, stale or
// failed. Concurrent queries for one key share a single fetch.
func (s *Store) Query(ctx context.Context, key Key) (Snapshot, error) {
	if current := s.Read(key); fresh(current) {
		return current, nil
	}
	return s.load(ctx, key, false)
}

func fresh(snap Snapshot) bool {
	return snap.Present && !snap.Entry.Stale && snap.Entry.State == StateIdle
}

func (s *Store) load(ctx context.Context, key Key, force bool) (Snapshot, error) {
	if s.closed.Load() {
		return Snapshot{}, ErrClosed
	}
	// The shared fetch outlives any single caller; only Close stops it.
	ch := s.group.DoChan(string(key), func() (any, error) {
		// A fetch that finished between the caller's read and this call
		// already produced what the caller wants.
		if current := s.Read(key); !force && fresh(current) {
			return current, nil
		}
		fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()
		return s.fetch(fetchCtx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return s.Read(key), res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return s.Read(key), ctx.Err()
	}
}

func (s *Store) fetch(ctx context.Context, key Key) (Snapshot, error) {
	fetcher, ok := s.fetcher(key)
	if !ok {
		return Snapshot{}, fmt.Errorf("fetch %s: %w", key, ErrNoFetcher)
	}
	sl := s.slot(key)

	for {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		sl.mu.Lock()
		gen := sl.gen
		if sl.snap.Present && sl.snap.Entry.State != StateLoading {
			sl.snap.Entry.State = StateLoading
			s.notify(sl)
		}
		sl.mu.Unlock()

		value, err := fetcher(ctx, key)

		sl.mu.Lock()
		if sl.gen != gen {
			// Written or invalidated while the fetch was out. A later write
			// wins over this result; a later invalidation asks for another
			// round.
			again := sl.dirty
			current := sl.snap
			sl.mu.Unlock()
			s.metrics.Refetch("discarded")
			if again {
				continue
			}
			return current, nil
		}

		if err != nil {
			sl.dirty = false
			if sl.snap.Present {
				sl.snap.Entry.State = StateError
				sl.snap.Entry.Err = err
				s.notify(sl)
			}
			sl.mu.Unlock()
			s.metrics.Refetch("error")
			return Snapshot{}, fmt.Errorf("fetch %s: %w", key, err)
		}

		next := Snapshot{Entry: s.newEntry(key, value), Present: true}
		s.commit(sl, next)
		sl.mu.Unlock()
		s.metrics.Refetch("ok")
		return next, nil
	}
}

func (s *Store) fetcher(key Key) (Fetcher, bool) {
	f, ok := s.fetchers.Load(key.Root())
	if !ok {
		return nil, false
	}
	return f.(Fetcher), true
}

// Subscribe returns a subscription primed with the current snapshot.
func (s *Store) Subscribe(key Key) *Subscription {
	sub := &Subscription{key: key, ch: make(chan Snapshot, 1), store: s}
	sl := s.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if s.closed.Load() {
		close(sub.ch)
		return sub
	}
	if sl.subs == nil {
		sl.subs = make(map[*Subscription]struct{})
	}
	sl.subs[sub] = struct{}{}
	sub.offer(sl.snap)
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	sl := s.slot(sub.key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if _, ok := sl.subs[sub]; ok {
		delete(sl.subs, sub)
		close(sub.ch)
	}
}

// Close stops background refetches and closes every subscription.
func (s *Store) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()

	var subs []*Subscription
	s.slots.Range(func(_, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		for sub := range sl.subs {
			subs = append(subs, sub)
		}
		sl.mu.Unlock()
		return true
	})
	for _, sub := range subs {
		sub.Close()
	}
}

func (s *Store) newEntry(key Key, value any) Entry {
	return Entry{
		Key:         key,
		Value:       value,
		State:       StateIdle,
		LastUpdated: s.clock.Now(),
		Version:     s.version.Add(1),
	}
}

// commit and notify expect sl.mu to be held.
func (s *Store) commit(sl *slot, next Snapshot) {
	sl.snap = next
	sl.gen++
	sl.dirty = false
	s.notify(sl)
}

func (s *Store) notify(sl *slot) {
	for sub := range sl.subs {
		sub.offer(sl.snap)
	}
}
