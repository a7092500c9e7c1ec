package cache

import "sync"

// Subscription delivers the latest Snapshot of one key. The channel holds at
// most one value: a write that finds it full replaces the undelivered
// snapshot, so a slow reader only ever sees the newest state.
type Subscription struct {
	key   Key
	ch    chan Snapshot
	store *Store
	once  sync.Once
}

func (s *Subscription) Key() Key { return s.key }

// C is closed when the subscription is closed or the store shuts down.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.store.unsubscribe(s)
	})
}

// offer must be called with the owning slot locked.
func (s *Subscription) offer(snap Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
