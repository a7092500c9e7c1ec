package mutation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bnema/homiez-cli/internal/cache"
	"github.com/bnema/homiez-cli/internal/metrics"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/oklog/ulid/v2"
)

var ErrInvalidMutation = errors.New("invalid mutation")

// Mutation describes an optimistic change to one cache key.
type Mutation struct {
	// ID is generated when empty.
	ID     string
	Target cache.Key
	// Apply predicts the server's effect on the current value. It is not
	// called when the target is absent; returning ok=false skips the
	// optimistic write.
	Apply func(current any) (next any, ok bool)
	// Revert undoes only this mutation's effect on a value that a later write
	// has since changed. Without it, a superseded mutation restores its
	// snapshot as is.
	Revert func(current any) any
	// Dependents are invalidated together with Target on success.
	Dependents []cache.Key
}

// Pending is the bookkeeping for one in-flight mutation.
type Pending struct {
	ID       string
	Target   cache.Key
	Snapshot cache.Snapshot
	Applied  cache.Snapshot
	Wrote    bool
}

// Call is the network request the mutation stands for.
type Call func(ctx context.Context) error

type Coordinator struct {
	store   *cache.Store
	clock   ports.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder

	// pending holds the latest mutation per target key.
	pending sync.Map

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewCoordinator(store *cache.Store, clock ports.Clock, logger *slog.Logger, recorder *metrics.Recorder) *Coordinator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: recorder,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (c *Coordinator) NewID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(c.clock.Now()), c.entropy).String()
}

// PendingFor returns the most recent unsettled mutation against key.
func (c *Coordinator) PendingFor(key cache.Key) (Pending, bool) {
	v, ok := c.pending.Load(key)
	if !ok {
		return Pending{}, false
	}
	return *v.(*Pending), true
}

// Run applies m optimistically, waits for call and then reconciles: on
// success the target and dependents are invalidated, on failure the target is
// rolled back and the call error is returned. Run never retries.
func (c *Coordinator) Run(ctx context.Context, m Mutation, call Call) error {
	if m.Target == "" || m.Apply == nil || call == nil {
		return fmt.Errorf("run mutation: %w", ErrInvalidMutation)
	}
	if m.ID == "" {
		m.ID = c.NewID()
	}

	p := c.apply(m)
	c.pending.Store(m.Target, p)
	defer c.pending.CompareAndDelete(m.Target, p)

	if err := call(ctx); err != nil {
		c.rollback(m, p)
		return fmt.Errorf("mutation %s on %s: %w", m.ID, m.Target, err)
	}

	c.store.Invalidate(m.Target)
	for _, dep := range m.Dependents {
		c.store.Invalidate(dep)
	}
	c.metrics.Mutation("committed")
	c.logger.Debug("optimistic mutation committed", "mutation", m.ID, "key", m.Target, "dependents", len(m.Dependents))
	return nil
}

func (c *Coordinator) apply(m Mutation) *Pending {
	p := &Pending{ID: m.ID, Target: m.Target}

	before, after := c.store.Mutate(m.Target, func(current cache.Snapshot) (any, bool) {
		if !current.Present {
			return nil, false
		}
		return m.Apply(current.Entry.Value)
	})
	p.Snapshot = before
	p.Applied = after
	p.Wrote = after.Present && after.Entry.Version != before.Entry.Version

	if p.Wrote {
		c.metrics.Mutation("applied")
		c.logger.Debug("optimistic mutation applied", "mutation", m.ID, "key", m.Target, "version", after.Entry.Version)
	} else {
		c.logger.Debug("optimistic mutation skipped local write", "mutation", m.ID, "key", m.Target)
	}
	return p
}

func (c *Coordinator) rollback(m Mutation, p *Pending) {
	if !p.Wrote {
		c.logger.Debug("optimistic mutation failed without local write", "mutation", m.ID, "key", m.Target)
		return
	}

	c.store.Replace(m.Target, func(current cache.Snapshot) (cache.Snapshot, bool) {
		superseded := !current.Present || current.Entry.Version != p.Applied.Entry.Version
		if superseded && m.Revert != nil && current.Present {
			c.logger.Debug("optimistic mutation reverted on superseded value", "mutation", m.ID, "key", m.Target)
			return cache.Snapshot{
				Present: true,
				Entry:   cache.Entry{Value: m.Revert(current.Entry.Value), State: cache.StateIdle},
			}, true
		}
		c.logger.Debug("optimistic mutation rolled back", "mutation", m.ID, "key", m.Target, "superseded", superseded)
		return p.Snapshot, true
	})
	c.metrics.Mutation("rolled_back")
}
