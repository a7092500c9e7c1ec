package realtime

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/metrics"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/oklog/ulid/v2"
)

// Manager keeps at most one live session per Slot. Opening a slot tears down
// whatever the slot held before, and an open that loses a race against a
// newer open or close releases its connection instead of publishing it.
type Manager struct {
	tokens     TokenSource
	connectors map[domain.Feature]Connector
	clock      ports.Clock
	logger     *slog.Logger
	metrics    *metrics.Recorder

	slots  sync.Map // Slot -> *slotState
	closed atomic.Bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

type slotState struct {
	mu      sync.Mutex
	gen     uint64
	active  *Session
	attempt *attempt
}

type attempt struct {
	identity domain.UserID
	cancel   context.CancelFunc
	done     chan struct{}
}

type ManagerOption func(*Manager)

func WithClock(clock ports.Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) ManagerOption {
	return func(m *Manager) { m.metrics = recorder }
}

func NewManager(tokens TokenSource, connectors []Connector, opts ...ManagerOption) *Manager {
	m := &Manager{
		tokens:     tokens,
		connectors: make(map[domain.Feature]Connector, len(connectors)),
		clock:      ports.SystemClock{},
		logger:     slog.New(slog.DiscardHandler),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	for _, c := range connectors {
		m.connectors[c.Feature()] = c
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) state(slot Slot) *slotState {
	if existing, ok := m.slots.Load(slot); ok {
		return existing.(*slotState)
	}
	actual, _ := m.slots.LoadOrStore(slot, &slotState{})
	return actual.(*slotState)
}

func (m *Manager) newID() string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.clock.Now()), m.entropy).String()
}

// Current returns the session the slot holds, which may be failed.
func (m *Manager) Current(slot Slot) (*Session, bool) {
	st := m.state(slot)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active, st.active != nil
}

// Open replaces whatever slot holds with a session for resource under
// identity. The previous session is fully closed before the new connection
// is attempted. On failure no connection created by this call stays open.
//
// An open that is overtaken by a newer Open or Close on the same slot
// returns an error wrapping domain.ErrStaleSlot.
func (m *Manager) Open(ctx context.Context, slot Slot, identity domain.Identity, resource Resource) (*Session, error) {
	connector, ok := m.connectors[slot.Feature]
	if !ok {
		return nil, fmt.Errorf("open %s: no connector for feature %q", slot, slot.Feature)
	}

	st := m.state(slot)
	st.mu.Lock()
	if m.closed.Load() {
		st.mu.Unlock()
		return nil, fmt.Errorf("open %s: %w", slot, domain.ErrManagerClosed)
	}
	st.gen++
	gen := st.gen
	prevAttempt, prevActive := st.attempt, st.active
	st.active = nil

	attemptCtx, cancel := context.WithCancel(ctx)
	own := &attempt{identity: identity.ID, cancel: cancel, done: make(chan struct{})}
	st.attempt = own
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		if st.attempt == own {
			st.attempt = nil
		}
		st.mu.Unlock()
		cancel()
		close(own.done)
	}()

	if err := m.teardown(ctx, prevAttempt, prevActive); err != nil {
		return nil, fmt.Errorf("open %s: %w", slot, err)
	}
	if m.stale(st, gen) {
		return nil, m.discarded(slot, resource, nil)
	}

	sess := newSession(m.newID(), slot, identity.ID, resource, m.clock.Now())
	sess.transition(domain.SessionConnecting)
	m.logger.Debug("realtime session connecting", "slot", slot.String(), "session", sess.ID, "resource", resource.ID)

	link, err := m.connect(attemptCtx, connector, identity, resource)
	if err != nil {
		if m.stale(st, gen) {
			return nil, m.discarded(slot, resource, err)
		}
		kind := domain.ErrConnection
		if errors.Is(err, domain.ErrJoin) {
			kind = domain.ErrJoin
		}
		failure := domain.NewSessionError(kind, slot.Feature, resource.ID, err)
		sess.fail(failure)

		st.mu.Lock()
		if st.gen == gen {
			st.active = sess
		}
		st.mu.Unlock()

		m.metrics.Session(string(slot.Feature), "failed")
		m.logger.Debug("realtime session failed", "slot", slot.String(), "session", sess.ID, "error", err)
		return nil, failure
	}

	st.mu.Lock()
	if st.gen != gen || m.closed.Load() {
		st.mu.Unlock()
		m.release(slot, link)
		return nil, m.discarded(slot, resource, nil)
	}
	sess.markReady(link)
	st.active = sess
	st.mu.Unlock()

	m.metrics.Session(string(slot.Feature), "ready")
	m.logger.Debug("realtime session ready", "slot", slot.String(), "session", sess.ID, "resource", resource.ID)
	return sess, nil
}

func (m *Manager) connect(ctx context.Context, connector Connector, identity domain.Identity, resource Resource) (Link, error) {
	if identity.IsZero() {
		return nil, domain.ErrUnauthenticated
	}
	if m.tokens == nil {
		return nil, ErrTokenMissing
	}
	token, err := m.tokens.Token(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("get realtime token: %w", err)
	}
	if err := CheckToken(token, m.clock.Now()); err != nil {
		return nil, err
	}
	link, err := connector.Connect(ctx, identity, token, resource)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (m *Manager) stale(st *slotState, gen uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen != gen || m.closed.Load()
}

func (m *Manager) discarded(slot Slot, resource Resource, cause error) error {
	m.metrics.Session(string(slot.Feature), "discarded")
	m.logger.Debug("realtime open discarded", "slot", slot.String(), "resource", resource.ID)
	return domain.NewSessionError(domain.ErrStaleSlot, slot.Feature, resource.ID, cause)
}

// teardown waits for an in-flight open to give up and closes the session the
// slot held, in that order. The session is no longer reachable from the slot,
// so it is closed even when ctx ends the wait early.
func (m *Manager) teardown(ctx context.Context, prev *attempt, active *Session) error {
	var err error
	if prev != nil {
		prev.cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if active != nil {
		closeCtx := ctx
		if err != nil {
			closeCtx = context.WithoutCancel(ctx)
		}
		m.closeSession(closeCtx, active)
	}
	return err
}

func (m *Manager) closeSession(ctx context.Context, sess *Session) {
	link, ok := sess.close()
	if !ok {
		return
	}
	m.metrics.Session(string(sess.Slot.Feature), "closed")
	m.logger.Debug("realtime session closed", "slot", sess.Slot.String(), "session", sess.ID)
	if link == nil {
		return
	}
	if err := link.Close(ctx); err != nil {
		m.logger.Warn("realtime session teardown failed", "slot", sess.Slot.String(), "session", sess.ID, "error", err)
	}
}

func (m *Manager) release(slot Slot, link Link) {
	if err := link.Close(context.Background()); err != nil {
		m.logger.Warn("release discarded realtime link", "slot", slot.String(), "error", err)
	}
}

// Close tears down the slot: an in-flight open is abandoned and the current
// session is closed. It returns once both are done.
func (m *Manager) Close(ctx context.Context, slot Slot) error {
	st := m.state(slot)
	st.mu.Lock()
	st.gen++
	prevAttempt, prevActive := st.attempt, st.active
	st.active = nil
	st.mu.Unlock()

	if err := m.teardown(ctx, prevAttempt, prevActive); err != nil {
		return fmt.Errorf("close %s: %w", slot, err)
	}
	return nil
}

// Send posts text through a session. It fails with domain.ErrNotReady unless
// the session is ready.
func (m *Manager) Send(ctx context.Context, sess *Session, text string) error {
	if sess == nil {
		return domain.NewSessionError(domain.ErrNotReady, "", "", errors.New("no session"))
	}
	if err := sess.send(ctx, text); err != nil {
		return fmt.Errorf("send on %s: %w", sess.Slot, err)
	}
	return nil
}

// Rebind closes every slot whose session or in-flight open belongs to an
// identity other than identity. A zero identity closes everything.
func (m *Manager) Rebind(ctx context.Context, identity domain.Identity) error {
	var errs []error
	for _, slot := range m.slotList() {
		st := m.state(slot)
		st.mu.Lock()
		foreign := st.active != nil && st.active.IdentityID != identity.ID ||
			st.attempt != nil && st.attempt.identity != identity.ID
		st.mu.Unlock()
		if !foreign {
			continue
		}
		m.logger.Debug("identity changed, closing realtime slot", "slot", slot.String())
		if err := m.Close(ctx, slot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown closes every slot and refuses later opens.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	var errs []error
	for _, slot := range m.slotList() {
		if err := m.Close(ctx, slot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) slotList() []Slot {
	var out []Slot
	m.slots.Range(func(k, _ any) bool {
		out = append(out, k.(Slot))
		return true
	})
	return out
}
