package application

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/realtime"
	"github.com/stretchr/testify/mock"
)

func mockAnyContext() interface{} {
	return mock.Anything
}

var (
	ada   = domain.Identity{ID: "u1", DisplayName: "Ada", Email: "ada@example.com", Onboarded: true}
	grace = domain.UserSummary{ID: "u2", FullName: "Grace"}
	linus = domain.UserSummary{ID: "u4", FullName: "Linus"}
	ken   = domain.UserSummary{ID: "u5", FullName: "Ken"}
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testClock() fixedClock {
	return fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// fakeBackend answers from its fields. Hooks, when set, replace the
// corresponding mutation call.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	loginResult  domain.LoginResult
	loginErr     error
	signupResult domain.LoginResult
	signupErr    error
	logoutErr    error
	me           domain.Identity
	meErr        error

	friends     []domain.UserSummary
	friendsErr  error
	recommended []domain.UserSummary
	outgoing    []domain.OutgoingRequest
	requests    domain.FriendRequests
	streamToken string

	onSend   func(ctx context.Context, to domain.UserID) error
	onAccept func(ctx context.Context, from domain.UserID) error
}

func (b *fakeBackend) called(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = map[string]int{}
	}
	b.calls[name]++
}

func (b *fakeBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) set(fn func(*fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) Login(context.Context, domain.Credentials) (domain.LoginResult, error) {
	b.called("Login")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginResult, b.loginErr
}

func (b *fakeBackend) Signup(context.Context, domain.SignupRequest) (domain.LoginResult, error) {
	b.called("Signup")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signupResult, b.signupErr
}

func (b *fakeBackend) Logout(context.Context) error {
	b.called("Logout")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logoutErr
}

func (b *fakeBackend) Me(context.Context) (domain.Identity, error) {
	b.called("Me")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.me, b.meErr
}

func (b *fakeBackend) Onboard(_ context.Context, profile domain.Profile) (domain.Identity, error) {
	b.called("Onboard")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.me.DisplayName = profile.FullName
	b.me.Location = profile.Location
	b.me.Onboarded = true
	return b.me, nil
}

func (b *fakeBackend) Friends(context.Context) ([]domain.UserSummary, error) {
	b.called("Friends")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.friendsErr != nil {
		return nil, b.friendsErr
	}
	return b.friends, nil
}

func (b *fakeBackend) Recommended(context.Context) ([]domain.UserSummary, error) {
	b.called("Recommended")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recommended, nil
}

func (b *fakeBackend) OutgoingRequests(context.Context) ([]domain.OutgoingRequest, error) {
	b.called("OutgoingRequests")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outgoing, nil
}

func (b *fakeBackend) FriendRequests(context.Context) (domain.FriendRequests, error) {
	b.called("FriendRequests")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests.Clone(), nil
}

func (b *fakeBackend) SendFriendRequest(ctx context.Context, to domain.UserID) error {
	b.called("SendFriendRequest")
	if b.onSend != nil {
		return b.onSend(ctx, to)
	}
	return nil
}

func (b *fakeBackend) AcceptFriendRequest(ctx context.Context, from domain.UserID) error {
	b.called("AcceptFriendRequest")
	if b.onAccept != nil {
		return b.onAccept(ctx, from)
	}
	return nil
}

func (b *fakeBackend) StreamToken(context.Context) (string, error) {
	b.called("StreamToken")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamToken, nil
}

type memState struct {
	mu    sync.Mutex
	state *domain.ClientState
}

func (m *memState) Load(context.Context) (domain.ClientState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.ClientState{}, domain.ErrNotFound
	}
	return *m.state, nil
}

func (m *memState) Save(_ context.Context, state domain.ClientState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *memState) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

type memSecrets struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memSecrets) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memSecrets) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func (m *memSecrets) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.values, key)
	return nil
}

func (m *memSecrets) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		out = append(out, k)
	}
	return out
}

// fakeConnector hands out links that record what was sent through them.
type fakeConnector struct {
	feature domain.Feature
	err     error

	mu     sync.Mutex
	links  []*fakeLink
	tokens []string
}

func (c *fakeConnector) Feature() domain.Feature { return c.feature }

func (c *fakeConnector) Connect(_ context.Context, identity domain.Identity, token string, resource realtime.Resource) (realtime.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	if c.err != nil {
		return nil, c.err
	}
	link := &fakeLink{identity: identity.ID, resource: resource, events: make(chan realtime.Event)}
	c.links = append(c.links, link)
	return link, nil
}

func (c *fakeConnector) last() *fakeLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}

type fakeLink struct {
	identity domain.UserID
	resource realtime.Resource
	events   chan realtime.Event

	mu     sync.Mutex
	sent   []string
	closed bool
}

func (l *fakeLink) Send(_ context.Context, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, text)
	return nil
}

func (l *fakeLink) Events() <-chan realtime.Event { return l.events }

func (l *fakeLink) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

func (l *fakeLink) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type testEnv struct {
	rt      *Runtime
	backend *fakeBackend
	state   *memState
	secrets *memSecrets
	auth    *AuthService
	friends *FriendsService
	chat    *ChatService
	chatC   *fakeConnector
	videoC  *fakeConnector
}

func newTestEnv(backend *fakeBackend) *testEnv {
	chatC := &fakeConnector{feature: domain.FeatureChat}
	videoC := &fakeConnector{feature: domain.FeatureVideo}
	clock := testClock()
	rt := NewRuntime(RuntimeConfig{
		Backend:    backend,
		Connectors: []realtime.Connector{chatC, videoC},
		Clock:      clock,
	})
	state := &memState{}
	secrets := &memSecrets{}
	auth := NewAuthService(rt, backend, state, secrets, clock)
	return &testEnv{
		rt:      rt,
		backend: backend,
		state:   state,
		secrets: secrets,
		auth:    auth,
		friends: NewFriendsService(rt, backend),
		chat:    NewChatService(rt, auth, "https://homiez.example"),
		chatC:   chatC,
		videoC:  videoC,
	}
}

// loggedIn stores credentials for ada as if a login had happened earlier.
func (e *testEnv) loggedIn(identity domain.Identity) {
	ref := TokenRef(identity.ID)
	_ = e.secrets.Put(context.Background(), ref, "bearer-"+string(identity.ID))
	_ = e.state.Save(context.Background(), domain.ClientState{Identity: identity, TokenRef: ref})
	e.backend.set(func(b *fakeBackend) { b.me = identity })
}
