package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) { return s.token, s.err }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Client{
		BaseURL:    server.URL + "/api",
		HTTPClient: server.Client(),
		Tokens:     staticTokens{token: "bearer-123"},
	}
}

func TestLoginPostsCredentialsWithoutBearer(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["email"])
		assert.Equal(t, "secret", body["password"])

		_, _ = w.Write([]byte(`{"token":"jwt-1","user":{"_id":"u1","fullname":"Ada","email":"ada@example.com","isOnboarded":true}}`))
	})

	result, err := client.Login(context.Background(), domain.Credentials{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", result.Token)
	assert.Equal(t, domain.UserID("u1"), result.Identity.ID)
	assert.Equal(t, "Ada", result.Identity.DisplayName)
	assert.True(t, result.Identity.Onboarded)
}

func TestLoginRejectsMissingFields(t *testing.T) {
	t.Parallel()

	client := &Client{BaseURL: "http://127.0.0.1:1"}
	_, err := client.Login(context.Background(), domain.Credentials{Email: " "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestMeAttachesBearerAndHandlesMissingUser(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		assert.Equal(t, "Bearer bearer-123", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"user":{"_id":"u1","fullname":"Ada"}}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	identity, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), identity.ID)

	identity, err = client.Me(context.Background())
	require.NoError(t, err)
	assert.True(t, identity.IsZero())
}

func TestRequestsGoOutWithoutBearerWhenTokenIsMissing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := &Client{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Tokens:     staticTokens{err: domain.ErrNotFound},
	}
	_, err := client.Me(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTokenSourceFailureStopsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(server.Close)

	boom := errors.New("keyring locked")
	client := &Client{BaseURL: server.URL, HTTPClient: server.Client(), Tokens: staticTokens{err: boom}}

	_, err := client.Friends(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, calls.Load())
}

func TestFriendGraphQueriesDecodePayloads(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/user/friends":
			_, _ = w.Write([]byte(`[{"_id":"f1","fullname":"Grace","location":"NYC"}]`))
		case "/api/user":
			_, _ = w.Write([]byte(`[{"_id":"r1","fullname":"Linus","bio":"kernels"},{"_id":"r2","fullname":"Ken"}]`))
		case "/api/user/outgoingFriendRequests":
			_, _ = w.Write([]byte(`[{"_id":"o1","receiver":{"_id":"r2","fullname":"Ken"}}]`))
		case "/api/user/getFriendRequests":
			_, _ = w.Write([]byte(`{"pending":[{"_id":"p1","sender":{"_id":"s1","fullname":"Barbara"}}],"accepted":[{"_id":"a1","sender":{"_id":"s2","fullname":"Edsger"}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	friends, err := client.Friends(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserSummary{{ID: "f1", FullName: "Grace", Location: "NYC"}}, friends)

	recommended, err := client.Recommended(ctx)
	require.NoError(t, err)
	require.Len(t, recommended, 2)
	assert.Equal(t, "kernels", recommended[0].Bio)

	outgoing, err := client.OutgoingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.OutgoingRequest{{ID: "o1", Receiver: domain.UserSummary{ID: "r2", FullName: "Ken"}}}, outgoing)

	requests, err := client.FriendRequests(ctx)
	require.NoError(t, err)
	require.Len(t, requests.Pending, 1)
	require.Len(t, requests.Accepted, 1)
	assert.Equal(t, domain.UserID("s1"), requests.Pending[0].Sender.ID)
	assert.Equal(t, domain.RequestPending, requests.Pending[0].Direction)
	assert.Equal(t, domain.RequestAccepted, requests.Accepted[0].Direction)
}

func TestFriendRequestMutationsUseExpectedRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		call   func(*Client) error
		method string
		path   string
	}{
		{
			name:   "send",
			call:   func(c *Client) error { return c.SendFriendRequest(context.Background(), "u 2") },
			method: http.MethodPost,
			path:   "/api/user/addfriend/u 2",
		},
		{
			name:   "accept",
			call:   func(c *Client) error { return c.AcceptFriendRequest(context.Background(), "s1") },
			method: http.MethodPut,
			path:   "/api/user/acceptfriend/s1/accept",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.method, r.Method)
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, "Bearer bearer-123", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(`{"message":"ok"}`))
			})
			require.NoError(t, tt.call(client))
		})
	}
}

func TestFailuresMapToDomainErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantIs     error
		wantStatus int
		wantText   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantIs: domain.ErrUnauthenticated},
		{name: "server message", status: http.StatusBadRequest, body: `{"message":"already friends"}`, wantIs: domain.ErrNetwork, wantStatus: http.StatusBadRequest, wantText: "already friends"},
		{name: "no body", status: http.StatusBadGateway, wantIs: domain.ErrNetwork, wantStatus: http.StatusBadGateway, wantText: "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := client.SendFriendRequest(context.Background(), "u2")
			require.ErrorIs(t, err, tt.wantIs)
			if tt.wantStatus != 0 {
				var netErr *domain.NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.Equal(t, tt.wantStatus, netErr.Status)
				assert.Contains(t, err.Error(), tt.wantText)
			}
		})
	}
}

func TestStreamTokenRequiresToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/token", r.URL.Path)
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"token":"stream-1"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	token, err := client.StreamToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stream-1", token)

	_, err = client.StreamToken(context.Background())
	require.ErrorIs(t, err, domain.ErrNetwork)
}

func TestRequestTimesOutWithoutCallerDeadline(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)

	client := &Client{BaseURL: server.URL, HTTPClient: server.Client(), RequestTimeout: 20 * time.Millisecond}
	_, err := client.Recommended(context.Background())
	require.ErrorIs(t, err, domain.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildAPIURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr string
	}{
		{name: "keeps base path", base: "https://homiez.test/api", path: "/user/friends", want: "https://homiez.test/api/user/friends"},
		{name: "trailing slash", base: "https://homiez.test/api/", path: "user", want: "https://homiez.test/api/user"},
		{name: "empty base", base: "", path: "/user", wantErr: "base url is required"},
		{name: "bad scheme", base: "ftp://homiez.test", path: "/user", wantErr: "http or https"},
		{name: "no host", base: "https://", path: "/user", wantErr: "host is required"},
		{name: "empty path", base: "https://homiez.test", path: "", wantErr: "path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := buildAPIURL(tt.base, tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
