package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/google/uuid"
)

const maxResponseBytes = 1 << 20

// Client talks to the backend's JSON API. It implements ports.Backend.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// Tokens supplies the bearer token. Requests go out without one when
	// Tokens is nil or reports domain.ErrNotFound.
	Tokens ports.TokenSource
}

var _ ports.Backend = (*Client)(nil)

type userPayload struct {
	ID             string `json:"_id"`
	FullName       string `json:"fullname"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Bio            string `json:"bio,omitempty"`
	Location       string `json:"location,omitempty"`
	IsOnboarded    bool   `json:"isOnboarded,omitempty"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *userPayload `json:"user"`
}

type requestRecord struct {
	ID       string       `json:"_id"`
	Sender   *userPayload `json:"sender,omitempty"`
	Receiver *userPayload `json:"receiver,omitempty"`
}

type friendRequestsResponse struct {
	Pending  []requestRecord `json:"pending"`
	Accepted []requestRecord `json:"accepted"`
}

type onboardRequest struct {
	FullName       string `json:"fullname"`
	Bio            string `json:"bio"`
	Location       string `json:"location"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error) {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return domain.LoginResult{}, errors.New("email and password are required")
	}
	body := map[string]string{"email": creds.Email, "password": creds.Password}

	var payload authResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", false, body, &payload); err != nil {
		return domain.LoginResult{}, err
	}
	if payload.Token == "" {
		return domain.LoginResult{}, &domain.NetworkError{Op: "login", Err: errors.New("response missing token")}
	}
	return domain.LoginResult{Token: payload.Token, Identity: payload.User.identity()}, nil
}

func (c *Client) Signup(ctx context.Context, req domain.SignupRequest) (domain.LoginResult, error) {
	if strings.TrimSpace(req.FullName) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return domain.LoginResult{}, errors.New("full name, email and password are required")
	}
	body := map[string]string{"fullname": req.FullName, "email": req.Email, "password": req.Password}

	var payload authResponse
	if err := c.do(ctx, "signup", http.MethodPost, "/auth/signup", false, body, &payload); err != nil {
		return domain.LoginResult{}, err
	}
	return domain.LoginResult{Token: payload.Token, Identity: payload.User.identity()}, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, "/auth/logout", true, nil, nil)
}

// Me returns the zero Identity when the backend answers without a user.
func (c *Client) Me(ctx context.Context) (domain.Identity, error) {
	var payload authResponse
	if err := c.do(ctx, "get current user", http.MethodGet, "/auth/me", true, nil, &payload); err != nil {
		return domain.Identity{}, err
	}
	return payload.User.identity(), nil
}

func (c *Client) Onboard(ctx context.Context, profile domain.Profile) (domain.Identity, error) {
	body := onboardRequest{
		FullName:       profile.FullName,
		Bio:            profile.Bio,
		Location:       profile.Location,
		ProfilePicture: profile.AvatarURL,
	}
	var payload authResponse
	if err := c.do(ctx, "onboard", http.MethodPost, "/auth/onboarding", true, body, &payload); err != nil {
		return domain.Identity{}, err
	}
	return payload.User.identity(), nil
}

func (c *Client) Friends(ctx context.Context) ([]domain.UserSummary, error) {
	var payload []userPayload
	if err := c.do(ctx, "list friends", http.MethodGet, "/user/friends", true, nil, &payload); err != nil {
		return nil, err
	}
	return summaries(payload), nil
}

func (c *Client) Recommended(ctx context.Context) ([]domain.UserSummary, error) {
	var payload []userPayload
	if err := c.do(ctx, "list recommended users", http.MethodGet, "/user", true, nil, &payload); err != nil {
		return nil, err
	}
	return summaries(payload), nil
}

func (c *Client) OutgoingRequests(ctx context.Context) ([]domain.OutgoingRequest, error) {
	var payload []requestRecord
	if err := c.do(ctx, "list outgoing requests", http.MethodGet, "/user/outgoingFriendRequests", true, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.OutgoingRequest, 0, len(payload))
	for _, rec := range payload {
		out = append(out, domain.OutgoingRequest{ID: rec.ID, Receiver: rec.Receiver.summary()})
	}
	return out, nil
}

func (c *Client) FriendRequests(ctx context.Context) (domain.FriendRequests, error) {
	var payload friendRequestsResponse
	if err := c.do(ctx, "list friend requests", http.MethodGet, "/user/getFriendRequests", true, nil, &payload); err != nil {
		return domain.FriendRequests{}, err
	}
	return domain.FriendRequests{
		Pending:  records(payload.Pending, domain.RequestPending),
		Accepted: records(payload.Accepted, domain.RequestAccepted),
	}, nil
}

func (c *Client) SendFriendRequest(ctx context.Context, to domain.UserID) error {
	if strings.TrimSpace(string(to)) == "" {
		return errors.New("receiver id is required")
	}
	path := "/user/addfriend/" + url.PathEscape(string(to))
	return c.do(ctx, "send friend request", http.MethodPost, path, true, nil, nil)
}

func (c *Client) AcceptFriendRequest(ctx context.Context, from domain.UserID) error {
	if strings.TrimSpace(string(from)) == "" {
		return errors.New("sender id is required")
	}
	path := "/user/acceptfriend/" + url.PathEscape(string(from)) + "/accept"
	return c.do(ctx, "accept friend request", http.MethodPut, path, true, nil, nil)
}

func (c *Client) StreamToken(ctx context.Context) (string, error) {
	var payload tokenResponse
	if err := c.do(ctx, "get stream token", http.MethodGet, "/chat/token", true, nil, &payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", &domain.NetworkError{Op: "get stream token", Err: errors.New("response missing token")}
	}
	return payload.Token, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, authed bool, body any, out any) error {
	endpoint, err := buildAPIURL(c.BaseURL, path)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if err := c.authorize(ctx, req); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &domain.NetworkError{Op: op, Status: resp.StatusCode, Err: decodeError(resp)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return &domain.NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.Tokens == nil {
		return nil
	}
	token, err := c.Tokens.Token(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bearer token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeError(resp *http.Response) error {
	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil || payload.Message == "" {
		return errors.New(http.StatusText(resp.StatusCode))
	}
	return errors.New(payload.Message)
}

// buildAPIURL appends path to the base URL's own path, so a base of
// https://host/api and a path of /user/friends give https://host/api/user/friends.
func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	return strings.TrimRight(parsed.String(), "/") + "/" + strings.TrimLeft(path, "/"), nil
}

func (u *userPayload) identity() domain.Identity {
	if u == nil {
		return domain.Identity{}
	}
	return domain.Identity{
		ID:          domain.UserID(u.ID),
		DisplayName: u.FullName,
		Email:       u.Email,
		AvatarURL:   u.ProfilePicture,
		Bio:         u.Bio,
		Location:    u.Location,
		Onboarded:   u.IsOnboarded,
	}
}

func (u *userPayload) summary() domain.UserSummary {
	if u == nil {
		return domain.UserSummary{}
	}
	return domain.UserSummary{
		ID:        domain.UserID(u.ID),
		FullName:  u.FullName,
		AvatarURL: u.ProfilePicture,
		Bio:       u.Bio,
		Location:  u.Location,
	}
}

func summaries(payload []userPayload) []domain.UserSummary {
	out := make([]domain.UserSummary, 0, len(payload))
	for i := range payload {
		out = append(out, payload[i].summary())
	}
	return out
}

func records(payload []requestRecord, direction domain.RequestDirection) []domain.FriendRequestRecord {
	out := make([]domain.FriendRequestRecord, 0, len(payload))
	for _, rec := range payload {
		out = append(out, domain.FriendRequestRecord{
			ID:        rec.ID,
			Sender:    rec.Sender.summary(),
			Direction: direction,
		})
	}
	return out
}
