package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/gorilla/websocket"
)

// VideoTransport connects video users over the realtime websocket API.
type VideoTransport struct {
	URL    string
	APIKey string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

var _ ports.VideoTransport = (*VideoTransport)(nil)

type callParams struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Create bool   `json:"create,omitempty"`
}

type callStatePayload struct {
	State string `json:"state"`
}

func (t *VideoTransport) Connect(ctx context.Context, user ports.VideoUser, token string) (ports.VideoClient, error) {
	if token == "" {
		return nil, errors.New("video token is required")
	}
	rpc, err := dial(ctx, dialConfig{
		url:    t.URL,
		apiKey: t.APIKey,
		token:  token,
		dialer: t.Dialer,
		logger: t.Logger,
	}, userParams{ID: string(user.ID), Name: user.Name, Image: user.AvatarURL})
	if err != nil {
		return nil, fmt.Errorf("connect video: %w", err)
	}
	return &videoClient{rpc: rpc}, nil
}

type videoClient struct {
	rpc *conn
}

func (c *videoClient) Call(callType, callID string) ports.VideoCall {
	return &videoCall{
		rpc:      c.rpc,
		callType: callType,
		id:       callID,
		topic:    "call:" + callType + ":" + callID,
		states:   make(chan domain.CallingState, 8),
		stop:     make(chan struct{}),
	}
}

func (c *videoClient) Disconnect(context.Context) error {
	if err := c.rpc.close(); err != nil {
		return fmt.Errorf("disconnect video: %w", err)
	}
	return nil
}

type videoCall struct {
	rpc      *conn
	callType string
	id       string
	topic    string
	states   chan domain.CallingState
	stop     chan struct{}

	mu       sync.Mutex
	joined   bool
	stopOnce sync.Once
}

func (c *videoCall) ID() string { return c.id }

func (c *videoCall) States() <-chan domain.CallingState { return c.states }

func (c *videoCall) Join(ctx context.Context, opts ports.JoinOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined {
		return fmt.Errorf("join call %s: already joined", c.id)
	}

	events, err := c.rpc.subscribe(c.topic, cap(c.states))
	if err != nil {
		return fmt.Errorf("join call %s: %w", c.id, err)
	}
	if err := c.rpc.call(ctx, "call.join", callParams{Type: c.callType, ID: c.id, Create: opts.Create}, nil); err != nil {
		c.rpc.unsubscribe(c.topic)
		return fmt.Errorf("join call %s: %w", c.id, err)
	}

	c.joined = true
	go c.decode(events)
	return nil
}

// Leave ends participation. The remote call is skipped once the connection
// is gone or when the call was never joined.
func (c *videoCall) Leave(ctx context.Context) error {
	c.mu.Lock()
	joined := c.joined
	c.joined = false
	c.mu.Unlock()

	c.rpc.unsubscribe(c.topic)
	c.stopOnce.Do(func() { close(c.stop) })
	if !joined || c.rpc.isDone() {
		return nil
	}
	if err := c.rpc.call(ctx, "call.leave", callParams{Type: c.callType, ID: c.id}, nil); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("leave call %s: %w", c.id, err)
	}
	return nil
}

func (c *videoCall) decode(events <-chan json.RawMessage) {
	defer close(c.states)
	for {
		select {
		case <-c.stop:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			var payload callStatePayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				c.rpc.logger.Debug("dropping malformed call state", "call", c.id, "error", err)
				continue
			}
			select {
			case c.states <- domain.CallingState(payload.State):
			case <-c.stop:
				return
			}
		}
	}
}
