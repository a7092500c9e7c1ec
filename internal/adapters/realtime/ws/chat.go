package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/gorilla/websocket"
)

const messageBuffer = 32

// ChatTransport connects chat users over the realtime websocket API.
type ChatTransport struct {
	URL    string
	APIKey string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

var _ ports.ChatTransport = (*ChatTransport)(nil)

type userParams struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

type channelParams struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Members []string `json:"members,omitempty"`
}

type sendParams struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

type messagePayload struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *ChatTransport) Connect(ctx context.Context, user ports.ChatUser, token string) (ports.ChatConn, error) {
	if token == "" {
		return nil, errors.New("chat token is required")
	}
	rpc, err := dial(ctx, dialConfig{
		url:    t.URL,
		apiKey: t.APIKey,
		token:  token,
		dialer: t.Dialer,
		logger: t.Logger,
	}, userParams{ID: string(user.ID), Name: user.Name, Image: user.AvatarURL})
	if err != nil {
		return nil, fmt.Errorf("connect chat: %w", err)
	}
	return &chatConn{rpc: rpc}, nil
}

type chatConn struct {
	rpc *conn
}

func channelTopic(channelType, channelID string) string {
	return "channel:" + channelType + ":" + channelID
}

func (c *chatConn) Channel(ctx context.Context, channelType, channelID string, members []domain.UserID) (ports.ChatChannel, error) {
	topic := channelTopic(channelType, channelID)
	events, err := c.rpc.subscribe(topic, messageBuffer)
	if err != nil {
		return nil, fmt.Errorf("watch channel %s: %w", channelID, err)
	}

	success := false
	defer func() {
		if !success {
			c.rpc.unsubscribe(topic)
		}
	}()

	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, string(m))
	}
	params := channelParams{Type: channelType, ID: channelID, Members: memberIDs}
	if err := c.rpc.call(ctx, "channel.watch", params, nil); err != nil {
		return nil, fmt.Errorf("watch channel %s: %w", channelID, err)
	}

	success = true
	ch := &chatChannel{
		rpc:         c.rpc,
		channelType: channelType,
		id:          channelID,
		topic:       topic,
		messages:    make(chan ports.ChatMessage, messageBuffer),
		stop:        make(chan struct{}),
	}
	go ch.decode(events)
	return ch, nil
}

func (c *chatConn) Disconnect(context.Context) error {
	if err := c.rpc.close(); err != nil {
		return fmt.Errorf("disconnect chat: %w", err)
	}
	return nil
}

type chatChannel struct {
	rpc         *conn
	channelType string
	id          string
	topic       string
	messages    chan ports.ChatMessage
	stop        chan struct{}
	once        sync.Once
}

func (ch *chatChannel) ID() string { return ch.id }

func (ch *chatChannel) Messages() <-chan ports.ChatMessage { return ch.messages }

func (ch *chatChannel) Send(ctx context.Context, text string) (ports.ChatMessage, error) {
	var out messagePayload
	if err := ch.rpc.call(ctx, "message.send", sendParams{Type: ch.channelType, ID: ch.id, Text: text}, &out); err != nil {
		return ports.ChatMessage{}, fmt.Errorf("send message to %s: %w", ch.id, err)
	}
	return out.message(ch.id), nil
}

// StopWatching stops delivery and tells the service. The remote call is
// skipped once the connection is gone.
func (ch *chatChannel) StopWatching(ctx context.Context) error {
	var err error
	ch.once.Do(func() {
		ch.rpc.unsubscribe(ch.topic)
		close(ch.stop)
		if ch.rpc.isDone() {
			return
		}
		if callErr := ch.rpc.call(ctx, "channel.stop", channelParams{Type: ch.channelType, ID: ch.id}, nil); callErr != nil && !errors.Is(callErr, ErrClosed) {
			err = fmt.Errorf("stop watching %s: %w", ch.id, callErr)
		}
	})
	return err
}

func (ch *chatChannel) decode(events <-chan json.RawMessage) {
	defer close(ch.messages)
	for {
		select {
		case <-ch.stop:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			var payload messagePayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				ch.rpc.logger.Debug("dropping malformed chat message", "channel", ch.id, "error", err)
				continue
			}
			select {
			case ch.messages <- payload.message(ch.id):
			case <-ch.stop:
				return
			}
		}
	}
}

func (p messagePayload) message(channelID string) ports.ChatMessage {
	if p.ChannelID != "" {
		channelID = p.ChannelID
	}
	return ports.ChatMessage{
		ID:        p.ID,
		ChannelID: channelID,
		UserID:    domain.UserID(p.UserID),
		Text:      p.Text,
		CreatedAt: p.CreatedAt,
	}
}
