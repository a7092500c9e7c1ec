// Package natschat carries direct chat over a NATS server. Each channel is a
// subject; every watcher of the channel receives every message, including
// its own.
package natschat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const messageBuffer = 32

type Transport struct {
	URL    string
	Logger *slog.Logger
	Clock  ports.Clock
}

var _ ports.ChatTransport = (*Transport)(nil)

type wireMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject returns the subject a channel's messages travel on.
func Subject(channelType, channelID string) string {
	return "chat." + sanitize(channelType) + "." + sanitize(channelID)
}

// sanitize keeps a token from introducing extra subject levels or wildcards.
func sanitize(token string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(token)
}

func (t *Transport) Connect(ctx context.Context, user ports.ChatUser, token string) (ports.ChatConn, error) {
	if token == "" {
		return nil, errors.New("chat token is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := t.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}

	nc, err := nats.Connect(t.URL,
		nats.Name("hz-"+string(user.ID)),
		nats.Token(token),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	success := false
	defer func() {
		if !success {
			nc.Close()
		}
	}()

	if err := nc.FlushWithContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	success = true
	return &conn{nc: nc, user: user, logger: logger, clock: clock}, nil
}

type conn struct {
	nc     *nats.Conn
	user   ports.ChatUser
	logger *slog.Logger
	clock  ports.Clock
}

func (c *conn) Channel(ctx context.Context, channelType, channelID string, _ []domain.UserID) (ports.ChatChannel, error) {
	subject := Subject(channelType, channelID)
	raw := make(chan *nats.Msg, messageBuffer)
	sub, err := c.nc.ChanSubscribe(subject, raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	success := false
	defer func() {
		if !success {
			_ = sub.Unsubscribe()
		}
	}()

	// The subscription is only live on the server once a round trip has
	// completed.
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	success = true
	ch := &channel{
		conn:     c,
		id:       channelID,
		subject:  subject,
		sub:      sub,
		messages: make(chan ports.ChatMessage, messageBuffer),
		stop:     make(chan struct{}),
	}
	go ch.decode(raw)
	return ch, nil
}

func (c *conn) Disconnect(context.Context) error {
	if c.nc.IsClosed() {
		return nil
	}
	if err := c.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

type channel struct {
	conn     *conn
	id       string
	subject  string
	sub      *nats.Subscription
	messages chan ports.ChatMessage
	stop     chan struct{}
	once     sync.Once
}

func (ch *channel) ID() string { return ch.id }

func (ch *channel) Messages() <-chan ports.ChatMessage { return ch.messages }

func (ch *channel) Send(ctx context.Context, text string) (ports.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ports.ChatMessage{}, err
	}
	msg := wireMessage{
		ID:        uuid.NewString(),
		ChannelID: ch.id,
		UserID:    string(ch.conn.user.ID),
		Text:      text,
		CreatedAt: ch.conn.clock.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return ports.ChatMessage{}, fmt.Errorf("encode message: %w", err)
	}
	if err := ch.conn.nc.Publish(ch.subject, data); err != nil {
		return ports.ChatMessage{}, fmt.Errorf("publish to %s: %w", ch.subject, err)
	}
	if err := ch.conn.nc.FlushWithContext(ctx); err != nil {
		return ports.ChatMessage{}, fmt.Errorf("publish to %s: %w", ch.subject, err)
	}
	return msg.message(), nil
}

func (ch *channel) StopWatching(context.Context) error {
	var err error
	ch.once.Do(func() {
		close(ch.stop)
		if unsubErr := ch.sub.Unsubscribe(); unsubErr != nil &&
			!errors.Is(unsubErr, nats.ErrConnectionClosed) &&
			!errors.Is(unsubErr, nats.ErrBadSubscription) {
			err = fmt.Errorf("unsubscribe %s: %w", ch.subject, unsubErr)
		}
	})
	return err
}

func (ch *channel) decode(raw <-chan *nats.Msg) {
	defer close(ch.messages)
	for {
		select {
		case <-ch.stop:
			return
		case m, ok := <-raw:
			if !ok {
				return
			}
			msg, err := decodeMessage(m.Data, ch.id)
			if err != nil {
				ch.conn.logger.Debug("dropping malformed chat message", "subject", ch.subject, "error", err)
				continue
			}
			select {
			case ch.messages <- msg:
			case <-ch.stop:
				return
			}
		}
	}
}

func decodeMessage(data []byte, channelID string) (ports.ChatMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return ports.ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}
	if wire.ChannelID == "" {
		wire.ChannelID = channelID
	}
	return wire.message(), nil
}

func (w wireMessage) message() ports.ChatMessage {
	return ports.ChatMessage{
		ID:        w.ID,
		ChannelID: w.ChannelID,
		UserID:    domain.UserID(w.UserID),
		Text:      w.Text,
		CreatedAt: w.CreatedAt,
	}
}
