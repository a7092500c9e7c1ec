package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
)

// ChatConnector opens a watched messaging channel for a direct conversation.
type ChatConnector struct {
	transport ports.ChatTransport
}

func NewChatConnector(transport ports.ChatTransport) *ChatConnector {
	return &ChatConnector{transport: transport}
}

func (c *ChatConnector) Feature() domain.Feature { return domain.FeatureChat }

func (c *ChatConnector) Connect(ctx context.Context, identity domain.Identity, token string, resource Resource) (Link, error) {
	conn, err := c.transport.Connect(ctx, ports.ChatUser{
		ID:        identity.ID,
		Name:      identity.DisplayName,
		AvatarURL: identity.AvatarURL,
	}, token)
	if err != nil {
		return nil, fmt.Errorf("connect chat user: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = conn.Disconnect(context.Background())
		}
	}()

	channel, err := conn.Channel(ctx, domain.ChatChannelMessaging, resource.ID, resource.Members)
	if err != nil {
		return nil, fmt.Errorf("watch channel %s: %w", resource.ID, errors.Join(domain.ErrJoin, err))
	}

	success = true
	return newChatLink(conn, channel), nil
}

type chatLink struct {
	conn    ports.ChatConn
	channel ports.ChatChannel
	events  chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	err     error
}

func newChatLink(conn ports.ChatConn, channel ports.ChatChannel) *chatLink {
	l := &chatLink{
		conn:    conn,
		channel: channel,
		events:  make(chan Event, 16),
		stop:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.forward()
	return l
}

func (l *chatLink) forward() {
	defer l.wg.Done()
	defer close(l.events)
	messages := l.channel.Messages()
	for {
		select {
		case <-l.stop:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case l.events <- Event{Kind: EventMessage, Message: msg}:
			case <-l.stop:
				return
			}
		}
	}
}

func (l *chatLink) Send(ctx context.Context, text string) error {
	if _, err := l.channel.Send(ctx, text); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

func (l *chatLink) Events() <-chan Event { return l.events }

func (l *chatLink) Close(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		var errs []error
		if err := l.channel.StopWatching(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop watching channel: %w", err))
		}
		if err := l.conn.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect chat user: %w", err))
		}
		l.wg.Wait()
		l.err = errors.Join(errs...)
	})
	return l.err
}
