package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
)

// VideoConnector joins a default call, holding a camera and microphone grant
// for as long as the link lives.
type VideoConnector struct {
	transport ports.VideoTransport
	media     ports.MediaDevices
}

func NewVideoConnector(transport ports.VideoTransport, media ports.MediaDevices) *VideoConnector {
	return &VideoConnector{transport: transport, media: media}
}

func (c *VideoConnector) Feature() domain.Feature { return domain.FeatureVideo }

func (c *VideoConnector) Connect(ctx context.Context, identity domain.Identity, token string, resource Resource) (Link, error) {
	grant, err := c.media.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire media devices: %w", err)
	}

	success := false
	defer func() {
		if !success {
			grant.Release()
		}
	}()

	client, err := c.transport.Connect(ctx, ports.VideoUser{
		ID:        identity.ID,
		Name:      identity.DisplayName,
		AvatarURL: identity.AvatarURL,
	}, token)
	if err != nil {
		return nil, fmt.Errorf("connect video user: %w", err)
	}
	defer func() {
		if !success {
			_ = client.Disconnect(context.Background())
		}
	}()

	call := client.Call(domain.VideoCallDefault, resource.ID)
	if err := call.Join(ctx, ports.JoinOptions{Create: true}); err != nil {
		return nil, fmt.Errorf("join call %s: %w", resource.ID, errors.Join(domain.ErrJoin, err))
	}

	success = true
	return newVideoLink(client, call, grant), nil
}

type videoLink struct {
	client ports.VideoClient
	call   ports.VideoCall
	grant  ports.MediaGrant
	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

func newVideoLink(client ports.VideoClient, call ports.VideoCall, grant ports.MediaGrant) *videoLink {
	l := &videoLink{
		client: client,
		call:   call,
		grant:  grant,
		events: make(chan Event, 8),
		stop:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.forward()
	return l
}

func (l *videoLink) forward() {
	defer l.wg.Done()
	defer close(l.events)
	states := l.call.States()
	for {
		select {
		case <-l.stop:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			select {
			case l.events <- Event{Kind: EventCallState, CallState: state}:
			case <-l.stop:
				return
			}
		}
	}
}

// Send is not supported on a call; side effects go through the chat session.
func (l *videoLink) Send(context.Context, string) error {
	return errors.New("video call does not accept messages")
}

func (l *videoLink) Events() <-chan Event { return l.events }

func (l *videoLink) Close(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		var errs []error
		if err := l.call.Leave(ctx); err != nil {
			errs = append(errs, fmt.Errorf("leave call: %w", err))
		}
		if err := l.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect video user: %w", err))
		}
		l.grant.Release()
		l.wg.Wait()
		l.err = errors.Join(errs...)
	})
	return l.err
}
