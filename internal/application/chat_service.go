package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/realtime"
)

var (
	ChatSlot  = realtime.Slot{Feature: domain.FeatureChat, Name: "chat"}
	VideoSlot = realtime.Slot{Feature: domain.FeatureVideo, Name: "call"}
)

// CallInvite is the message posted into a chat when a call is started.
func CallInvite(origin, channelID string) string {
	return "📞 I have started a video call. Join here:\n" + CallLink(origin, channelID)
}

func CallLink(origin, channelID string) string {
	return strings.TrimRight(origin, "/") + "/call/" + channelID
}

type ChatService struct {
	rt     *Runtime
	auth   *AuthService
	origin string
}

func NewChatService(rt *Runtime, auth *AuthService, origin string) *ChatService {
	return &ChatService{rt: rt, auth: auth, origin: origin}
}

// OpenChat opens the direct conversation with target in the chat slot,
// replacing whatever conversation was open there.
func (s *ChatService) OpenChat(ctx context.Context, target domain.UserID) (*realtime.Session, error) {
	if strings.TrimSpace(string(target)) == "" {
		return nil, errors.New("open chat: user id is required")
	}
	me, err := s.auth.RequireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if me.ID == target {
		return nil, errors.New("open chat: cannot chat with yourself")
	}

	resource := realtime.Resource{
		ID:      domain.DirectChannelID(me.ID, target),
		Members: []domain.UserID{me.ID, target},
	}
	sess, err := s.rt.Sessions.Open(ctx, ChatSlot, me, resource)
	if err != nil {
		return nil, fmt.Errorf("open chat with %s: %w", target, err)
	}
	return sess, nil
}

func (s *ChatService) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("send message: text is empty")
	}
	sess, ok := s.rt.Sessions.Current(ChatSlot)
	if !ok {
		return fmt.Errorf("send message: %w", domain.ErrNotReady)
	}
	return s.rt.Sessions.Send(ctx, sess, text)
}

// StartCall announces a call in the open chat and returns the link others
// join with. The chat session must be ready.
func (s *ChatService) StartCall(ctx context.Context) (string, error) {
	sess, ok := s.rt.Sessions.Current(ChatSlot)
	if !ok {
		return "", fmt.Errorf("start call: %w", domain.ErrNotReady)
	}
	channelID := sess.Resource.ID
	if err := s.rt.Sessions.Send(ctx, sess, CallInvite(s.origin, channelID)); err != nil {
		return "", fmt.Errorf("start call: %w", err)
	}
	return CallLink(s.origin, channelID), nil
}

// JoinCall opens the call slot for callID, creating the call when needed.
func (s *ChatService) JoinCall(ctx context.Context, callID string) (*realtime.Session, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, errors.New("join call: call id is required")
	}
	me, err := s.auth.RequireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := s.rt.Sessions.Open(ctx, VideoSlot, me, realtime.Resource{ID: callID})
	if err != nil {
		return nil, fmt.Errorf("join call %s: %w", callID, err)
	}
	return sess, nil
}

func (s *ChatService) Leave(ctx context.Context, slot realtime.Slot) error {
	return s.rt.Sessions.Close(ctx, slot)
}
