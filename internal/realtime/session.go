package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
)

// Slot is a logical place for at most one live session, e.g. "the chat of
// the current view".
type Slot struct {
	Feature domain.Feature
	Name    string
}

func (s Slot) String() string { return fmt.Sprintf("%s/%s", s.Feature, s.Name) }

// Session is one instance bound to a (identity, resource) pair. A closed
// session is never reused.
type Session struct {
	ID         string
	Slot       Slot
	Resource   Resource
	IdentityID domain.UserID
	OpenedAt   time.Time

	mu     sync.Mutex
	status domain.SessionStatus
	err    error
	link   Link
}

func newSession(id string, slot Slot, identity domain.UserID, resource Resource, now time.Time) *Session {
	return &Session{
		ID:         id,
		Slot:       slot,
		Resource:   resource,
		IdentityID: identity,
		OpenedAt:   now,
		status:     domain.SessionIdle,
	}
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err is the failure that moved the session to failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Events streams transport events while the session is ready. It returns nil
// for sessions that never became ready.
func (s *Session) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	return s.link.Events()
}

func (s *Session) transition(next domain.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Session) transitionLocked(next domain.SessionStatus) bool {
	if !s.status.CanTransition(next) {
		return false
	}
	s.status = next
	return true
}

func (s *Session) markReady(link Link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transitionLocked(domain.SessionReady) {
		return false
	}
	s.link = link
	return true
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionLocked(domain.SessionFailed) {
		s.err = err
	}
}

// close moves the session to closed and hands back the link to release.
// Only the first call gets the link.
func (s *Session) close() (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transitionLocked(domain.SessionClosed) {
		return nil, false
	}
	link := s.link
	s.link = nil
	return link, true
}

func (s *Session) send(ctx context.Context, text string) error {
	s.mu.Lock()
	status, link := s.status, s.link
	s.mu.Unlock()

	if status != domain.SessionReady || link == nil {
		return domain.NewSessionError(domain.ErrNotReady, s.Slot.Feature, s.Resource.ID, fmt.Errorf("status %s", status))
	}
	return link.Send(ctx, text)
}
