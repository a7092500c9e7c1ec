package domain

import (
	"slices"
	"sort"
	"strings"
)

type UserSummary struct {
	ID        UserID
	FullName  string
	AvatarURL string
	Bio       string
	Location  string
}

type RequestDirection string

const (
	RequestPending  RequestDirection = "pending"
	RequestAccepted RequestDirection = "accepted"
)

type FriendRequestRecord struct {
	ID        string
	Sender    UserSummary
	Direction RequestDirection
}

// FriendRequests holds the two ordered collections a request moves between.
// Methods return copies; the receiver is never modified so a cached value can
// be handed out and later restored verbatim.
type FriendRequests struct {
	Pending  []FriendRequestRecord
	Accepted []FriendRequestRecord
}

// AcceptedMove describes where an optimistic accept took a record from, so it
// can be put back in the same place.
type AcceptedMove struct {
	Record       FriendRequestRecord
	PendingIndex int
}

// Accept moves the first pending record sent by sender to the end of Accepted.
// ok is false when no pending record matches, in which case next equals r.
func (r FriendRequests) Accept(sender UserID) (next FriendRequests, move AcceptedMove, ok bool) {
	idx := slices.IndexFunc(r.Pending, func(rec FriendRequestRecord) bool {
		return rec.Sender.ID == sender
	})
	if idx < 0 {
		return r.Clone(), AcceptedMove{}, false
	}

	moved := r.Pending[idx]
	moved.Direction = RequestAccepted

	next = FriendRequests{
		Pending:  make([]FriendRequestRecord, 0, len(r.Pending)-1),
		Accepted: make([]FriendRequestRecord, 0, len(r.Accepted)+1),
	}
	next.Pending = append(next.Pending, r.Pending[:idx]...)
	next.Pending = append(next.Pending, r.Pending[idx+1:]...)
	next.Accepted = append(next.Accepted, r.Accepted...)
	next.Accepted = append(next.Accepted, moved)

	return next, AcceptedMove{Record: moved, PendingIndex: idx}, true
}

// Revert undoes a previous Accept: the record leaves Accepted and is put back
// into Pending at its former index (clamped to the current length). A record
// that is already pending is not added again, so reverting onto a value the
// server has since replaced never duplicates it.
func (r FriendRequests) Revert(move AcceptedMove) FriendRequests {
	next := FriendRequests{
		Pending:  make([]FriendRequestRecord, 0, len(r.Pending)+1),
		Accepted: make([]FriendRequestRecord, 0, len(r.Accepted)),
	}

	removed := false
	for i := len(r.Accepted) - 1; i >= 0; i-- {
		if !removed && r.Accepted[i].ID == move.Record.ID && r.Accepted[i].Sender.ID == move.Record.Sender.ID {
			removed = true
			continue
		}
		next.Accepted = append(next.Accepted, r.Accepted[i])
	}
	slices.Reverse(next.Accepted)

	if r.hasPendingRecord(move.Record) {
		next.Pending = append(next.Pending, r.Pending...)
		return next
	}

	restored := move.Record
	restored.Direction = RequestPending

	idx := move.PendingIndex
	if idx < 0 || idx > len(r.Pending) {
		idx = len(r.Pending)
	}
	next.Pending = append(next.Pending, r.Pending[:idx]...)
	next.Pending = append(next.Pending, restored)
	next.Pending = append(next.Pending, r.Pending[idx:]...)

	return next
}

func (r FriendRequests) Clone() FriendRequests {
	return FriendRequests{
		Pending:  slices.Clone(r.Pending),
		Accepted: slices.Clone(r.Accepted),
	}
}

func (r FriendRequests) hasPendingRecord(rec FriendRequestRecord) bool {
	return slices.ContainsFunc(r.Pending, func(p FriendRequestRecord) bool {
		return p.ID == rec.ID && p.Sender.ID == rec.Sender.ID
	})
}

func (r FriendRequests) HasPendingFrom(sender UserID) bool {
	return slices.ContainsFunc(r.Pending, func(rec FriendRequestRecord) bool {
		return rec.Sender.ID == sender
	})
}

type OutgoingRequest struct {
	ID       string
	Receiver UserSummary
}

// Recommendation is a suggested user annotated with whether a request to them
// is already on its way.
type Recommendation struct {
	User        UserSummary
	RequestSent bool
}

func Recommend(users []UserSummary, outgoing []OutgoingRequest) []Recommendation {
	sent := make(map[UserID]struct{}, len(outgoing))
	for _, req := range outgoing {
		sent[req.Receiver.ID] = struct{}{}
	}

	out := make([]Recommendation, 0, len(users))
	for _, user := range users {
		_, ok := sent[user.ID]
		out = append(out, Recommendation{User: user, RequestSent: ok})
	}
	return out
}

// DirectChannelID is the channel id shared by exactly two members, independent
// of who opens it.
func DirectChannelID(a, b UserID) string {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}
