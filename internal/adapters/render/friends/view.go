package friends

import (
	"fmt"
	"strings"

	"github.com/bnema/homiez-cli/internal/application"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

func Friends(friends []domain.UserSummary) (string, error) {
	return render(func(s styles) string {
		return friendsSection(friends, s)
	})
}

func Dashboard(d application.Dashboard) (string, error) {
	return render(func(s styles) string {
		lines := []string{
			friendsSection(d.Friends, s),
			s.section.Render(recommendedSection(d.Recommended, s)),
		}
		if d.Stale {
			lines = append(lines, s.section.Render(s.warning.Render("[stale] some lists could not be refreshed")))
		}
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	})
}

func Requests(r domain.FriendRequests) (string, error) {
	return render(func(s styles) string {
		lines := []string{
			s.title.Render("Friend Requests"),
			s.header.Render(fmt.Sprintf("pending: %d  accepted: %d", len(r.Pending), len(r.Accepted))),
		}
		if len(r.Pending) == 0 && len(r.Accepted) == 0 {
			lines = append(lines, s.empty.Render("No friend requests."))
			return lipgloss.JoinVertical(lipgloss.Left, lines...)
		}
		for _, rec := range r.Pending {
			lines = append(lines, requestLine(rec, s.pending.Render("[pending]"), s))
		}
		for _, rec := range r.Accepted {
			lines = append(lines, requestLine(rec, s.accepted.Render("[accepted]"), s))
		}
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	})
}

func Profile(identity domain.Identity) (string, error) {
	return render(func(s styles) string {
		if identity.IsZero() {
			return s.empty.Render("Not logged in.")
		}
		lines := []string{
			s.name.Render(displayName(identity.DisplayName, identity.ID)),
			s.detail.Render("id: " + string(identity.ID)),
		}
		if identity.Email != "" {
			lines = append(lines, s.detail.Render("email: "+identity.Email))
		}
		if identity.Location != "" {
			lines = append(lines, s.detail.Render("location: "+identity.Location))
		}
		if !identity.Onboarded {
			lines = append(lines, s.warning.Render("onboarding incomplete: run `hz onboard`"))
		}
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	})
}

func friendsSection(friends []domain.UserSummary, s styles) string {
	lines := []string{
		s.title.Render("Your Friends"),
		s.header.Render(fmt.Sprintf("friends: %d", len(friends))),
	}
	if len(friends) == 0 {
		lines = append(lines, s.empty.Render("No friends yet. Try `hz home` for suggestions."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, f := range friends {
		lines = append(lines, userLine(f, "", s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func recommendedSection(recs []domain.Recommendation, s styles) string {
	lines := []string{
		s.title.Render("Meet New People"),
		s.header.Render(fmt.Sprintf("suggestions: %d", len(recs))),
	}
	if len(recs) == 0 {
		lines = append(lines, s.empty.Render("No recommendations available."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, rec := range recs {
		badge := ""
		if rec.RequestSent {
			badge = s.faint.Render("[request sent]")
		}
		lines = append(lines, userLine(rec.User, badge, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func requestLine(rec domain.FriendRequestRecord, badge string, s styles) string {
	return userLine(rec.Sender, badge, s)
}

func userLine(u domain.UserSummary, badge string, s styles) string {
	parts := []string{s.name.Render(displayName(u.FullName, u.ID)), s.faint.Render("(" + string(u.ID) + ")")}
	if loc := strings.TrimSpace(u.Location); loc != "" {
		parts = append(parts, s.detail.Render(loc))
	}
	if badge != "" {
		parts = append(parts, badge)
	}
	return strings.Join(parts, " ")
}

func displayName(name string, id domain.UserID) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return string(id)
}
