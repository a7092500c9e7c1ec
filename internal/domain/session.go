package domain

type Feature string

const (
	FeatureChat  Feature = "chat"
	FeatureVideo Feature = "video"
)

type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionConnecting SessionStatus = "connecting"
	SessionReady      SessionStatus = "ready"
	SessionFailed     SessionStatus = "failed"
	SessionClosed     SessionStatus = "closed"
)

// CanTransition reports whether a session may move from s to next.
// closed is terminal; failed and ready may only close.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionIdle:
		return next == SessionConnecting || next == SessionClosed
	case SessionConnecting:
		return next == SessionReady || next == SessionFailed || next == SessionClosed
	case SessionReady, SessionFailed:
		return next == SessionClosed
	default:
		return false
	}
}

type CallingState string

const (
	CallingJoining      CallingState = "joining"
	CallingJoined       CallingState = "joined"
	CallingReconnecting CallingState = "reconnecting"
	CallingLeft         CallingState = "left"
)

const (
	ChatChannelMessaging = "messaging"
	VideoCallDefault     = "default"
)
