package auth

import "time"

// TopicSessionChanged carries SessionChange events from the identity service.
const TopicSessionChanged = "identity.session.changed.v1"

type SessionAction string

const (
	SessionSignedIn    SessionAction = "signed_in"
	SessionRefreshed   SessionAction = "refreshed"
	SessionSignedOut   SessionAction = "signed_out"
	SessionRoleChanged SessionAction = "role_changed"
)

// Ends reports whether access tokens of the session must stop working.
func (a SessionAction) Ends() bool {
	return a == SessionSignedOut || a == SessionRoleChanged
}

type SessionChange struct {
	SessionID  string        `json:"session_id"`
	UserID     string        `json:"user_id"`
	Role       Role          `json:"role"`
	Action     SessionAction `json:"action"`
	OccurredAt time.Time     `json:"occurred_at"`
}
