package domain

// Role is the closed set of connection roles. Only referees may submit
// mutating commands.
type Role string

const (
	RoleReferee Role = "referee"
	RoleViewer  Role = "viewer"
)

// ParseRole maps an untrusted role string to a Role, defaulting to viewer.
func ParseRole(s string) Role {
	if s == string(RoleReferee) {
		return RoleReferee
	}
	return RoleViewer
}

// CanSend is the pure authorization function over (role, message type).
// Heartbeats are allowed for every role; control commands require referee.
func (r Role) CanSend(messageType string) bool {
	switch messageType {
	case MessagePing, MessagePong:
		return true
	case MessageScoreUpdate, MessageStateUpdate, MessageTimerUpdate:
		return r == RoleReferee
	}
	return false
}

// Identity is the already-validated identity supplied by the external
// authentication collaborator.
type Identity struct {
	UserID string
	Name   string
	Role   Role
}
