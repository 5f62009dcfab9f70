package session

import "strings"

// Role is the privilege level of a session
type Role string

// Supported roles
const (
	RoleAdministrator Role = "administrator"
	RoleMentor        Role = "mentor"
	RoleStudent       Role = "student"
)

// ParseRole normalize a stored role string. Unrecognized values get the least
// privileged role.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin", "administrator":
		return RoleAdministrator
	case "mentor":
		return RoleMentor
	default:
		return RoleStudent
	}
}

// Valid whether the role is one of the supported roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleMentor, RoleStudent:
		return true
	default:
		return false
	}
}

// OneOf whether the role is among the allowed roles
func (r Role) OneOf(allowed ...Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}
