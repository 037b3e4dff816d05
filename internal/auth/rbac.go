package auth

import "strings"

type Role string

const (
	// RoleAdmin can do everything, including refund decisions.
	RoleAdmin Role = "admin"
	// RoleOrganizer manages a subset of events: status overrides, check-in,
	// round progression, refund decisions.
	RoleOrganizer Role = "organizer"
	// RoleParticipant is a registered user acting on their own
	// registrations and teams.
	RoleParticipant Role = "participant"
)

func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RoleAdmin):
		return RoleAdmin
	case string(RoleOrganizer):
		return RoleOrganizer
	default:
		return RoleParticipant
	}
}

func HasRole(role string, allowed ...Role) bool {
	if len(allowed) == 0 {
		return false
	}
	current := NormalizeRole(role)
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role may perform organizer-level operations.
func IsStaff(role string) bool {
	normalized := NormalizeRole(role)
	return normalized == RoleAdmin || normalized == RoleOrganizer
}
