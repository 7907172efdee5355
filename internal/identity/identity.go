package identity

import (
	"errors"

	"github.com/google/uuid"
)

var ErrPermissionDenied = errors.New("actor role does not allow this operation")

// Role is the caller's role as asserted by the surrounding session layer.
type Role string

const (
	RoleClinicAdmin Role = "clinic_admin"
	RoleProvider    Role = "provider"
	RolePatient     Role = "patient"
	// RoleSystem is used by internal workers such as the no-show sweeper.
	RoleSystem Role = "system"
)

// Actor identifies who is performing an operation. It is supplied explicitly by
// the caller on every call; the core never reads it from ambient state.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Permission names one core operation for capability checks.
type Permission string

const (
	PermBookAppointment    Permission = "appointment:book"
	PermTransitionAppt     Permission = "appointment:transition"
	PermRescheduleAppt     Permission = "appointment:reschedule"
	PermCancelAppt         Permission = "appointment:cancel"
	PermViewSlots          Permission = "schedule:view"
	PermStartEncounter     Permission = "consultation:start"
	PermEditConsultation   Permission = "consultation:edit"
	PermCompleteEncounter  Permission = "consultation:complete"
	PermCancelConsultation Permission = "consultation:cancel"
)

// rolePermissions is the single capability table for the whole core. Call sites
// never carry their own role checks.
var rolePermissions = map[Role]map[Permission]bool{
	RoleClinicAdmin: {
		PermBookAppointment: true,
		PermTransitionAppt:  true,
		PermRescheduleAppt:  true,
		PermCancelAppt:      true,
		PermViewSlots:       true,
	},
	RoleProvider: {
		PermBookAppointment:    true,
		PermTransitionAppt:     true,
		PermRescheduleAppt:     true,
		PermCancelAppt:         true,
		PermViewSlots:          true,
		PermStartEncounter:     true,
		PermEditConsultation:   true,
		PermCompleteEncounter:  true,
		PermCancelConsultation: true,
	},
	RolePatient: {
		PermBookAppointment: true,
		PermCancelAppt:      true,
		PermViewSlots:       true,
	},
	RoleSystem: {
		PermTransitionAppt: true,
	},
}

// Can reports whether the actor's role grants the permission.
func (a Actor) Can(p Permission) bool {
	perms, ok := rolePermissions[a.Role]
	if !ok {
		return false
	}
	return perms[p]
}

// Require returns ErrPermissionDenied when the actor lacks the permission.
func (a Actor) Require(p Permission) error {
	if !a.Can(p) {
		return ErrPermissionDenied
	}
	return nil
}

// ParseRole validates a role string from a request header.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleClinicAdmin, RoleProvider, RolePatient, RoleSystem:
		return Role(s), true
	}
	return "", false
}
