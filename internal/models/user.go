package models

import "github.com/google/uuid"

// Role is the platform role carried in the session token.
type Role string

const (
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
	RoleMentor  Role = "mentor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleParent, RoleMentor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller as supplied by the session guard.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}
