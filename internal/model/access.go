package model

import (
	"math"

	"github.com/google/uuid"
)

// Level is a coarse privilege rank derived from a role's priority.
// Lower values are more privileged.
type Level int

const (
	LevelSuperAdmin Level = 0
	LevelAdmin      Level = 1
	LevelMember     Level = 2
	LevelUnassigned Level = math.MaxInt32
)

// LevelFromPriority maps a role priority onto a Level. A missing or negative
// priority yields LevelUnassigned.
func LevelFromPriority(priority *int) Level {
	switch {
	case priority == nil || *priority < 0:
		return LevelUnassigned
	case *priority == 0:
		return LevelSuperAdmin
	case *priority == 1:
		return LevelAdmin
	default:
		return LevelMember
	}
}

// AtLeast reports whether l is as privileged as required.
func (l Level) AtLeast(required Level) bool {
	return l != LevelUnassigned && l <= required
}

func (l Level) String() string {
	switch l {
	case LevelSuperAdmin:
		return "super_admin"
	case LevelAdmin:
		return "admin"
	case LevelMember:
		return "member"
	default:
		return "unassigned"
	}
}

// Identity is the authenticated caller as resolved from the session.
// A nil *Identity means the request is unauthenticated.
type Identity struct {
	UserID   uuid.UUID
	RoleID   *uint
	Priority *int
}

// Level returns the caller's privilege level.
func (i *Identity) Level() Level {
	if i == nil || i.RoleID == nil {
		return LevelUnassigned
	}
	return LevelFromPriority(i.Priority)
}

// NewIdentity builds an Identity for a user row with its role preloaded.
func NewIdentity(u *User) *Identity {
	id := &Identity{UserID: u.ID, RoleID: u.RoleID}
	if u.Role != nil {
		p := u.Role.Priority
		id.Priority = &p
	}
	return id
}

// Gate selects how a Requirement is decided.
type Gate int

const (
	// GatePermission looks the resource/action pair up in the caller's role.
	GatePermission Gate = iota
	// GateAdmin admits admin-or-above without a permission lookup.
	GateAdmin
	// GateSuperAdmin admits only the super-admin without a permission lookup.
	GateSuperAdmin
)

func (g Gate) String() string {
	switch g {
	case GateAdmin:
		return "admin"
	case GateSuperAdmin:
		return "super_admin"
	default:
		return "permission"
	}
}

// Requirement describes what an operation demands from its caller.
type Requirement struct {
	Gate     Gate
	Resource string
	Action   string
}
